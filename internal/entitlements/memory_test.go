package entitlements

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryLedger_AccrueAndLoad(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(freeLimits(900, 600))
	id := UserIdentity("u1")

	snap, err := ledger.Load(ctx, id, "chat-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.DailySecondsUsed != 0 || snap.ChatSecondsElapsed != 0 {
		t.Errorf("fresh snapshot = %+v, want zero usage", snap)
	}

	if err := ledger.Accrue(ctx, id, "chat-1", "sess-1", 1, 5); err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if err := ledger.Accrue(ctx, id, "chat-1", "sess-1", 2, 5); err != nil {
		t.Fatalf("accrue: %v", err)
	}

	snap, _ = ledger.Load(ctx, id, "chat-1")
	if snap.DailySecondsUsed != 10 {
		t.Errorf("DailySecondsUsed = %d, want 10", snap.DailySecondsUsed)
	}
	if snap.ChatSecondsElapsed != 10 {
		t.Errorf("ChatSecondsElapsed = %d, want 10", snap.ChatSecondsElapsed)
	}
}

func TestMemoryLedger_TickIdempotency(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(freeLimits(900, 600))
	id := UserIdentity("u1")

	// Replay the same tick several times; only the first counts.
	for i := 0; i < 5; i++ {
		if err := ledger.Accrue(ctx, id, "chat-1", "sess-1", 7, 5); err != nil {
			t.Fatalf("accrue: %v", err)
		}
	}

	snap, _ := ledger.Load(ctx, id, "chat-1")
	if snap.DailySecondsUsed != 5 {
		t.Errorf("DailySecondsUsed = %d after replays, want 5", snap.DailySecondsUsed)
	}
}

func TestMemoryLedger_ConcurrentSessionsShareDailyBudget(t *testing.T) {
	// Two tabs: same identity, distinct sessions and chats.
	ctx := context.Background()
	ledger := NewMemoryLedger(freeLimits(900, 600))
	id := UserIdentity("u1")

	var wg sync.WaitGroup
	for _, sess := range []string{"sess-a", "sess-b"} {
		wg.Add(1)
		go func(sess string) {
			defer wg.Done()
			for seq := int64(1); seq <= 10; seq++ {
				_ = ledger.Accrue(ctx, id, "chat-"+sess, sess, seq, 5)
			}
		}(sess)
	}
	wg.Wait()

	snap, _ := ledger.Load(ctx, id, "chat-sess-a")
	if snap.DailySecondsUsed != 100 {
		t.Errorf("DailySecondsUsed = %d, want 100 (no lost updates)", snap.DailySecondsUsed)
	}
	if snap.ChatSecondsElapsed != 50 {
		t.Errorf("ChatSecondsElapsed = %d, want 50 (per-chat counter)", snap.ChatSecondsElapsed)
	}
}

func TestMemoryLedger_DayRollover(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(freeLimits(900, 600))
	id := GuestIdentity("g1")

	current := time.Date(2026, 8, 28, 23, 59, 50, 0, time.UTC)
	ledger.now = func() time.Time { return current }

	_ = ledger.Accrue(ctx, id, "chat-1", "sess-1", 1, 900)
	snap, _ := ledger.Load(ctx, id, "chat-1")
	if !snap.Paywalled() {
		t.Fatal("budget should be exhausted before rollover")
	}

	// Cross the UTC day boundary; the daily counter starts fresh.
	current = current.Add(time.Minute)
	snap, _ = ledger.Load(ctx, id, "chat-1")
	if snap.DailySecondsUsed != 0 {
		t.Errorf("DailySecondsUsed = %d after rollover, want 0", snap.DailySecondsUsed)
	}
	if snap.Paywalled() {
		t.Error("paywall should clear at the day boundary")
	}
	// The chat counter does not roll with the day.
	if snap.ChatSecondsElapsed != 900 {
		t.Errorf("ChatSecondsElapsed = %d, want 900", snap.ChatSecondsElapsed)
	}
}

func TestMemoryLedger_ForgetSession(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(freeLimits(900, 600))
	id := UserIdentity("u1")

	_ = ledger.Accrue(ctx, id, "chat-1", "sess-1", 1, 5)
	ledger.ForgetSession("sess-1")

	// Bookkeeping is gone but counters must be untouched.
	snap, _ := ledger.Load(ctx, id, "chat-1")
	if snap.DailySecondsUsed != 5 {
		t.Errorf("DailySecondsUsed = %d after ForgetSession, want 5", snap.DailySecondsUsed)
	}
}
