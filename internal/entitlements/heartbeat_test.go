package entitlements

import (
	"context"
	"io"
	"log"
	"testing"
	"time"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func collectBeats(t *testing.T, h *Heartbeat, n int) []Beat {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	beats := make(chan Beat, n)
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Run(ctx, func(b Beat) {
			select {
			case beats <- b:
			default:
				cancel()
			}
		})
	}()

	var got []Beat
	for len(got) < n {
		select {
		case b := <-beats:
			got = append(got, b)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d beats", len(got))
		}
	}
	cancel()
	<-done
	return got
}

func TestHeartbeat_AccruesPerTick(t *testing.T) {
	ledger := NewMemoryLedger(freeLimits(900, 600))
	h := &Heartbeat{
		Ledger:      ledger,
		Identity:    UserIdentity("u1"),
		ChatID:      "chat-1",
		SessionID:   "sess-1",
		Interval:    5 * time.Millisecond,
		TickSeconds: 5,
		Logger:      discardLogger(),
	}

	beats := collectBeats(t, h, 3)

	for i, b := range beats {
		wantSeq := int64(i + 1)
		if b.Seq != wantSeq {
			t.Errorf("beat %d seq = %d, want %d", i, b.Seq, wantSeq)
		}
		wantUsed := 5 * (i + 1)
		if b.Snapshot.DailySecondsUsed != wantUsed {
			t.Errorf("beat %d used = %d, want %d", i, b.Snapshot.DailySecondsUsed, wantUsed)
		}
		if b.Paywall || b.HardStop {
			t.Errorf("beat %d raised flags with budget remaining", i)
		}
	}

	snap, _ := ledger.Load(context.Background(), UserIdentity("u1"), "chat-1")
	if snap.DailySecondsUsed != 15 {
		t.Errorf("ledger used = %d, want 15", snap.DailySecondsUsed)
	}
}

func TestHeartbeat_PaywallStopsAccrual(t *testing.T) {
	// 895 of 900 seconds used: one tick fits, then the paywall rises and
	// usage must freeze.
	ledger := NewMemoryLedger(freeLimits(900, 0))
	ctx := context.Background()
	id := UserIdentity("u1")
	_ = ledger.Accrue(ctx, id, "warmup-chat", "warmup", 1, 895)

	h := &Heartbeat{
		Ledger:      ledger,
		Identity:    id,
		ChatID:      "chat-1",
		SessionID:   "sess-1",
		Interval:    5 * time.Millisecond,
		TickSeconds: 5,
		Logger:      discardLogger(),
	}

	beats := collectBeats(t, h, 4)

	if beats[0].Paywall {
		t.Error("first beat should still fit in the budget")
	}
	if beats[0].Snapshot.DailySecondsUsed != 900 {
		t.Errorf("first beat used = %d, want 900", beats[0].Snapshot.DailySecondsUsed)
	}
	for i, b := range beats[1:] {
		if !b.Paywall {
			t.Errorf("beat %d should raise paywall", i+1)
		}
	}

	// No accrual once the paywall is up: monotone but frozen at the cap.
	snap, _ := ledger.Load(ctx, id, "chat-1")
	if snap.DailySecondsUsed != 900 {
		t.Errorf("used = %d after paywall, want exactly 900", snap.DailySecondsUsed)
	}
}

func TestHeartbeat_HardStopOnChatCap(t *testing.T) {
	ledger := NewMemoryLedger(freeLimits(0, 10))
	h := &Heartbeat{
		Ledger:      ledger,
		Identity:    UserIdentity("u1"),
		ChatID:      "chat-1",
		SessionID:   "sess-1",
		Interval:    5 * time.Millisecond,
		TickSeconds: 5,
		Logger:      discardLogger(),
	}

	beats := collectBeats(t, h, 3)

	if beats[0].HardStop || beats[1].HardStop {
		t.Error("chat cap should not trip before it is reached")
	}
	if !beats[2].HardStop {
		t.Error("third beat should hard-stop at the chat cap")
	}
	if beats[2].Paywall {
		t.Error("unlimited daily budget should not paywall")
	}
}

func TestHeartbeat_ProNeverFlags(t *testing.T) {
	pro := func(ctx context.Context, id Identity) (Limits, error) {
		return Limits{Plan: PlanPro}, nil
	}
	ledger := NewMemoryLedger(pro)
	h := &Heartbeat{
		Ledger:      ledger,
		Identity:    UserIdentity("u-pro"),
		ChatID:      "chat-1",
		SessionID:   "sess-1",
		Interval:    5 * time.Millisecond,
		TickSeconds: 5,
		Logger:      discardLogger(),
	}

	for _, b := range collectBeats(t, h, 3) {
		if b.Paywall || b.HardStop {
			t.Errorf("pro beat %d raised flags: %+v", b.Seq, b)
		}
	}
}
