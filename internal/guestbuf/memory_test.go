package guestbuf

import (
	"context"
	"testing"
	"time"
)

func testEntry() Entry {
	return Entry{
		Messages: []Message{
			{Role: "user", Content: "hi, I'm thinking about changing jobs"},
			{Role: "assistant", Content: "That's a big step. What's pulling you away?"},
			{Role: "user", Content: "mostly the commute"},
		},
		Summary: "The user is considering a job change because of their commute.",
	}
}

func TestMemoryStore_PutTakeOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultTTL, DefaultSweepInterval)
	defer s.Close()

	if err := s.Put(ctx, "guest-1", testEntry()); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, err := s.Take(ctx, "guest-1")
	if err != nil {
		t.Fatalf("take: %v", err)
	}
	if entry == nil {
		t.Fatal("expected entry, got nil")
	}
	if len(entry.Messages) != 3 {
		t.Errorf("got %d messages, want 3", len(entry.Messages))
	}
	if entry.Messages[0].Content != "hi, I'm thinking about changing jobs" {
		t.Errorf("message order not preserved: %+v", entry.Messages)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped on Put")
	}

	// Second take returns nothing.
	entry, err = s.Take(ctx, "guest-1")
	if err != nil {
		t.Fatalf("second take: %v", err)
	}
	if entry != nil {
		t.Error("second Take should return nil")
	}
}

func TestMemoryStore_TakeMissIsNotAnError(t *testing.T) {
	s := NewMemoryStore(DefaultTTL, DefaultSweepInterval)
	defer s.Close()

	entry, err := s.Take(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("take miss: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil entry, got %+v", entry)
	}
}

func TestMemoryStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(DefaultTTL, DefaultSweepInterval)
	defer s.Close()

	first := testEntry()
	_ = s.Put(ctx, "guest-1", first)

	second := Entry{
		Messages: []Message{{Role: "user", Content: "actually, never mind"}},
		Summary:  "Short exchange.",
	}
	_ = s.Put(ctx, "guest-1", second)

	entry, _ := s.Take(ctx, "guest-1")
	if entry == nil || len(entry.Messages) != 1 {
		t.Fatalf("expected overwritten entry, got %+v", entry)
	}
	if entry.Summary != "Short exchange." {
		t.Errorf("summary = %q", entry.Summary)
	}
}

func TestMemoryStore_ExpiredEntryIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(30*time.Minute, time.Hour)
	defer s.Close()

	current := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	_ = s.Put(ctx, "guest-1", testEntry())

	// Just inside the TTL the entry is retrievable.
	current = current.Add(29 * time.Minute)
	if entry, _ := s.Take(ctx, "guest-1"); entry == nil {
		t.Fatal("entry should be retrievable within TTL")
	}

	// Past the TTL it is gone even before the sweep runs.
	_ = s.Put(ctx, "guest-2", testEntry())
	current = current.Add(31 * time.Minute)
	if entry, _ := s.Take(ctx, "guest-2"); entry != nil {
		t.Error("entry past TTL should be absent")
	}
}

func TestMemoryStore_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(30*time.Minute, time.Hour)
	defer s.Close()

	current := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	_ = s.Put(ctx, "stale", testEntry())
	current = current.Add(31 * time.Minute)
	_ = s.Put(ctx, "fresh", testEntry())

	s.sweep()

	s.mu.Lock()
	_, staleThere := s.entries["stale"]
	_, freshThere := s.entries["fresh"]
	s.mu.Unlock()

	if staleThere {
		t.Error("sweep should remove expired entries")
	}
	if !freshThere {
		t.Error("sweep should keep fresh entries")
	}
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore(DefaultTTL, DefaultSweepInterval)
	if err := s.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
