package guestbuf

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store with a periodic TTL sweep.
// Single-instance deployments only; behind a load balancer the guest
// may reconnect to a different instance, which needs the Redis store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

// NewMemoryStore creates an in-memory store and starts its sweep
// janitor. Zero ttl or sweepInterval fall back to the defaults.
func NewMemoryStore(ttl, sweepInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}

	s := &MemoryStore{
		entries: make(map[string]Entry),
		ttl:     ttl,
		done:    make(chan struct{}),
		now:     time.Now,
	}

	go s.sweepLoop(sweepInterval)
	return s
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, guestID string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	s.entries[guestID] = entry
	return nil
}

// Take implements Store. An entry past its TTL is treated as absent even
// if the sweep has not collected it yet.
func (s *MemoryStore) Take(ctx context.Context, guestID string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[guestID]
	if !ok {
		return nil, nil
	}
	delete(s.entries, guestID)

	if s.now().Sub(entry.CreatedAt) > s.ttl {
		return nil, nil
	}
	return &entry, nil
}

// Close stops the sweep janitor. Safe to call more than once.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *MemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	for guestID, entry := range s.entries {
		if entry.CreatedAt.Before(cutoff) {
			delete(s.entries, guestID)
		}
	}
}
