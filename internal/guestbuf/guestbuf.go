// Package guestbuf holds a guest's unsaved conversation across the
// sign-up boundary. An entry is written when a guest session ends with
// unsaved turns, claimed exactly once when that guest creates an
// account, and otherwise expires after a short TTL.
package guestbuf

import (
	"context"
	"time"
)

// Default lifetime and sweep cadence for buffered guest conversations.
const (
	DefaultTTL           = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// Message is one buffered conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Entry is a guest's buffered conversation.
type Entry struct {
	Messages  []Message `json:"messages"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Store buffers guest conversations keyed by guest id.
//
// Expiry is best-effort and lossy by design: a claim that finds nothing
// migrates nothing, it is not an error.
type Store interface {
	// Put buffers a guest's conversation, overwriting any prior entry
	// for that guest id.
	Put(ctx context.Context, guestID string, entry Entry) error

	// Take returns the entry for a guest id and removes it, so a second
	// Take returns nil. A miss (expired or never written) returns
	// (nil, nil).
	Take(ctx context.Context, guestID string) (*Entry, error)

	// Close releases the store's resources.
	Close() error
}
