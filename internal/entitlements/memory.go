package entitlements

import (
	"context"
	"sync"
	"time"
)

// MemoryLedger is a process-local Ledger. Suitable for single-instance
// deployment; multi-instance deployments should use the Redis ledger so
// two tabs hitting different instances share one budget.
type MemoryLedger struct {
	mu     sync.Mutex
	limits LimitsFunc
	days   map[string]int             // identityKey + ":" + day -> seconds used
	chats  map[string]int             // chatID -> seconds elapsed
	ticks  map[string]map[int64]bool  // sessionID -> seen tick sequence numbers
	now    func() time.Time
}

// NewMemoryLedger creates an in-memory ledger.
func NewMemoryLedger(limits LimitsFunc) *MemoryLedger {
	return &MemoryLedger{
		limits: limits,
		days:   make(map[string]int),
		chats:  make(map[string]int),
		ticks:  make(map[string]map[int64]bool),
		now:    time.Now,
	}
}

// Load implements Ledger.
func (l *MemoryLedger) Load(ctx context.Context, id Identity, chatID string) (Snapshot, error) {
	limits, err := l.limits(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return Snapshot{
		Plan:               limits.Plan,
		DailySecondsLimit:  limits.DailySeconds,
		DailySecondsUsed:   l.days[l.dayKey(id)],
		ChatSecondsCap:     limits.ChatSeconds,
		ChatSecondsElapsed: l.chats[chatID],
	}, nil
}

// Accrue implements Ledger. Replaying a tick sequence number for the
// same session is a no-op.
func (l *MemoryLedger) Accrue(ctx context.Context, id Identity, chatID, sessionID string, tickSeq int64, seconds int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := l.ticks[sessionID]
	if seen == nil {
		seen = make(map[int64]bool)
		l.ticks[sessionID] = seen
	}
	if seen[tickSeq] {
		return nil
	}
	seen[tickSeq] = true

	l.days[l.dayKey(id)] += seconds
	l.chats[chatID] += seconds
	return nil
}

// ForgetSession releases the tick bookkeeping for a finished session.
func (l *MemoryLedger) ForgetSession(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ticks, sessionID)
}

// dayKey rolls the daily counter at the UTC day boundary.
func (l *MemoryLedger) dayKey(id Identity) string {
	return id.Key() + ":" + l.now().UTC().Format("2006-01-02")
}
