// Package entitlements meters conversation time against daily and
// per-chat caps. The ledger is the only state shared across concurrent
// sessions for the same identity, so accrual must be a single atomic
// increment, idempotent per heartbeat tick.
package entitlements

import "context"

// Unlimited is returned by the remaining derivations when no cap applies.
const Unlimited = -1

// Plans.
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// Identity is the metering subject: an authenticated user or an
// anonymous guest. Guests are keyed by an opaque guest id rather than an
// IP so NAT-shared addresses do not pool into one budget.
type Identity struct {
	Kind string // "user" or "guest"
	ID   string
}

func UserIdentity(userID string) Identity {
	return Identity{Kind: "user", ID: userID}
}

func GuestIdentity(guestID string) Identity {
	return Identity{Kind: "guest", ID: guestID}
}

// IsGuest reports whether this identity is an anonymous guest.
func (i Identity) IsGuest() bool { return i.Kind == "guest" }

// Key returns the ledger key for this identity.
func (i Identity) Key() string { return i.Kind + ":" + i.ID }

// Limits are the plan-derived caps for an identity. A zero DailySeconds
// or ChatSeconds means no cap.
type Limits struct {
	Plan         string
	DailySeconds int
	ChatSeconds  int
}

// LimitsFunc resolves the caps for an identity. Plan lookup is an
// external concern (billing webhooks maintain it); the ledger only
// consumes the result.
type LimitsFunc func(ctx context.Context, id Identity) (Limits, error)

// Snapshot is the entitlement state read at each heartbeat tick.
type Snapshot struct {
	Plan               string
	DailySecondsLimit  int // 0 means unlimited
	DailySecondsUsed   int
	ChatSecondsCap     int // 0 means uncapped
	ChatSecondsElapsed int
}

// RemainingToday returns the seconds left in the daily budget, or
// Unlimited when no daily cap applies.
func (s Snapshot) RemainingToday() int {
	if s.DailySecondsLimit == 0 {
		return Unlimited
	}
	if r := s.DailySecondsLimit - s.DailySecondsUsed; r > 0 {
		return r
	}
	return 0
}

// RemainingThisChat returns the seconds left in this conversation, or
// Unlimited when no chat cap applies.
func (s Snapshot) RemainingThisChat() int {
	if s.ChatSecondsCap == 0 {
		return Unlimited
	}
	if r := s.ChatSecondsCap - s.ChatSecondsElapsed; r > 0 {
		return r
	}
	return 0
}

// Paywalled reports whether the daily budget is exhausted.
func (s Snapshot) Paywalled() bool { return s.RemainingToday() == 0 }

// HardStopped reports whether the per-chat budget is exhausted.
func (s Snapshot) HardStopped() bool { return s.RemainingThisChat() == 0 }

// Ledger stores accrued usage. Implementations must make Accrue atomic
// per identity and idempotent per (sessionID, tickSeq): replaying a tick
// never double-counts, and counters are monotonically non-decreasing.
type Ledger interface {
	// Load reads the current snapshot for an identity and conversation.
	Load(ctx context.Context, id Identity, chatID string) (Snapshot, error)

	// Accrue adds seconds to both the identity's daily counter and the
	// conversation's elapsed counter for the given tick.
	Accrue(ctx context.Context, id Identity, chatID, sessionID string, tickSeq int64, seconds int) error
}
