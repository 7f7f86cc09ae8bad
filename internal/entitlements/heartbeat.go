package entitlements

import (
	"context"
	"log"
	"time"
)

// Default heartbeat cadence: accrue 5 seconds of usage every 5 seconds.
const (
	DefaultTickInterval = 5 * time.Second
	DefaultTickSeconds  = 5
)

// Beat is one heartbeat observation, emitted every tick.
type Beat struct {
	Seq      int64
	Snapshot Snapshot
	Paywall  bool
	HardStop bool
}

// Heartbeat drives the metering loop for one session: read the
// snapshot, raise paywall/hard-stop flags, accrue the tick if neither
// flag is set, and emit the result.
type Heartbeat struct {
	Ledger      Ledger
	Identity    Identity
	ChatID      string
	SessionID   string
	Interval    time.Duration // zero means DefaultTickInterval
	TickSeconds int           // zero means DefaultTickSeconds
	Logger      *log.Logger
}

// Run ticks until ctx is cancelled, calling emit on every beat. Ledger
// read and write failures are logged and the tick is skipped rather than
// failing the session; metering is best-effort, the conversation is not.
// The loop keeps ticking after a paywall or hard stop so the client
// keeps observing the state (and a day rollover clears the paywall).
func (h *Heartbeat) Run(ctx context.Context, emit func(Beat)) {
	interval := h.Interval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	seconds := h.TickSeconds
	if seconds <= 0 {
		seconds = DefaultTickSeconds
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var seq int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		seq++
		beat, ok := h.tick(ctx, seq, seconds)
		if !ok {
			continue
		}
		emit(beat)
	}
}

// tick performs one metering step. The accrual amount is the fixed tick
// size at this tick's sequence number, never a wall-clock delta, so a
// slow or replayed tick cannot double-count.
func (h *Heartbeat) tick(ctx context.Context, seq int64, seconds int) (Beat, bool) {
	snap, err := h.Ledger.Load(ctx, h.Identity, h.ChatID)
	if err != nil {
		h.Logger.Printf("heartbeat: load entitlements for %s: %v", h.Identity.Key(), err)
		return Beat{}, false
	}

	beat := Beat{
		Seq:      seq,
		Snapshot: snap,
		Paywall:  snap.Paywalled(),
		HardStop: snap.HardStopped(),
	}

	if beat.Paywall || beat.HardStop {
		return beat, true
	}

	if err := h.Ledger.Accrue(ctx, h.Identity, h.ChatID, h.SessionID, seq, seconds); err != nil {
		// Lossy by design: report the stale snapshot rather than
		// interrupting the conversation.
		h.Logger.Printf("heartbeat: accrue for %s: %v", h.Identity.Key(), err)
		return beat, true
	}

	// The emitted snapshot reflects this tick's accrual; the flags stay
	// as read, so exhaustion is raised by the following tick's load.
	beat.Snapshot.DailySecondsUsed += seconds
	beat.Snapshot.ChatSecondsElapsed += seconds
	return beat, true
}
