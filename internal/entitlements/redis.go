package entitlements

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dayKeyPrefix  = "usage:day:"
	chatKeyPrefix = "usage:chat:"
	tickKeyPrefix = "usage:tick:"

	// Counters outlive their relevance window slightly; the day counter
	// is read keyed by date so a stale key is never consulted again.
	dayCounterTTL  = 48 * time.Hour
	chatCounterTTL = 24 * time.Hour
	tickGuardTTL   = time.Hour
)

// RedisLedger is a Ledger backed by Redis. Accrual uses INCRBY guarded
// by a per-tick SET NX key, so concurrent sessions for one identity
// never lose updates and a retried tick never double-counts.
type RedisLedger struct {
	client *redis.Client
	limits LimitsFunc
	now    func() time.Time
}

// NewRedisLedger creates a Redis-backed ledger.
func NewRedisLedger(client *redis.Client, limits LimitsFunc) *RedisLedger {
	return &RedisLedger{client: client, limits: limits, now: time.Now}
}

// Load implements Ledger.
func (l *RedisLedger) Load(ctx context.Context, id Identity, chatID string) (Snapshot, error) {
	limits, err := l.limits(ctx, id)
	if err != nil {
		return Snapshot{}, err
	}

	used, err := l.getInt(ctx, l.dayKey(id))
	if err != nil {
		return Snapshot{}, fmt.Errorf("load daily usage: %w", err)
	}
	elapsed, err := l.getInt(ctx, chatKeyPrefix+chatID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load chat usage: %w", err)
	}

	return Snapshot{
		Plan:               limits.Plan,
		DailySecondsLimit:  limits.DailySeconds,
		DailySecondsUsed:   used,
		ChatSecondsCap:     limits.ChatSeconds,
		ChatSecondsElapsed: elapsed,
	}, nil
}

// Accrue implements Ledger.
func (l *RedisLedger) Accrue(ctx context.Context, id Identity, chatID, sessionID string, tickSeq int64, seconds int) error {
	guard := fmt.Sprintf("%s%s:%d", tickKeyPrefix, sessionID, tickSeq)
	ok, err := l.client.SetNX(ctx, guard, 1, tickGuardTTL).Result()
	if err != nil {
		return fmt.Errorf("tick guard: %w", err)
	}
	if !ok {
		// Tick already accrued; a retry must not double-count.
		return nil
	}

	pipe := l.client.TxPipeline()
	dayKey := l.dayKey(id)
	pipe.IncrBy(ctx, dayKey, int64(seconds))
	pipe.Expire(ctx, dayKey, dayCounterTTL)
	chatKey := chatKeyPrefix + chatID
	pipe.IncrBy(ctx, chatKey, int64(seconds))
	pipe.Expire(ctx, chatKey, chatCounterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("accrue: %w", err)
	}
	return nil
}

func (l *RedisLedger) getInt(ctx context.Context, key string) (int, error) {
	val, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func (l *RedisLedger) dayKey(id Identity) string {
	return dayKeyPrefix + id.Key() + ":" + l.now().UTC().Format("2006-01-02")
}
