package guestbuf

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const guestKeyPrefix = "guestbuf:"

// RedisStore is a Store backed by Redis. Expiry is Redis TTL, so no
// sweep is needed, and GETDEL makes Take atomic across instances: of
// two concurrent claims, exactly one receives the entry.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed store. Zero ttl falls back to
// the default.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, guestID string, entry Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal guest buffer: %w", err)
	}

	return s.client.Set(ctx, guestKeyPrefix+guestID, val, s.ttl).Err()
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, guestID string) (*Entry, error) {
	val, err := s.client.GetDel(ctx, guestKeyPrefix+guestID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("take guest buffer: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal guest buffer: %w", err)
	}
	return &entry, nil
}

// Close implements Store. The Redis client is shared, so there is
// nothing to release here.
func (s *RedisStore) Close() error { return nil }
