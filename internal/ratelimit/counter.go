package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/storage"
)

// ErrEmptyRange is returned by OldestInRange when a shard has no entries
// inside the window.
var ErrEmptyRange = errors.New("no entries in range")

// CounterStore is the durable home of the per-key usage counter shards.
// Entries are timestamped and self-evict via TTL; losing a shard
// under-counts, never over-counts.
type CounterStore interface {
	// CountRange returns the number of entries for (key, shard) with
	// timestamps in [from, to].
	CountRange(ctx context.Context, key string, shard int, from, to time.Time) (int64, error)

	// OldestInRange returns the earliest entry timestamp in [from, to],
	// or ErrEmptyRange when the shard holds none.
	OldestInRange(ctx context.Context, key string, shard int, from, to time.Time) (time.Time, error)

	// Add appends one entry at ts and refreshes the shard TTL.
	Add(ctx context.Context, key string, shard int, ts time.Time, ttl time.Duration) error
}

// RedisCounterStore keeps each (key, shard) as a sorted set scored by
// unix-millisecond timestamp, so "usage in window" is a single ZCOUNT
// over the score range.
type RedisCounterStore struct {
	redis *storage.RedisClient
}

func NewRedisCounterStore(redis *storage.RedisClient) *RedisCounterStore {
	return &RedisCounterStore{redis: redis}
}

func shardKey(key string, shard int) string {
	return fmt.Sprintf("quota:%s:%d", key, shard)
}

func msScore(t time.Time) string {
	return fmt.Sprintf("%d", t.UnixMilli())
}

func (s *RedisCounterStore) CountRange(ctx context.Context, key string, shard int, from, to time.Time) (int64, error) {
	return s.redis.ZCount(ctx, shardKey(key, shard), msScore(from), msScore(to))
}

func (s *RedisCounterStore) OldestInRange(ctx context.Context, key string, shard int, from, to time.Time) (time.Time, error) {
	member, err := s.redis.ZRangeByScoreFirst(ctx, shardKey(key, shard), msScore(from), msScore(to))
	if storage.IsNil(err) {
		return time.Time{}, ErrEmptyRange
	}
	if err != nil {
		return time.Time{}, err
	}

	var ms int64
	if _, err := fmt.Sscanf(member, "%d", &ms); err != nil {
		return time.Time{}, fmt.Errorf("malformed counter entry %q: %w", member, err)
	}
	return time.UnixMilli(ms), nil
}

func (s *RedisCounterStore) Add(ctx context.Context, key string, shard int, ts time.Time, ttl time.Duration) error {
	rk := shardKey(key, shard)

	// Member embeds a random suffix so same-millisecond writes are
	// distinct sorted-set entries, and a parseable millisecond prefix so
	// OldestInRange can recover the timestamp.
	member := fmt.Sprintf("%d:%s", ts.UnixMilli(), uuid.NewString()[:8])

	if err := s.redis.ZAdd(ctx, rk, redis.Z{
		Score:  float64(ts.UnixMilli()),
		Member: member,
	}); err != nil {
		return err
	}

	return s.redis.Expire(ctx, rk, ttl)
}
