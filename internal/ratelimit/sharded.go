// Package ratelimit enforces per-key daily quotas over a rolling window.
//
// A key's usage is split across N independent counter shards so that
// high-QPS keys do not hammer a single hot partition. The window slides
// continuously with "now" rather than resetting at a clock boundary.
package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/tier"
)

// Result reports one admission decision.
type Result struct {
	Allowed           bool
	CurrentUsage      int
	Limit             int
	ResetsAt          time.Time
	RetryAfterSeconds int
}

// ShardedLimiter computes admit/reject against a rolling window summed
// across counter shards.
//
// Check and Consume are deliberately separate: admission happens before
// the request executes, the quota-consuming write only after it has
// completed successfully. The pair is not atomic, so concurrent bursts
// on one key can over-admit slightly; tightening that needs a
// conditional increment at the store.
type ShardedLimiter struct {
	store  CounterStore
	shards int
	window time.Duration
	ttl    time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewShardedLimiter(store CounterStore, shards int, window, ttlSlack time.Duration) *ShardedLimiter {
	if shards <= 0 {
		shards = 10
	}
	return &ShardedLimiter{
		store:  store,
		shards: shards,
		window: window,
		ttl:    window + ttlSlack,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *ShardedLimiter) Window() time.Duration {
	return l.window
}

// Check sums the live shards for the key and decides admit/reject.
// quota of tier.UnlimitedQuota short-circuits to always-admit without
// touching the store.
func (l *ShardedLimiter) Check(ctx context.Context, key string, quota int) (Result, error) {
	now := time.Now()

	if quota == tier.UnlimitedQuota {
		return Result{
			Allowed:  true,
			Limit:    tier.UnlimitedQuota,
			ResetsAt: now.Add(l.window),
		}, nil
	}

	windowStart := now.Add(-l.window)

	usage, err := l.sumShards(ctx, key, windowStart, now)
	if err != nil {
		return Result{}, err
	}

	if usage >= int64(quota) {
		resetsAt, err := l.oldestEntry(ctx, key, windowStart, now)
		if err != nil {
			// The rejection stands; fall back to a full window.
			resetsAt = now.Add(l.window)
		}

		retryAfter := int(math.Ceil(time.Until(resetsAt).Seconds()))
		if retryAfter < 1 {
			retryAfter = 1
		}

		return Result{
			Allowed:           false,
			CurrentUsage:      int(usage),
			Limit:             quota,
			ResetsAt:          resetsAt,
			RetryAfterSeconds: retryAfter,
		}, nil
	}

	return Result{
		Allowed:      true,
		CurrentUsage: int(usage) + 1,
		Limit:        quota,
		ResetsAt:     now.Add(l.window),
	}, nil
}

// Consume records one admitted-and-successful request on a uniformly
// random shard. The entry expires a little past the window so stale
// usage self-evicts without a sweep.
func (l *ShardedLimiter) Consume(ctx context.Context, key string) error {
	l.mu.Lock()
	shard := l.rng.Intn(l.shards)
	l.mu.Unlock()

	return l.store.Add(ctx, key, shard, time.Now(), l.ttl)
}

// sumShards fans out one range count per shard and awaits them jointly,
// so one slow shard does not serialize the rest.
func (l *ShardedLimiter) sumShards(ctx context.Context, key string, from, to time.Time) (int64, error) {
	counts := make([]int64, l.shards)

	g, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < l.shards; shard++ {
		g.Go(func() error {
			n, err := l.store.CountRange(gctx, key, shard, from, to)
			if err != nil {
				return err
			}
			counts[shard] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var total int64
	for _, n := range counts {
		total += n
	}
	return total, nil
}

// oldestEntry scans all shards for the earliest surviving entry and
// returns when it will leave the window.
func (l *ShardedLimiter) oldestEntry(ctx context.Context, key string, from, to time.Time) (time.Time, error) {
	oldest := make([]time.Time, l.shards)

	g, gctx := errgroup.WithContext(ctx)
	for shard := 0; shard < l.shards; shard++ {
		g.Go(func() error {
			ts, err := l.store.OldestInRange(gctx, key, shard, from, to)
			if err == ErrEmptyRange {
				return nil
			}
			if err != nil {
				return err
			}
			oldest[shard] = ts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return time.Time{}, err
	}

	var min time.Time
	for _, ts := range oldest {
		if ts.IsZero() {
			continue
		}
		if min.IsZero() || ts.Before(min) {
			min = ts
		}
	}
	if min.IsZero() {
		return time.Time{}, ErrEmptyRange
	}
	return min.Add(l.window), nil
}
