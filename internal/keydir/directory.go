// Package keydir resolves opaque API keys to their durable key records,
// fronted by a short-TTL cache.
package keydir

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/circuitbreaker"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/metrics"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/models"
)

// ErrNotFound covers absent, revoked, rotating and expired keys alike.
// Callers must not distinguish them: a probing client learns nothing
// about whether a key exists.
var ErrNotFound = errors.New("api key not found")

// ErrCacheMiss is the Cache contract for "no entry".
var ErrCacheMiss = errors.New("cache miss")

// KeyStore is the durable lookup behind the directory.
type KeyStore interface {
	FindByHash(ctx context.Context, hash string) (*models.KeyRecord, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// Cache is the short-TTL front. Get returns ErrCacheMiss when the entry
// is absent; any other error is treated as a miss too (cache down falls
// through to the store).
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Directory resolves raw API keys. Identity resolution fails closed: if
// the durable store is unreachable on a cache miss, the caller gets an
// error, never a guess.
type Directory struct {
	store   KeyStore
	cache   Cache
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     zerolog.Logger
}

func New(store KeyStore, cache Cache, ttl time.Duration, m *metrics.Metrics, log zerolog.Logger) *Directory {
	return &Directory{
		store: store,
		cache: cache,
		ttl:   ttl,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			MaxFailures: 5,
			Timeout:     10 * time.Second,
		}),
		metrics: m,
		log:     log.With().Str("component", "keydir").Logger(),
	}
}

// HashKey derives the storage hash for a raw API key.
func HashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

func cacheKey(hash string) string {
	return "apikey:cache:" + hash
}

// Resolve maps a raw key to its record, or ErrNotFound. Any other error
// means the durable store was unreachable.
func (d *Directory) Resolve(ctx context.Context, rawKey string) (*models.KeyRecord, error) {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, ErrNotFound
	}

	hash := HashKey(rawKey)
	ck := cacheKey(hash)

	if cached, err := d.cache.Get(ctx, ck); err == nil && cached != "" {
		var rec models.KeyRecord
		if err := json.Unmarshal([]byte(cached), &rec); err == nil {
			d.metrics.KeyCacheHits.Inc()
			if !rec.Usable() {
				return nil, ErrNotFound
			}
			return &rec, nil
		}
	} else if err != nil && err != ErrCacheMiss {
		d.log.Warn().Err(err).Msg("key cache read failed, falling through to store")
	}

	d.metrics.KeyCacheMisses.Inc()

	var rec *models.KeyRecord
	err := d.breaker.Call(func() error {
		var err error
		rec, err = d.store.FindByHash(ctx, hash)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("key store lookup: %w", err)
	}

	if rec == nil || !rec.Usable() {
		return nil, ErrNotFound
	}

	// Cache writes are best-effort; a failure never fails the resolve.
	if data, err := json.Marshal(rec); err == nil {
		if err := d.cache.Set(ctx, ck, string(data), d.ttl); err != nil {
			d.log.Warn().Err(err).Msg("key cache write failed")
		}
	}

	go d.touchLastUsed(rec.ID)

	return rec, nil
}

func (d *Directory) touchLastUsed(id uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := d.store.TouchLastUsed(ctx, id); err != nil {
		d.log.Debug().Err(err).Str("key_id", id.String()).Msg("last-used touch failed")
	}
}
