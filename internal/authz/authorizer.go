// Package authz composes the key directory, tier policy table and
// sharded rate limiter into a single admit/deny decision per request,
// and closes the loop once the request's true outcome is known.
package authz

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/keydir"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/metrics"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/models"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/ratelimit"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/tier"
)

// Resolver maps a raw API key to its record (the key directory).
type Resolver interface {
	Resolve(ctx context.Context, rawKey string) (*models.KeyRecord, error)
}

// Limiter is the admission side of the sharded rate limiter.
type Limiter interface {
	Check(ctx context.Context, key string, quota int) (ratelimit.Result, error)
	Window() time.Duration
}

// OutcomeRecorder applies the per-request dual write after completion.
type OutcomeRecorder interface {
	Record(event models.UsageEvent, quotaKey string)
}

// pending holds what Authorize learned about a request so RecordOutcome
// can emit a fully denormalized usage event later.
type pending struct {
	keyID       *uuid.UUID
	ownerID     string
	tierID      string
	quotaKey    string // empty means nothing to consume (denied request)
	rateLimited bool
	cacheHit    bool
	registered  time.Time
}

const (
	decisionCacheSize = 4096
	decisionCacheTTL  = 10 * time.Second

	inflightMaxAge    = 5 * time.Minute
	janitorInterval   = time.Minute
)

type cachedDecision struct {
	decision  Decision
	expiresAt time.Time
}

// Authorizer is the gateway's authorization and rate-limiting engine.
// All collaborators are injected; it holds no hidden globals.
type Authorizer struct {
	directory Resolver
	tiers     *tier.Table
	limiter   Limiter
	recorder  OutcomeRecorder
	metrics   *metrics.Metrics
	log       zerolog.Logger

	// decisions caches recent Allow decisions by key hash. A cached
	// Allow skips the resolve and shard reads but still consumes quota
	// through RecordOutcome, so the TTL only bounds how stale the
	// reported usage may be, not how much gets counted.
	decisions *lru.Cache

	mu       sync.Mutex
	inflight map[uuid.UUID]pending

	done chan struct{}
	wg   sync.WaitGroup
}

func New(directory Resolver, tiers *tier.Table, limiter Limiter, recorder OutcomeRecorder, m *metrics.Metrics, log zerolog.Logger) *Authorizer {
	cache, _ := lru.New(decisionCacheSize)

	a := &Authorizer{
		directory: directory,
		tiers:     tiers,
		limiter:   limiter,
		recorder:  recorder,
		metrics:   m,
		log:       log.With().Str("component", "authz").Logger(),
		decisions: cache,
		inflight:  make(map[uuid.UUID]pending),
		done:      make(chan struct{}),
	}

	a.wg.Add(1)
	go a.janitor()

	return a
}

// Authorize resolves the caller's identity and quota standing and
// returns a terminal Allow or Deny. It never returns an error: backend
// failures are absorbed into the decision per the failure policy
// (identity fails closed, quota bookkeeping fails open).
func (a *Authorizer) Authorize(ctx context.Context, rawKey string, meta RequestMetadata) Decision {
	start := time.Now()
	defer func() {
		a.metrics.AuthorizeLatency.Observe(time.Since(start).Seconds())
	}()

	hash := keydir.HashKey(rawKey)

	if d, ok := a.cachedAllow(hash); ok {
		a.metrics.DecisionCacheHits.Inc()
		a.metrics.Decisions.WithLabelValues("allow").Inc()
		a.register(meta.RequestID, pending{
			keyID:      d.Context.KeyID,
			ownerID:    d.Context.OwnerID,
			tierID:     d.Context.Tier,
			quotaKey:   hash,
			cacheHit:   true,
			registered: time.Now(),
		})
		return d
	}

	rec, err := a.directory.Resolve(ctx, rawKey)
	if err != nil {
		reason := ErrIdentityUnresolved
		if err != keydir.ErrNotFound {
			// Store unreachable: identity cannot be approximated, so
			// the request is denied exactly like an unknown key.
			a.log.Error().Err(err).Msg("identity resolution failed, denying")
			reason = ErrBackendUnavailable
		}
		a.metrics.Decisions.WithLabelValues("deny_identity").Inc()
		a.register(meta.RequestID, pending{registered: time.Now()})
		return Decision{Allow: false, HTTPStatus: http.StatusUnauthorized, Reason: reason, keyHash: hash}
	}

	policy, known := a.tiers.Get(rec.Tier)
	if !known {
		cfgErr := &ConfigurationError{TierID: rec.Tier}
		a.log.Error().Str("owner_id", rec.OwnerID).Msg(cfgErr.Error())
	}

	quota := policy.DailyQuota
	if rec.OverrideQuota != 0 {
		quota = rec.OverrideQuota
	}
	rate := policy.RatePerSec
	if rec.OverrideRate != 0 {
		rate = rec.OverrideRate
	}

	res, err := a.limiter.Check(ctx, hash, quota)
	if err != nil {
		// Quota bookkeeping fails open: the caller has already proven
		// who they are, and availability wins over exactness.
		a.log.Error().Err(err).Str("owner_id", rec.OwnerID).Msg("counter store read failed, admitting")
		res = ratelimit.Result{
			Allowed:      true,
			CurrentUsage: 0,
			Limit:        quota,
			ResetsAt:     time.Now().Add(a.limiter.Window()),
		}
	}

	if !res.Allowed {
		a.metrics.Decisions.WithLabelValues("deny_quota").Inc()
		a.metrics.RateLimitRejections.Inc()
		a.register(meta.RequestID, pending{
			keyID:       &rec.ID,
			ownerID:     rec.OwnerID,
			tierID:      rec.Tier,
			rateLimited: true,
			registered:  time.Now(),
		})
		return Decision{
			Allow:      false,
			HTTPStatus: http.StatusTooManyRequests,
			Reason: &QuotaExceededError{
				CurrentUsage:      res.CurrentUsage,
				Limit:             res.Limit,
				ResetsAt:          res.ResetsAt,
				RetryAfterSeconds: res.RetryAfterSeconds,
			},
			RetryAfterSeconds: res.RetryAfterSeconds,
			Context: DecisionContext{
				KeyID:        &rec.ID,
				OwnerID:      rec.OwnerID,
				Tier:         rec.Tier,
				TierName:     policy.DisplayName,
				CurrentUsage: res.CurrentUsage,
				Limit:        res.Limit,
				ResetsAt:     res.ResetsAt,
			},
			keyHash: hash,
		}
	}

	remaining := res.Limit - res.CurrentUsage
	if res.Limit == tier.UnlimitedQuota {
		remaining = tier.UnlimitedQuota
	} else if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allow: true,
		Context: DecisionContext{
			KeyID:        &rec.ID,
			OwnerID:      rec.OwnerID,
			Tier:         rec.Tier,
			TierName:     policy.DisplayName,
			CurrentUsage: res.CurrentUsage,
			Limit:        res.Limit,
			Remaining:    remaining,
			ResetsAt:     res.ResetsAt,
			RatePerSec:   rate,
		},
		keyHash: hash,
	}

	a.metrics.Decisions.WithLabelValues("allow").Inc()
	a.register(meta.RequestID, pending{
		keyID:      &rec.ID,
		ownerID:    rec.OwnerID,
		tierID:     rec.Tier,
		quotaKey:   hash,
		registered: time.Now(),
	})

	a.decisions.Add(hash, cachedDecision{decision: d, expiresAt: time.Now().Add(decisionCacheTTL)})

	return d
}

// RecordOutcome is invoked after the wrapped request completes. It emits
// the analytics event unconditionally and consumes quota only for a
// successful outcome, in the background.
func (a *Authorizer) RecordOutcome(requestID uuid.UUID, statusCode, latencyMs int, endpoint, method string) {
	a.mu.Lock()
	p, ok := a.inflight[requestID]
	delete(a.inflight, requestID)
	a.mu.Unlock()

	if !ok {
		a.log.Debug().Str("request_id", requestID.String()).Msg("outcome for unknown request")
		p = pending{}
	}

	event := models.UsageEvent{
		RequestID:         requestID,
		Timestamp:         time.Now(),
		KeyID:             p.keyID,
		OwnerID:           p.ownerID,
		Tier:              p.tierID,
		Endpoint:          endpoint,
		Method:            method,
		StatusCode:        statusCode,
		LatencyMs:         latencyMs,
		CacheHit:          p.cacheHit,
		RateLimitExceeded: p.rateLimited,
	}

	go a.recorder.Record(event, p.quotaKey)
}

// Close stops the janitor. In-flight entries are abandoned.
func (a *Authorizer) Close() {
	close(a.done)
	a.wg.Wait()
}

func (a *Authorizer) cachedAllow(hash string) (Decision, bool) {
	v, ok := a.decisions.Get(hash)
	if !ok {
		return Decision{}, false
	}
	cd := v.(cachedDecision)
	if time.Now().After(cd.expiresAt) {
		a.decisions.Remove(hash)
		return Decision{}, false
	}
	return cd.decision, true
}

func (a *Authorizer) register(requestID uuid.UUID, p pending) {
	if requestID == uuid.Nil {
		return
	}
	a.mu.Lock()
	a.inflight[requestID] = p
	a.mu.Unlock()
}

// janitor evicts in-flight entries whose outcome never arrived, e.g.
// requests cancelled upstream.
func (a *Authorizer) janitor() {
	defer a.wg.Done()

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-inflightMaxAge)
			a.mu.Lock()
			for id, p := range a.inflight {
				if p.registered.Before(cutoff) {
					delete(a.inflight, id)
				}
			}
			a.mu.Unlock()
		case <-a.done:
			return
		}
	}
}
