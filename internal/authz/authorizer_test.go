package authz

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/keydir"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/metrics"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/models"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/ratelimit"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/tier"
)

type fakeResolver struct {
	mu       sync.Mutex
	rec      *models.KeyRecord
	err      error
	resolves int
}

func (r *fakeResolver) Resolve(_ context.Context, _ string) (*models.KeyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolves++
	if r.err != nil {
		return nil, r.err
	}
	return r.rec, nil
}

func (r *fakeResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolves
}

type fakeLimiter struct {
	mu     sync.Mutex
	result ratelimit.Result
	err    error
	checks []checkCall
}

type checkCall struct {
	key   string
	quota int
}

func (l *fakeLimiter) Check(_ context.Context, key string, quota int) (ratelimit.Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checks = append(l.checks, checkCall{key: key, quota: quota})
	if l.err != nil {
		return ratelimit.Result{}, l.err
	}
	return l.result, nil
}

func (l *fakeLimiter) Window() time.Duration { return 24 * time.Hour }

type recordedOutcome struct {
	event    models.UsageEvent
	quotaKey string
}

type fakeOutcomeRecorder struct {
	ch chan recordedOutcome
}

func newFakeOutcomeRecorder() *fakeOutcomeRecorder {
	return &fakeOutcomeRecorder{ch: make(chan recordedOutcome, 16)}
}

func (r *fakeOutcomeRecorder) Record(event models.UsageEvent, quotaKey string) {
	r.ch <- recordedOutcome{event: event, quotaKey: quotaKey}
}

func (r *fakeOutcomeRecorder) wait(t *testing.T) recordedOutcome {
	t.Helper()
	select {
	case o := <-r.ch:
		return o
	case <-time.After(time.Second):
		t.Fatal("no outcome recorded")
		return recordedOutcome{}
	}
}

func allowResult(usage, limit int) ratelimit.Result {
	return ratelimit.Result{
		Allowed:      true,
		CurrentUsage: usage,
		Limit:        limit,
		ResetsAt:     time.Now().Add(24 * time.Hour),
	}
}

func denyResult(usage, limit, retryAfter int) ratelimit.Result {
	return ratelimit.Result{
		Allowed:           false,
		CurrentUsage:      usage,
		Limit:             limit,
		ResetsAt:          time.Now().Add(3 * time.Hour),
		RetryAfterSeconds: retryAfter,
	}
}

func proRecord() *models.KeyRecord {
	return &models.KeyRecord{
		ID:      uuid.New(),
		OwnerID: "owner-1",
		Tier:    "pro",
		Status:  models.KeyStatusActive,
	}
}

func newAuthorizer(t *testing.T, resolver Resolver, limiter Limiter, recorder OutcomeRecorder) *Authorizer {
	t.Helper()
	a := New(resolver, tier.NewTable(tier.Defaults()), limiter, recorder, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	t.Cleanup(a.Close)
	return a
}

func meta() RequestMetadata {
	return RequestMetadata{
		RequestID: uuid.New(),
		Endpoint:  "/api/v1/calendar",
		Method:    "GET",
	}
}

func TestAuthorizeAllow(t *testing.T) {
	rec := proRecord()
	resolver := &fakeResolver{rec: rec}
	limiter := &fakeLimiter{result: allowResult(42, 100000)}
	a := newAuthorizer(t, resolver, limiter, newFakeOutcomeRecorder())

	d := a.Authorize(context.Background(), "gc_live_abc", meta())

	assert.True(t, d.Allow)
	assert.Equal(t, "owner-1", d.Context.OwnerID)
	assert.Equal(t, "pro", d.Context.Tier)
	assert.Equal(t, 42, d.Context.CurrentUsage)
	assert.Equal(t, 100000-42, d.Context.Remaining)

	m := d.ContextMap()
	assert.Equal(t, "owner-1", m["ownerId"])
	assert.Equal(t, "pro", m["tier"])
	assert.Equal(t, "42", m["currentUsage"])
	assert.Equal(t, "99958", m["remaining"])
}

func TestAuthorizeUnknownKeyDeniesWithEmptyContext(t *testing.T) {
	resolver := &fakeResolver{err: keydir.ErrNotFound}
	a := newAuthorizer(t, resolver, &fakeLimiter{}, newFakeOutcomeRecorder())

	d := a.Authorize(context.Background(), "gc_live_bad", meta())

	assert.False(t, d.Allow)
	assert.Equal(t, http.StatusUnauthorized, d.HTTPStatus)
	assert.ErrorIs(t, d.Reason, ErrIdentityUnresolved)
	assert.False(t, d.RateLimited())
	assert.Empty(t, d.ContextMap(), "identity denies must leak nothing")
}

func TestIdentityBackendFailureDeniesLikeUnknownKey(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("pg down")}
	a := newAuthorizer(t, resolver, &fakeLimiter{}, newFakeOutcomeRecorder())

	d := a.Authorize(context.Background(), "gc_live_abc", meta())

	assert.False(t, d.Allow)
	assert.Equal(t, http.StatusUnauthorized, d.HTTPStatus)
	assert.ErrorIs(t, d.Reason, ErrBackendUnavailable)
	assert.Empty(t, d.ContextMap())
}

func TestQuotaDenyCarriesRetryMetadataOnly(t *testing.T) {
	resolver := &fakeResolver{rec: proRecord()}
	limiter := &fakeLimiter{result: denyResult(100000, 100000, 1800)}
	a := newAuthorizer(t, resolver, limiter, newFakeOutcomeRecorder())

	d := a.Authorize(context.Background(), "gc_live_abc", meta())

	assert.False(t, d.Allow)
	assert.Equal(t, http.StatusTooManyRequests, d.HTTPStatus)
	assert.True(t, d.RateLimited())
	assert.Equal(t, 1800, d.RetryAfterSeconds)

	var quotaErr *QuotaExceededError
	require.ErrorAs(t, d.Reason, &quotaErr)
	assert.Equal(t, 100000, quotaErr.Limit)

	m := d.ContextMap()
	assert.Equal(t, "1800", m["retryAfterSeconds"])
	assert.Equal(t, "100000", m["limit"])
	assert.NotContains(t, m, "ownerId", "quota denies expose retry metadata, not identity")
}

func TestLimiterFailureAdmits(t *testing.T) {
	resolver := &fakeResolver{rec: proRecord()}
	limiter := &fakeLimiter{err: errors.New("redis down")}
	a := newAuthorizer(t, resolver, limiter, newFakeOutcomeRecorder())

	d := a.Authorize(context.Background(), "gc_live_abc", meta())

	assert.True(t, d.Allow, "counter store failure must not block an identified caller")
}

func TestOverrideQuotaReachesLimiter(t *testing.T) {
	rec := proRecord()
	rec.OverrideQuota = 500
	resolver := &fakeResolver{rec: rec}
	limiter := &fakeLimiter{result: allowResult(1, 500)}
	a := newAuthorizer(t, resolver, limiter, newFakeOutcomeRecorder())

	a.Authorize(context.Background(), "gc_live_abc", meta())

	require.Len(t, limiter.checks, 1)
	assert.Equal(t, 500, limiter.checks[0].quota)
}

func TestUnknownTierFallsBackToMostRestrictive(t *testing.T) {
	rec := proRecord()
	rec.Tier = "platinum"
	resolver := &fakeResolver{rec: rec}
	limiter := &fakeLimiter{result: allowResult(1, 1000)}
	a := newAuthorizer(t, resolver, limiter, newFakeOutcomeRecorder())

	d := a.Authorize(context.Background(), "gc_live_abc", meta())

	assert.True(t, d.Allow)
	require.Len(t, limiter.checks, 1)
	assert.Equal(t, 1000, limiter.checks[0].quota, "unknown tier gets the free-tier quota")
}

func TestAllowDecisionIsCached(t *testing.T) {
	resolver := &fakeResolver{rec: proRecord()}
	limiter := &fakeLimiter{result: allowResult(10, 100000)}
	a := newAuthorizer(t, resolver, limiter, newFakeOutcomeRecorder())

	a.Authorize(context.Background(), "gc_live_abc", meta())
	d := a.Authorize(context.Background(), "gc_live_abc", meta())

	assert.True(t, d.Allow)
	assert.Equal(t, 1, resolver.count(), "second request must be served from the decision cache")
}

func TestDenyIsNeverCached(t *testing.T) {
	resolver := &fakeResolver{rec: proRecord()}
	limiter := &fakeLimiter{result: denyResult(100000, 100000, 60)}
	a := newAuthorizer(t, resolver, limiter, newFakeOutcomeRecorder())

	a.Authorize(context.Background(), "gc_live_abc", meta())
	a.Authorize(context.Background(), "gc_live_abc", meta())

	assert.Equal(t, 2, resolver.count())
}

func TestRecordOutcomeEmitsEventAndQuotaKey(t *testing.T) {
	rec := proRecord()
	resolver := &fakeResolver{rec: rec}
	limiter := &fakeLimiter{result: allowResult(5, 100000)}
	recorder := newFakeOutcomeRecorder()
	a := newAuthorizer(t, resolver, limiter, recorder)

	m := meta()
	a.Authorize(context.Background(), "gc_live_abc", m)
	a.RecordOutcome(m.RequestID, 200, 37, m.Endpoint, m.Method)

	o := recorder.wait(t)
	assert.Equal(t, keydir.HashKey("gc_live_abc"), o.quotaKey)
	assert.Equal(t, m.RequestID, o.event.RequestID)
	require.NotNil(t, o.event.KeyID)
	assert.Equal(t, rec.ID, *o.event.KeyID)
	assert.Equal(t, "owner-1", o.event.OwnerID)
	assert.Equal(t, 200, o.event.StatusCode)
	assert.Equal(t, 37, o.event.LatencyMs)
	assert.False(t, o.event.RateLimitExceeded)
}

func TestRecordOutcomeForQuotaDenyHasNoQuotaKey(t *testing.T) {
	resolver := &fakeResolver{rec: proRecord()}
	limiter := &fakeLimiter{result: denyResult(100000, 100000, 60)}
	recorder := newFakeOutcomeRecorder()
	a := newAuthorizer(t, resolver, limiter, recorder)

	m := meta()
	a.Authorize(context.Background(), "gc_live_abc", m)
	a.RecordOutcome(m.RequestID, http.StatusTooManyRequests, 1, m.Endpoint, m.Method)

	o := recorder.wait(t)
	assert.Empty(t, o.quotaKey, "a denied request consumes no quota")
	assert.True(t, o.event.RateLimitExceeded)
}

func TestCachedAllowStillConsumesQuota(t *testing.T) {
	resolver := &fakeResolver{rec: proRecord()}
	limiter := &fakeLimiter{result: allowResult(5, 100000)}
	recorder := newFakeOutcomeRecorder()
	a := newAuthorizer(t, resolver, limiter, recorder)

	m1 := meta()
	a.Authorize(context.Background(), "gc_live_abc", m1)
	a.RecordOutcome(m1.RequestID, 200, 10, m1.Endpoint, m1.Method)
	recorder.wait(t)

	m2 := meta()
	a.Authorize(context.Background(), "gc_live_abc", m2)
	a.RecordOutcome(m2.RequestID, 200, 10, m2.Endpoint, m2.Method)

	o := recorder.wait(t)
	assert.Equal(t, keydir.HashKey("gc_live_abc"), o.quotaKey)
	assert.True(t, o.event.CacheHit)
}

func TestDecisionCacheKeyBucketsUsage(t *testing.T) {
	low := Decision{keyHash: "h", Context: DecisionContext{CurrentUsage: 3}}
	mid := Decision{keyHash: "h", Context: DecisionContext{CurrentUsage: 49}}
	next := Decision{keyHash: "h", Context: DecisionContext{CurrentUsage: 50}}

	assert.Equal(t, low.CacheKey(), mid.CacheKey())
	assert.NotEqual(t, mid.CacheKey(), next.CacheKey())
	assert.Equal(t, "h:50", next.CacheKey())
}
