package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/authz"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/keydir"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/metrics"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/models"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/ratelimit"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/tier"
)

type stubResolver struct {
	rec *models.KeyRecord
}

func (r *stubResolver) Resolve(_ context.Context, rawKey string) (*models.KeyRecord, error) {
	if r.rec != nil && keydir.HashKey(rawKey) == r.rec.KeyHash {
		return r.rec, nil
	}
	return nil, keydir.ErrNotFound
}

type stubLimiter struct {
	result ratelimit.Result
}

func (l *stubLimiter) Check(_ context.Context, _ string, _ int) (ratelimit.Result, error) {
	return l.result, nil
}

func (l *stubLimiter) Window() time.Duration { return 24 * time.Hour }

type nopRecorder struct{}

func (nopRecorder) Record(_ models.UsageEvent, _ string) {}

func activeKey(rawKey string) *models.KeyRecord {
	return &models.KeyRecord{
		ID:      uuid.New(),
		KeyHash: keydir.HashKey(rawKey),
		OwnerID: "owner-1",
		Tier:    "pro",
		Status:  models.KeyStatusActive,
	}
}

func TestAuthorizationAllowsValidKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resolver := &stubResolver{rec: activeKey("gc_live_abc")}
	limiter := &stubLimiter{result: ratelimit.Result{
		Allowed:      true,
		CurrentUsage: 42,
		Limit:        100000,
		ResetsAt:     time.Now().Add(24 * time.Hour),
	}}

	a := authz.New(resolver, tier.NewTable(tier.Defaults()), limiter, nopRecorder{}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	t.Cleanup(a.Close)

	var contextHeader string
	r := gin.New()
	r.Use(RequestID())
	r.Use(Authorization(a))
	r.GET("/api/v1/calendar", func(c *gin.Context) {
		contextHeader = c.Request.Header.Get("X-Context-ownerId")
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calendar", nil)
	req.Header.Set(APIKeyHeader, "gc_live_abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "100000", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "99958", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "pro", w.Header().Get("X-RateLimit-Tier"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
	assert.Equal(t, "owner-1", contextHeader, "decision context must reach the upstream hop")
}

func TestAuthorizationRejectsUnknownKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := authz.New(&stubResolver{}, tier.NewTable(tier.Defaults()), &stubLimiter{}, nopRecorder{}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	t.Cleanup(a.Close)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Authorization(a))
	r.GET("/api/v1/calendar", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calendar", nil)
	req.Header.Set(APIKeyHeader, "gc_live_wrong")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid API key")
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"), "identity denies carry no quota headers")
}

func TestAuthorizationRejectsMissingKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a := authz.New(&stubResolver{}, tier.NewTable(tier.Defaults()), &stubLimiter{}, nopRecorder{}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	t.Cleanup(a.Close)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Authorization(a))
	r.GET("/api/v1/calendar", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/calendar", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizationThrottlesOverQuota(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resolver := &stubResolver{rec: activeKey("gc_live_abc")}
	limiter := &stubLimiter{result: ratelimit.Result{
		Allowed:           false,
		CurrentUsage:      100000,
		Limit:             100000,
		ResetsAt:          time.Now().Add(time.Hour),
		RetryAfterSeconds: 3600,
	}}

	a := authz.New(resolver, tier.NewTable(tier.Defaults()), limiter, nopRecorder{}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	t.Cleanup(a.Close)

	handlerRan := false
	r := gin.New()
	r.Use(RequestID())
	r.Use(Authorization(a))
	r.GET("/api/v1/calendar", func(c *gin.Context) { handlerRan = true })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calendar", nil)
	req.Header.Set(APIKeyHeader, "gc_live_abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	assert.Equal(t, "100000", w.Header().Get("X-RateLimit-Limit"))
	assert.Contains(t, w.Body.String(), "Rate limit exceeded")
	assert.False(t, handlerRan, "throttled requests must not reach the upstream")
}

func TestBearerTokenAccepted(t *testing.T) {
	gin.SetMode(gin.TestMode)
	resolver := &stubResolver{rec: activeKey("gc_live_abc")}
	limiter := &stubLimiter{result: ratelimit.Result{
		Allowed:  true,
		Limit:    100000,
		ResetsAt: time.Now().Add(24 * time.Hour),
	}}

	a := authz.New(resolver, tier.NewTable(tier.Defaults()), limiter, nopRecorder{}, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
	t.Cleanup(a.Close)

	r := gin.New()
	r.Use(RequestID())
	r.Use(Authorization(a))
	r.GET("/api/v1/calendar", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/calendar", nil)
	req.Header.Set("Authorization", "Bearer gc_live_abc")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExtractAPIKeyPrefersHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.Header.Set(APIKeyHeader, "from-header")
	c.Request.Header.Set("Authorization", "Bearer from-bearer")

	require.Equal(t, "from-header", extractAPIKey(c))
}
