package healthcheck

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHealthyAndUnhealthyTargets(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	c := NewChecker(Config{
		Targets:     []string{good.URL, bad.URL},
		Interval:    time.Hour, // one sweep is enough
		MaxFailures: 1,
	}, zerolog.Nop())

	c.Start()
	defer c.Stop()

	assert.Equal(t, []string{good.URL}, c.HealthyTargets())
	assert.False(t, c.AllHealthy())
	assert.True(t, c.AnyHealthy())
}

func TestUnreachableTargetMarkedUnhealthy(t *testing.T) {
	c := NewChecker(Config{
		Targets:     []string{"http://127.0.0.1:1"},
		Interval:    time.Hour,
		Timeout:     200 * time.Millisecond,
		MaxFailures: 1,
	}, zerolog.Nop())

	c.Start()
	defer c.Stop()

	assert.Empty(t, c.HealthyTargets())
	assert.False(t, c.AnyHealthy())
}

func TestRecoveryAfterFailure(t *testing.T) {
	var failing atomic.Bool
	failing.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if failing.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewChecker(Config{
		Targets:     []string{srv.URL},
		Interval:    time.Hour,
		MaxFailures: 1,
	}, zerolog.Nop())

	c.Start()
	defer c.Stop()
	assert.Empty(t, c.HealthyTargets())

	failing.Store(false)
	c.checkAll()

	assert.Equal(t, []string{srv.URL}, c.HealthyTargets())
	assert.True(t, c.AllHealthy())
}

func TestFailuresBelowThresholdStayHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewChecker(Config{
		Targets:     []string{srv.URL},
		Interval:    time.Hour,
		MaxFailures: 3,
	}, zerolog.Nop())

	c.Start()
	defer c.Stop()

	assert.True(t, c.AllHealthy(), "a single failed probe must not evict the target")

	c.checkAll()
	c.checkAll()
	assert.False(t, c.AnyHealthy())
}
