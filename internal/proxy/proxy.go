// Package proxy forwards admitted requests to the tax-calendar data
// backend pool.
package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/circuitbreaker"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/healthcheck"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/loadbalancer"
)

type Config struct {
	Targets        []string
	Strategy       string
	HealthPath     string
	HealthInterval time.Duration
}

type Proxy struct {
	proxies map[string]*httputil.ReverseProxy
	breaker *circuitbreaker.CircuitBreaker
	lb      loadbalancer.Strategy
	checker *healthcheck.Checker
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Proxy, error) {
	if len(cfg.Targets) == 0 {
		return nil, errors.New("at least one upstream target is required")
	}

	lb, err := loadbalancer.NewStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	proxies := make(map[string]*httputil.ReverseProxy, len(cfg.Targets))
	for _, targetURL := range cfg.Targets {
		target, err := url.Parse(targetURL)
		if err != nil {
			return nil, err
		}
		proxies[targetURL] = httputil.NewSingleHostReverseProxy(target)
	}

	checker := healthcheck.NewChecker(healthcheck.Config{
		Targets:  cfg.Targets,
		Endpoint: cfg.HealthPath,
		Interval: cfg.HealthInterval,
	}, log)
	checker.Start()

	p := &Proxy{
		proxies: proxies,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		}),
		lb:      lb,
		checker: checker,
		log:     log.With().Str("component", "proxy").Logger(),
	}

	p.log.Info().Int("targets", len(cfg.Targets)).Str("strategy", lb.Name()).Msg("proxy initialized")

	return p, nil
}

// Handle forwards the request to a healthy upstream. The authorization
// middleware has already attached the decision context headers.
func (p *Proxy) Handle(c *gin.Context) {
	healthy := p.checker.HealthyTargets()
	if len(healthy) == 0 {
		p.log.Error().Msg("no healthy upstream targets")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No healthy backend servers available"})
		return
	}

	selected := p.lb.Next(healthy)
	targetProxy, ok := p.proxies[selected]
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to select backend server"})
		return
	}

	target, _ := url.Parse(selected)

	err := p.breaker.Call(func() error {
		recorder := &statusRecorder{ResponseWriter: c.Writer, statusCode: http.StatusOK}

		req := c.Request
		req.URL.Host = target.Host
		req.URL.Scheme = target.Scheme
		req.Host = target.Host
		if clientIP := c.ClientIP(); clientIP != "" {
			req.Header.Set("X-Forwarded-For", clientIP)
		}

		c.Writer = recorder
		targetProxy.ServeHTTP(c.Writer, req)

		if recorder.statusCode >= 500 {
			return errors.New("backend error")
		}
		return nil
	})

	if err == circuitbreaker.ErrCircuitOpen {
		p.log.Warn().Str("target", selected).Msg("upstream circuit open")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable"})
	}
}

// Healthy reports the upstream pool state for the gateway health check.
func (p *Proxy) Healthy() bool {
	return p.checker.AnyHealthy()
}

func (p *Proxy) Stop() {
	p.checker.Stop()
}

type statusRecorder struct {
	gin.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}
