// Package healthcheck probes the tax-data upstream targets so the proxy
// only routes to backends that are answering.
package healthcheck

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Status struct {
	Target       string
	IsHealthy    bool
	LastCheck    time.Time
	FailureCount int
}

type Config struct {
	Targets     []string
	Endpoint    string        // default "/health"
	Interval    time.Duration // default 10s
	Timeout     time.Duration // default 5s
	MaxFailures int           // probes before marking unhealthy, default 3
}

type Checker struct {
	mu       sync.RWMutex
	targets  []string
	statuses map[string]*Status
	healthy  []string

	endpoint    string
	interval    time.Duration
	timeout     time.Duration
	maxFailures int

	log      zerolog.Logger
	stopChan chan struct{}
	running  bool
}

func NewChecker(cfg Config, log zerolog.Logger) *Checker {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "/health"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}

	c := &Checker{
		targets:     cfg.Targets,
		statuses:    make(map[string]*Status, len(cfg.Targets)),
		healthy:     append([]string(nil), cfg.Targets...),
		endpoint:    cfg.Endpoint,
		interval:    cfg.Interval,
		timeout:     cfg.Timeout,
		maxFailures: cfg.MaxFailures,
		log:         log.With().Str("component", "healthcheck").Logger(),
		stopChan:    make(chan struct{}),
	}

	// Targets start healthy until proven otherwise.
	for _, target := range cfg.Targets {
		c.statuses[target] = &Status{Target: target, IsHealthy: true}
	}

	return c
}

func (c *Checker) Start() {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	c.mu.Unlock()

	c.checkAll()

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.checkAll()
			case <-c.stopChan:
				return
			}
		}
	}()
}

func (c *Checker) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		close(c.stopChan)
		c.running = false
	}
}

func (c *Checker) checkAll() {
	var wg sync.WaitGroup

	for _, target := range c.targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.probe(target)
		}()
	}

	wg.Wait()
	c.rebuildHealthy()
}

func (c *Checker) probe(target string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target+c.endpoint, nil)
	if err != nil {
		c.record(target, false)
		return
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.record(target, false)
		return
	}
	defer resp.Body.Close()

	c.record(target, resp.StatusCode >= 200 && resp.StatusCode < 400)
}

func (c *Checker) record(target string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.statuses[target]
	status.LastCheck = time.Now()

	if ok {
		status.FailureCount = 0
		if !status.IsHealthy {
			c.log.Info().Str("target", target).Msg("upstream recovered")
			status.IsHealthy = true
		}
		return
	}

	status.FailureCount++
	if status.IsHealthy && status.FailureCount >= c.maxFailures {
		c.log.Warn().Str("target", target).Int("failures", status.FailureCount).Msg("upstream marked unhealthy")
		status.IsHealthy = false
	}
}

func (c *Checker) rebuildHealthy() {
	c.mu.Lock()
	defer c.mu.Unlock()

	healthy := make([]string, 0, len(c.targets))
	for _, target := range c.targets {
		if c.statuses[target].IsHealthy {
			healthy = append(healthy, target)
		}
	}
	c.healthy = healthy
}

// HealthyTargets returns a copy of the targets currently passing probes.
func (c *Checker) HealthyTargets() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	targets := make([]string, len(c.healthy))
	copy(targets, c.healthy)
	return targets
}

// AllHealthy reports whether every target is passing.
func (c *Checker) AllHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.healthy) == len(c.targets)
}

// AnyHealthy reports whether at least one target is passing.
func (c *Checker) AnyHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.healthy) > 0
}
