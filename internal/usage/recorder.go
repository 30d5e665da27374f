// Package usage records per-request usage: an analytics event for every
// request, and a quota-consuming counter increment only for requests
// that completed successfully.
package usage

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapanjo92/v4-getcomplical-sub000/internal/metrics"
	"github.com/tapanjo92/v4-getcomplical-sub000/internal/models"
)

// Sink is the analytics append target. Delivery is at-least-once and
// duplicates are tolerable; the sink never participates in quota math.
type Sink interface {
	CreateBatch(ctx context.Context, events []models.UsageEvent) error
}

// QuotaConsumer applies the quota-consuming increment. Implemented by
// the sharded limiter's shard-write path.
type QuotaConsumer interface {
	Consume(ctx context.Context, key string) error
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

// Recorder buffers usage events and batch-writes them to the sink from a
// background worker. Enqueueing never blocks the request path: a full
// buffer drops the event and counts the drop.
type Recorder struct {
	sink    Sink
	limiter QuotaConsumer
	cfg     Config
	metrics *metrics.Metrics
	log     zerolog.Logger

	events chan models.UsageEvent
	done   chan struct{}
	wg     sync.WaitGroup
}

func NewRecorder(sink Sink, limiter QuotaConsumer, cfg Config, m *metrics.Metrics, log zerolog.Logger) *Recorder {
	r := &Recorder{
		sink:    sink,
		limiter: limiter,
		cfg:     cfg,
		metrics: m,
		log:     log.With().Str("component", "usage").Logger(),
		events:  make(chan models.UsageEvent, cfg.BufferSize),
		done:    make(chan struct{}),
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record applies the dual-write discipline for one completed request:
// the analytics event is always enqueued; the quota increment happens
// only for a 2xx outcome, keyed by quotaKey (empty when the request was
// denied and there is nothing to consume).
//
// Failures on either write are absorbed: analytics loss is tolerable,
// an increment loss under-counts usage and is logged as a correctness
// risk. Neither ever fails the request.
func (r *Recorder) Record(event models.UsageEvent, quotaKey string) {
	select {
	case r.events <- event:
	default:
		r.metrics.UsageEventsDropped.Inc()
		r.log.Warn().Str("request_id", event.RequestID.String()).Msg("usage buffer full, event dropped")
	}

	if quotaKey == "" || event.StatusCode < 200 || event.StatusCode > 299 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.limiter.Consume(ctx, quotaKey); err != nil {
		r.metrics.CounterWriteFailures.Inc()
		r.log.Error().Err(err).
			Str("request_id", event.RequestID.String()).
			Msg("quota increment failed, usage under-counted")
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]models.UsageEvent, 0, r.cfg.BatchSize)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-r.done:
			// Drain whatever is queued, then flush once.
			for {
				select {
				case ev := <-r.events:
					batch = append(batch, ev)
				default:
					if len(batch) > 0 {
						r.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (r *Recorder) flush(batch []models.UsageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.sink.CreateBatch(ctx, batch); err != nil {
		r.log.Error().Err(err).Int("events", len(batch)).Msg("usage sink write failed")
	}
}

// Close flushes pending events and stops the worker.
func (r *Recorder) Close() {
	close(r.done)
	r.wg.Wait()
}
