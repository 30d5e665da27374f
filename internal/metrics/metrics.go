package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's prometheus instruments. A single instance
// is constructed in main and injected where needed.
type Metrics struct {
	Decisions            *prometheus.CounterVec
	RateLimitRejections  prometheus.Counter
	KeyCacheHits         prometheus.Counter
	KeyCacheMisses       prometheus.Counter
	DecisionCacheHits    prometheus.Counter
	UsageEventsDropped   prometheus.Counter
	CounterWriteFailures prometheus.Counter
	AuthorizeLatency     prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "authz_decisions_total",
			Help:      "Authorization decisions by outcome (allow, deny_identity, deny_quota).",
		}, []string{"outcome"}),
		RateLimitRejections: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "ratelimit_rejections_total",
			Help:      "Requests rejected because the rolling-window quota was exhausted.",
		}),
		KeyCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "key_cache_hits_total",
			Help:      "Key directory resolutions served from cache.",
		}),
		KeyCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "key_cache_misses_total",
			Help:      "Key directory resolutions that fell through to the durable store.",
		}),
		DecisionCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "decision_cache_hits_total",
			Help:      "Allow decisions reused from the in-process decision cache.",
		}),
		UsageEventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "usage_events_dropped_total",
			Help:      "Usage events dropped because the recorder buffer was full.",
		}),
		CounterWriteFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "counter_write_failures_total",
			Help:      "Quota increments that failed; usage is under-counted.",
		}),
		AuthorizeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "authorize_latency_seconds",
			Help:      "Latency of the full authorization decision.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
