// Package observability exports the aggregator's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Normalization outcomes used as the "outcome" label.
const (
	OutcomeCanonical     = "canonical"
	OutcomeConverted     = "converted"
	OutcomeNoHistory     = "no_history"
	OutcomeMissingIssuer = "missing_issuer"
	OutcomeZeroVWAP      = "zero_vwap"
	OutcomeLookupError   = "lookup_error"
)

// Metrics groups every collector the aggregator, stores and stream report to.
type Metrics struct {
	// Queue metrics
	EventsEnqueued prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Cycle metrics
	CyclesTotal    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	CycleBatchSize prometheus.Histogram
	BucketsTouched prometheus.Counter

	// Cache metrics
	CachedBuckets  prometheus.Gauge
	BucketsEvicted prometheus.Counter
	RateCacheHits  prometheus.Counter

	// Normalization metrics
	Normalizations *prometheus.CounterVec

	// Store metrics
	StoreCallDuration *prometheus.HistogramVec
	StoreCallErrors   *prometheus.CounterVec

	// Stream metrics
	StreamMessages   *prometheus.CounterVec
	StreamReconnects prometheus.Counter

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "ledger_payment_stats"
	}

	return &Metrics{
		EventsEnqueued: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "events_enqueued_total",
			Help:      "Total number of payment events enqueued",
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of events waiting for the next cycle",
		}),

		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of aggregation cycles by status",
		}, []string{"status"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Aggregation cycle duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CycleBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "batch_size",
			Help:      "Number of events drained per cycle",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		BucketsTouched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "buckets_touched_total",
			Help:      "Total number of buckets written by successful cycles",
		}),

		CachedBuckets: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "buckets",
			Help:      "Number of (day, account) buckets held in memory",
		}),
		BucketsEvicted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "buckets_evicted_total",
			Help:      "Total number of buckets removed by the reaper",
		}),
		RateCacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "rate_hits_total",
			Help:      "Total number of rate lookups served from memory",
		}),

		Normalizations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "normalizer",
			Name:      "events_total",
			Help:      "Total number of normalized events by outcome",
		}, []string{"outcome"}),

		StoreCallDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "call_duration_seconds",
			Help:      "Store call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		StoreCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "call_errors_total",
			Help:      "Total number of failed store calls",
		}, []string{"operation"}),

		StreamMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Total number of stream messages by result",
		}, []string{"result"}),
		StreamReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of stream reconnect attempts",
		}),

		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful cycle",
		}),
	}
}

// Handler serves the default registry on /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEnqueued increments the enqueued counter and sets the queue depth.
func RecordEnqueued(depth int) {
	DefaultMetrics.EventsEnqueued.Inc()
	DefaultMetrics.QueueDepth.Set(float64(depth))
}

// SetQueueDepth updates the queue depth gauge.
func SetQueueDepth(depth int) {
	DefaultMetrics.QueueDepth.Set(float64(depth))
}

// RecordCycle records a finished cycle.
func RecordCycle(status string, seconds float64, batchSize, touched int, finishedAt int64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(seconds)
	DefaultMetrics.CycleBatchSize.Observe(float64(batchSize))
	if status == "success" {
		DefaultMetrics.BucketsTouched.Add(float64(touched))
		DefaultMetrics.LastSuccessfulCycle.Set(float64(finishedAt))
	}
}

// SetCachedBuckets updates the cached bucket gauge.
func SetCachedBuckets(n int) {
	DefaultMetrics.CachedBuckets.Set(float64(n))
}

// RecordEvictions records buckets removed by the reaper.
func RecordEvictions(n int) {
	DefaultMetrics.BucketsEvicted.Add(float64(n))
}

// RecordRateCacheHit increments the rate memo hit counter.
func RecordRateCacheHit() {
	DefaultMetrics.RateCacheHits.Inc()
}

// RecordNormalization counts one normalized event by outcome.
func RecordNormalization(outcome string) {
	DefaultMetrics.Normalizations.WithLabelValues(outcome).Inc()
}

// RecordStoreCall records store call metrics.
func RecordStoreCall(operation string, seconds float64, err error) {
	DefaultMetrics.StoreCallDuration.WithLabelValues(operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.StoreCallErrors.WithLabelValues(operation).Inc()
	}
}

// RecordStreamMessage counts one stream message by result.
func RecordStreamMessage(result string) {
	DefaultMetrics.StreamMessages.WithLabelValues(result).Inc()
}

// RecordStreamReconnect increments the reconnect counter.
func RecordStreamReconnect() {
	DefaultMetrics.StreamReconnects.Inc()
}
