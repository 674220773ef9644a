package reqflow

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector holds the Prometheus instruments for one Scheduler. All
// record methods are safe on a nil receiver, so instrumented code paths need
// no guards.
type MetricsCollector struct {
	submissionsTotal   prometheus.Counter
	attemptsTotal      *prometheus.CounterVec
	attemptDuration    *prometheus.HistogramVec
	retriesTotal       prometheus.Counter
	errorsTotal        *prometheus.CounterVec
	cancellationsTotal prometheus.Counter

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal prometheus.Counter
	cacheEntries     prometheus.Gauge
	cacheBytes       prometheus.Gauge

	queueDepth prometheus.Gauge
	inFlight   prometheus.Gauge

	tokenRefreshTotal       *prometheus.CounterVec
	tokenInvalidationsTotal prometheus.Counter

	circuitTransitionsTotal *prometheus.CounterVec
}

// NewMetricsCollector registers the instruments on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry registers the instruments on reg; useful
// for tests and multi-instance setups.
func NewMetricsCollectorWithRegistry(reg prometheus.Registerer) *MetricsCollector {
	factory := promauto.With(reg)

	return &MetricsCollector{
		submissionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reqflow_submissions_total",
			Help: "Total operations submitted to the scheduler.",
		}),
		attemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reqflow_attempts_total",
			Help: "Total transport attempts by method and status code.",
		}, []string{"method", "status"}),
		attemptDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reqflow_attempt_duration_seconds",
			Help:    "Transport attempt duration by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		retriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reqflow_retries_total",
			Help: "Total retry attempts scheduled.",
		}),
		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reqflow_errors_total",
			Help: "Total terminal errors by classification.",
		}, []string{"class"}),
		cancellationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reqflow_cancellations_total",
			Help: "Total operations cancelled by the caller.",
		}),
		cacheHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reqflow_cache_hits_total",
			Help: "Total cache hits by state (fresh or stale).",
		}, []string{"state"}),
		cacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reqflow_cache_misses_total",
			Help: "Total cache misses.",
		}),
		cacheEntries: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reqflow_cache_entries",
			Help: "Current number of cache entries.",
		}),
		cacheBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reqflow_cache_bytes",
			Help: "Current cached payload bytes.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reqflow_queue_depth",
			Help: "Operations waiting for an execution slot.",
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "reqflow_in_flight",
			Help: "Operations currently holding an execution slot.",
		}),
		tokenRefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reqflow_token_refresh_total",
			Help: "Total token refresh exchanges by outcome.",
		}, []string{"outcome"}),
		tokenInvalidationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "reqflow_token_invalidations_total",
			Help: "Total token invalidations after rejected attempts.",
		}),
		circuitTransitionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "reqflow_circuit_transitions_total",
			Help: "Total circuit breaker state transitions.",
		}, []string{"from", "to"}),
	}
}

func (m *MetricsCollector) RecordSubmission() {
	if m == nil {
		return
	}
	m.submissionsTotal.Inc()
}

func (m *MetricsCollector) RecordAttempt(method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.attemptsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.attemptDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *MetricsCollector) RecordRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}

func (m *MetricsCollector) RecordError(class Classification) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(string(class)).Inc()
}

func (m *MetricsCollector) RecordCancellation() {
	if m == nil {
		return
	}
	m.cancellationsTotal.Inc()
}

func (m *MetricsCollector) RecordCacheHit(state LookupState) {
	if m == nil {
		return
	}
	m.cacheHitsTotal.WithLabelValues(state.String()).Inc()
}

func (m *MetricsCollector) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.cacheMissesTotal.Inc()
}

func (m *MetricsCollector) UpdateCacheSize(entries int, bytes int64) {
	if m == nil {
		return
	}
	m.cacheEntries.Set(float64(entries))
	m.cacheBytes.Set(float64(bytes))
}

func (m *MetricsCollector) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *MetricsCollector) SetInFlight(n int) {
	if m == nil {
		return
	}
	m.inFlight.Set(float64(n))
}

func (m *MetricsCollector) RecordTokenRefresh(outcome string) {
	if m == nil {
		return
	}
	m.tokenRefreshTotal.WithLabelValues(outcome).Inc()
}

func (m *MetricsCollector) RecordTokenInvalidation() {
	if m == nil {
		return
	}
	m.tokenInvalidationsTotal.Inc()
}

func (m *MetricsCollector) RecordCircuitTransition(from, to string) {
	if m == nil {
		return
	}
	m.circuitTransitionsTotal.WithLabelValues(from, to).Inc()
}
