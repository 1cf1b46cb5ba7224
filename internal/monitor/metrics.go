package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"safe-sql-sandbox/internal/sandbox"
)

// Metrics holds all Prometheus metrics for the query sandbox.
type Metrics struct {
	Registry *prometheus.Registry

	QueriesTotal      *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	BlockedReasons    *prometheus.CounterVec
	ActiveQueries     prometheus.Gauge
	QuerySizeBytes    prometheus.Histogram
	ResultRows        prometheus.Histogram
	Grades            *prometheus.CounterVec
	HintsTotal        *prometheus.CounterVec
	AttemptsDropped   prometheus.Counter
	AttemptWriteFails prometheus.Counter
	RequestsInFlight  prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		QueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlsandbox",
				Name:      "queries_total",
				Help:      "Total number of submitted queries by outcome.",
			},
			[]string{"outcome"},
		),

		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sqlsandbox",
				Name:      "query_duration_seconds",
				Help:      "End-to-end duration of query executions in seconds.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"outcome"},
		),

		BlockedReasons: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlsandbox",
				Name:      "blocked_reasons_total",
				Help:      "Sanitizer rejections by reason.",
			},
			[]string{"reason"},
		),

		ActiveQueries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sqlsandbox",
				Name:      "active_queries",
				Help:      "Number of queries currently executing.",
			},
		),

		QuerySizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sqlsandbox",
				Name:      "query_size_bytes",
				Help:      "Size of submitted query text in bytes.",
				Buckets:   prometheus.ExponentialBuckets(16, 4, 7),
			},
		),

		ResultRows: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "sqlsandbox",
				Name:      "result_rows",
				Help:      "Rows returned per successful query.",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),

		Grades: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlsandbox",
				Name:      "grades_total",
				Help:      "Correctness grades by result.",
			},
			[]string{"correctness"},
		),

		HintsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sqlsandbox",
				Name:      "hints_total",
				Help:      "Hints served by source.",
			},
			[]string{"source"},
		),

		AttemptsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sqlsandbox",
				Name:      "attempts_dropped_total",
				Help:      "Attempt records dropped because the write buffer was full.",
			},
		),

		AttemptWriteFails: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "sqlsandbox",
				Name:      "attempt_write_failures_total",
				Help:      "Attempt records that could not be persisted after retries.",
			},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "sqlsandbox",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),
	}

	// Register all collectors
	reg.MustRegister(
		m.QueriesTotal,
		m.QueryDuration,
		m.BlockedReasons,
		m.ActiveQueries,
		m.QuerySizeBytes,
		m.ResultRows,
		m.Grades,
		m.HintsTotal,
		m.AttemptsDropped,
		m.AttemptWriteFails,
		m.RequestsInFlight,
	)

	return m
}

// RegisterPool exposes sandbox pool usage through gauge and counter funcs.
func (m *Metrics) RegisterPool(stats func() sandbox.Stats) {
	m.Registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sqlsandbox",
			Subsystem: "pool",
			Name:      "capacity",
			Help:      "Maximum simultaneously leased sandbox connections.",
		}, func() float64 { return float64(stats().Capacity) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "sqlsandbox",
			Subsystem: "pool",
			Name:      "in_use",
			Help:      "Sandbox connections currently leased.",
		}, func() float64 { return float64(stats().InUse) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "sqlsandbox",
			Subsystem: "pool",
			Name:      "leases_total",
			Help:      "Sandbox connections leased.",
		}, func() float64 { return float64(stats().Leases) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "sqlsandbox",
			Subsystem: "pool",
			Name:      "releases_total",
			Help:      "Sandbox connections released.",
		}, func() float64 { return float64(stats().Releases) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: "sqlsandbox",
			Subsystem: "pool",
			Name:      "acquire_failures_total",
			Help:      "Lease attempts that timed out or could not connect.",
		}, func() float64 { return float64(stats().AcquireFailures) }),
	)
}

// RecordQuery records metrics for a finished query.
func (m *Metrics) RecordQuery(outcome string, durationSec float64) {
	m.QueriesTotal.WithLabelValues(outcome).Inc()
	m.QueryDuration.WithLabelValues(outcome).Observe(durationSec)
}

// RecordBlocked records one sanitizer rejection per reason.
func (m *Metrics) RecordBlocked(reasons []string) {
	for _, r := range reasons {
		m.BlockedReasons.WithLabelValues(r).Inc()
	}
}

// RecordGrade records a correctness grade.
func (m *Metrics) RecordGrade(correctness string) {
	m.Grades.WithLabelValues(correctness).Inc()
}

// RecordHint records a served hint by source (cache, llm, static).
func (m *Metrics) RecordHint(source string) {
	m.HintsTotal.WithLabelValues(source).Inc()
}
