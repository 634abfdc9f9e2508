package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "sos_"

	resultSuccess = "success"
	resultError   = "error"

	resolveCreated     = "created"
	resolveExisting    = "existing"
	resolveReactivated = "reactivated"
	resolveConflict    = "conflict"
	resolveFailed      = "failed"
)

var (
	registerOnce sync.Once

	seriesResolveTotal *prometheus.CounterVec

	queryTotal   *prometheus.CounterVec
	queryLatency *prometheus.HistogramVec
	queryFanout  *prometheus.HistogramVec

	openCursors prometheus.Gauge

	extremaRecomputeTotal *prometheus.CounterVec

	ingestTotal   *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec

	snapshotTotal *prometheus.CounterVec

	reportExportTotal   *prometheus.CounterVec
	reportExportLatency *prometheus.HistogramVec
)

// Init registers engine metrics and, when db is set, DB-backed gauges read
// from seriesTable ("series" when empty).
func Init(db *sql.DB, seriesTable string, logger *zap.Logger) {
	registerOnce.Do(func() {
		seriesResolveTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "series_resolve_total",
				Help: "Total series resolutions by outcome",
			},
			[]string{"outcome"},
		)

		queryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "query_total",
				Help: "Total executed queries by mode and result",
			},
			[]string{"mode", "result"},
		)
		queryLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_latency_seconds",
				Help:    "Query latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode", "result"},
		)
		queryFanout = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "query_fanout_queries",
				Help:    "Backend queries issued per request",
				Buckets: []float64{1, 2, 4, 8, 12, 24, 48, 96},
			},
			[]string{"mode"},
		)

		openCursors = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "open_cursors",
				Help: "Streaming cursors currently open",
			},
		)

		extremaRecomputeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "extrema_recompute_total",
				Help: "Total series extrema recomputations by bound",
			},
			[]string{"bound"},
		)

		ingestTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_total",
				Help: "Total observation writes by operation and result",
			},
			[]string{"operation", "result"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Observation write latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "result"},
		)

		snapshotTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "capabilities_snapshot_total",
				Help: "Total capabilities snapshot writes by result",
			},
			[]string{"result"},
		)

		reportExportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_export_total",
				Help: "Total series report exports by format and result",
			},
			[]string{"format", "result"},
		)
		reportExportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "report_export_latency_seconds",
				Help:    "Series report export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			seriesResolveTotal,
			queryTotal,
			queryLatency,
			queryFanout,
			openCursors,
			extremaRecomputeTotal,
			ingestTotal,
			ingestLatency,
			snapshotTotal,
			reportExportTotal,
			reportExportLatency,
		)

		if db != nil {
			registerDBMetrics(prometheus.DefaultRegisterer, db, seriesTable, logger)
		}
	})
}

// IncSeriesResolve counts a series resolution outcome.
func IncSeriesResolve(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	if seriesResolveTotal != nil {
		seriesResolveTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveQuery records query latency, result and backend fan-out.
func ObserveQuery(mode, result string, fanout int, duration time.Duration) {
	if mode == "" {
		mode = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if queryTotal != nil {
		queryTotal.WithLabelValues(mode, result).Inc()
	}
	if queryLatency != nil {
		queryLatency.WithLabelValues(mode, result).Observe(duration.Seconds())
	}
	if queryFanout != nil && fanout > 0 {
		queryFanout.WithLabelValues(mode).Observe(float64(fanout))
	}
}

// CursorOpened increments the open cursor gauge.
func CursorOpened() {
	if openCursors != nil {
		openCursors.Inc()
	}
}

// CursorClosed decrements the open cursor gauge.
func CursorClosed() {
	if openCursors != nil {
		openCursors.Dec()
	}
}

// IncExtremaRecompute counts a bound re-derivation.
func IncExtremaRecompute(bound string) {
	if bound == "" {
		bound = "unknown"
	}
	if extremaRecomputeTotal != nil {
		extremaRecomputeTotal.WithLabelValues(bound).Inc()
	}
}

// ObserveIngest records write latency and result.
func ObserveIngest(operation, result string, duration time.Duration) {
	if operation == "" {
		operation = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestTotal != nil {
		ingestTotal.WithLabelValues(operation, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(operation, result).Observe(duration.Seconds())
	}
}

// IncSnapshot counts a capabilities snapshot write.
func IncSnapshot(result string) {
	if result == "" {
		result = resultSuccess
	}
	if snapshotTotal != nil {
		snapshotTotal.WithLabelValues(result).Inc()
	}
}

// ObserveReportExport records export latency and result.
func ObserveReportExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExportTotal != nil {
		reportExportTotal.WithLabelValues(format, result).Inc()
	}
	if reportExportLatency != nil {
		reportExportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	ResolveCreated     = resolveCreated
	ResolveExisting    = resolveExisting
	ResolveReactivated = resolveReactivated
	ResolveConflict    = resolveConflict
	ResolveFailed      = resolveFailed
)
