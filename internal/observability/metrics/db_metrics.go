package metrics

import (
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultSeriesTable = "series"

func registerDBMetrics(reg prometheus.Registerer, db *sql.DB, seriesTable string, logger *zap.Logger) {
	if seriesTable == "" {
		seriesTable = defaultSeriesTable
	}
	activeQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE deleted = false", seriesTable)
	unboundedQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE deleted = false AND (first_time_stamp IS NULL OR last_time_stamp IS NULL)", seriesTable)

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "series_active",
			Help: "Non-deleted series",
		},
		func() float64 {
			return queryCount(db, logger, activeQuery)
		},
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "series_without_extrema",
			Help: "Non-deleted series with unset time bounds",
		},
		func() float64 {
			return queryCount(db, logger, unboundedQuery)
		},
	))

	reg.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "db_open_connections",
			Help: "Open database connections",
		},
		func() float64 {
			return float64(db.Stats().OpenConnections)
		},
	))
}

func queryCount(db *sql.DB, logger *zap.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Warn("metrics query failed", zap.Error(err))
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
