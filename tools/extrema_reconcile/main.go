package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sos-cloud/internal/logging"
	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/infrastructure/postgres"
	"sos-cloud/internal/observation/query"
)

const timeLayout = time.RFC3339

// errDryRun rolls back the reconcile transaction.
var errDryRun = errors.New("dry run")

type config struct {
	dbURL      string
	outDir     string
	procedures string
	offerings  string
	apply      bool
	logLevel   string
}

type diffRow struct {
	SeriesID    int64
	Key         observation.SeriesKey
	FirstBefore time.Time
	FirstAfter  time.Time
	LastBefore  time.Time
	LastAfter   time.Time
	ValueBefore decimal.NullDecimal
	ValueAfter  decimal.NullDecimal
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(cfg.logLevel, "console", "extrema-reconcile")
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx := context.Background()
	filter := observation.Filter{
		Procedures:            splitList(cfg.procedures),
		Offerings:             splitList(cfg.offerings),
		IncludeHiddenChildren: true,
	}
	diffs, checked, err := reconcile(ctx, db, filter, cfg.apply, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reconcile:", err)
		os.Exit(2)
	}

	if err := writeDiffReport(cfg.outDir, diffs); err != nil {
		fmt.Fprintln(os.Stderr, "write diff report:", err)
		os.Exit(2)
	}

	mode := "dry-run"
	if cfg.apply {
		mode = "applied"
	}
	fmt.Printf("Checked %d series, %d drifted (%s). Report written to %s\n", checked, len(diffs), mode, cfg.outDir)
}

// reconcile recomputes the extrema of every matching series inside one
// transaction, rolled back unless apply is set.
func reconcile(ctx context.Context, db *sql.DB, filter observation.Filter, apply bool, logger *zap.Logger) ([]diffRow, int, error) {
	registry := observation.NewRegistry()
	store, err := postgres.NewStore(db, postgres.WithRegistry(registry))
	if err != nil {
		return nil, 0, err
	}
	compiler, err := query.NewCompiler(registry)
	if err != nil {
		return nil, 0, err
	}
	seriesRegistry, err := application.NewSeriesRegistry(registry, compiler, 0, logger)
	if err != nil {
		return nil, 0, err
	}
	tracker := application.NewExtremaTracker(logger)

	var (
		diffs   []diffRow
		checked int
	)
	err = store.WithinTx(ctx, func(ctx context.Context, tx observation.Session) error {
		list, err := seriesRegistry.QueryByIdentity(ctx, tx, filter)
		if err != nil {
			return err
		}
		for _, listed := range list {
			series, err := tx.Series().GetForUpdate(ctx, listed.ID)
			if err != nil {
				return fmt.Errorf("series %d: %w", listed.ID, err)
			}
			if series == nil {
				continue
			}
			before := *series
			changed, err := tracker.Recompute(ctx, tx, series)
			if err != nil {
				return fmt.Errorf("series %d: %w", series.ID, err)
			}
			checked++
			if !changed {
				continue
			}
			diffs = append(diffs, diffRow{
				SeriesID:    series.ID,
				Key:         series.Key,
				FirstBefore: before.FirstTimeStamp,
				FirstAfter:  series.FirstTimeStamp,
				LastBefore:  before.LastTimeStamp,
				LastAfter:   series.LastTimeStamp,
				ValueBefore: before.LastValue,
				ValueAfter:  series.LastValue,
			})
		}
		if !apply {
			return errDryRun
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRun) {
		return nil, 0, err
	}
	return diffs, checked, nil
}

func writeDiffReport(outDir string, rows []diffRow) error {
	path := filepath.Join(outDir, "extrema_diff.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{
		"series_id",
		"procedure",
		"observable_property",
		"feature_of_interest",
		"offering",
		"first_before",
		"first_after",
		"last_before",
		"last_after",
		"last_value_before",
		"last_value_after",
	}); err != nil {
		return err
	}
	for _, row := range rows {
		if err := writer.Write([]string{
			strconv.FormatInt(row.SeriesID, 10),
			row.Key.Procedure,
			row.Key.ObservableProperty,
			row.Key.FeatureOfInterest,
			row.Key.Offering,
			formatTime(row.FirstBefore),
			formatTime(row.FirstAfter),
			formatTime(row.LastBefore),
			formatTime(row.LastAfter),
			formatDecimal(row.ValueBefore),
			formatDecimal(row.ValueAfter),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func parseFlags() (config, error) {
	cfg := config{}
	flag.StringVar(&cfg.dbURL, "db-url", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.outDir, "out-dir", getenvDefault("OUT_DIR", "reconcile-out"), "output directory")
	flag.StringVar(&cfg.procedures, "procedures", "", "comma separated procedures to check (default all)")
	flag.StringVar(&cfg.offerings, "offerings", "", "comma separated offerings to check (default all)")
	flag.BoolVar(&cfg.apply, "apply", false, "persist corrected extrema")
	flag.StringVar(&cfg.logLevel, "log-level", getenvDefault("LOG_LEVEL", "warn"), "log level")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("db-url is required")
	}
	if cfg.outDir == "" {
		return cfg, errors.New("out-dir is required")
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}

func formatDecimal(value decimal.NullDecimal) string {
	if !value.Valid {
		return ""
	}
	return value.Decimal.String()
}
