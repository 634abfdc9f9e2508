package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/infrastructure/postgres"
	"sos-cloud/internal/observation/interfaces/report"
	"sos-cloud/internal/observation/query"
)

type config struct {
	dbURL      string
	outDir     string
	formats    string
	title      string
	procedures string
	offerings  string
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

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	registry := observation.NewRegistry()
	store, err := postgres.NewStore(db, postgres.WithRegistry(registry))
	if err != nil {
		fmt.Fprintln(os.Stderr, "store:", err)
		os.Exit(2)
	}
	compiler, err := query.NewCompiler(registry)
	if err != nil {
		fmt.Fprintln(os.Stderr, "compiler:", err)
		os.Exit(2)
	}
	logger := zap.NewNop()
	series, err := application.NewSeriesRegistry(registry, compiler, 0, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "series registry:", err)
		os.Exit(2)
	}

	filter := observation.Filter{
		Procedures: splitList(cfg.procedures),
		Offerings:  splitList(cfg.offerings),
	}
	rep, err := report.Build(context.Background(), series, application.NewExtremaTracker(logger), store, filter, time.Now().UTC())
	if err != nil {
		fmt.Fprintln(os.Stderr, "build report:", err)
		os.Exit(2)
	}
	rep.Title = cfg.title

	for _, format := range splitList(cfg.formats) {
		format = strings.ToLower(format)
		data, err := report.Export(format, rep)
		if err != nil {
			fmt.Fprintf(os.Stderr, "export %s: %v\n", format, err)
			os.Exit(2)
		}
		path := filepath.Join(cfg.outDir, "series_report."+format)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(2)
		}
		fmt.Printf("%s written (%d series)\n", path, len(rep.Series))
	}
}

func parseFlags() (config, error) {
	cfg := config{}
	flag.StringVar(&cfg.dbURL, "db-url", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.outDir, "out-dir", getenvDefault("OUT_DIR", "report-out"), "output directory")
	flag.StringVar(&cfg.formats, "formats", "csv,xlsx,pdf", "comma separated formats")
	flag.StringVar(&cfg.title, "title", "", "report title")
	flag.StringVar(&cfg.procedures, "procedures", "", "comma separated procedures (default all)")
	flag.StringVar(&cfg.offerings, "offerings", "", "comma separated offerings (default all)")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("db-url is required")
	}
	if len(splitList(cfg.formats)) == 0 {
		return cfg, errors.New("formats is required")
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
