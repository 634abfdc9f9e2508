package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sos-cloud/internal/logging"
	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/infrastructure/postgres"
	"sos-cloud/internal/observation/query"
)

type config struct {
	dsn             string
	procedurePrefix string
	procedureCount  int
	properties      string
	offering        string
	startDate       string
	points          int
	step            time.Duration
	unit            string
	originLon       float64
	originLat       float64
	logLevel        string
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.procedureCount <= 0 {
		log.Fatal("procedure-count must be > 0")
	}
	if cfg.points <= 0 {
		log.Fatal("points must be > 0")
	}
	if cfg.step <= 0 {
		log.Fatal("step must be > 0")
	}

	start, err := parseStartDate(cfg.startDate)
	if err != nil {
		log.Fatalf("invalid start-date: %v", err)
	}

	logger, err := logging.NewLogger(cfg.logLevel, "console", "obs-seed")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ingest, err := buildIngest(db, logger)
	if err != nil {
		log.Fatalf("wire ingest: %v", err)
	}

	ctx := context.Background()
	procedures := buildIDs(cfg.procedurePrefix, cfg.procedureCount)
	properties := splitList(cfg.properties)
	log.Printf("seeding observations: procedures=%d properties=%d points=%d step=%s", len(procedures), len(properties), cfg.points, cfg.step)

	began := time.Now()
	total := 0
	for i, procedure := range procedures {
		feature := &observation.Feature{
			Identifier: procedure + "-site",
			Name:       procedure + " site",
			Geometry:   orb.Point{cfg.originLon + float64(i)*0.01, cfg.originLat},
		}
		for _, property := range properties {
			n, err := seedSeries(ctx, ingest, cfg, procedure, property, feature, start)
			if err != nil {
				log.Fatalf("seed %s/%s: %v", procedure, property, err)
			}
			total += n
		}
	}

	log.Printf("obs seed completed: observations=%d elapsed=%s", total, time.Since(began).Round(time.Millisecond))
}

func buildIngest(db *sql.DB, logger *zap.Logger) (*application.IngestService, error) {
	registry := observation.NewRegistry()
	store, err := postgres.NewStore(db, postgres.WithRegistry(registry))
	if err != nil {
		return nil, err
	}
	compiler, err := query.NewCompiler(registry)
	if err != nil {
		return nil, err
	}
	series, err := application.NewSeriesRegistry(registry, compiler, 0, logger)
	if err != nil {
		return nil, err
	}
	return application.NewIngestService(store, registry, series, application.NewExtremaTracker(logger), logger)
}

// seedSeries inserts a random walk with shuffled phenomenon times so the
// extrema tracker sees out-of-order arrivals.
func seedSeries(ctx context.Context, ingest *application.IngestService, cfg config, procedure, property string, feature *observation.Feature, start time.Time) (int, error) {
	key := observation.SeriesKey{
		Procedure:          procedure,
		ObservableProperty: property,
		FeatureOfInterest:  feature.Identifier,
		Offering:           cfg.offering,
	}
	site, _ := feature.Geometry.(orb.Point)
	order := rand.Perm(cfg.points)
	value := decimal.NewFromInt(20)
	for _, idx := range order {
		value = value.Add(decimal.NewFromFloat(rand.Float64() - 0.5)).Round(3)
		at := start.Add(time.Duration(idx) * cfg.step)
		_, err := ingest.InsertObservation(ctx, application.InsertRequest{
			Key:       key,
			Published: true,
			ValueType: string(observation.TypeNumeric),
			Feature:   feature,
			Observation: &observation.Observation{
				Identifier:       fmt.Sprintf("%s-%s-%06d", procedure, property, idx),
				PhenomenonTime:   observation.Instant(at),
				ResultTime:       at,
				SamplingGeometry: orb.Point{site.Lon() + rand.Float64()*0.001, site.Lat() + rand.Float64()*0.001},
				Unit:             cfg.unit,
				Value:            observation.NumericValue{Value: value},
			},
		})
		if err != nil {
			return 0, err
		}
	}
	return cfg.points, nil
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.StringVar(&cfg.procedurePrefix, "procedure-prefix", envOrDefault("PROCEDURE_PREFIX", "proc-perf-"), "procedure id prefix")
	flag.IntVar(&cfg.procedureCount, "procedure-count", envOrInt("PROCEDURE_COUNT", 5), "number of procedures to seed")
	flag.StringVar(&cfg.properties, "properties", envOrDefault("PROPERTIES", "air_temperature,humidity"), "comma separated observable properties")
	flag.StringVar(&cfg.offering, "offering", envOrDefault("OFFERING", "offering-perf"), "offering of every seeded series")
	flag.StringVar(&cfg.startDate, "start-date", envOrDefault("START_DATE", ""), "start date (YYYY-MM-DD or RFC3339)")
	flag.IntVar(&cfg.points, "points", envOrInt("POINTS", 96), "observations per series")
	flag.DurationVar(&cfg.step, "step", envOrDuration("STEP", 15*time.Minute), "phenomenon time step")
	flag.StringVar(&cfg.unit, "unit", envOrDefault("UNIT", "degC"), "unit of measure")
	flag.Float64Var(&cfg.originLon, "origin-lon", envOrFloat("ORIGIN_LON", 7.65), "longitude of the first feature")
	flag.Float64Var(&cfg.originLat, "origin-lat", envOrFloat("ORIGIN_LAT", 51.95), "latitude of the features")
	flag.StringVar(&cfg.logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "log level")
	flag.Parse()
	return cfg
}

func parseStartDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour), nil
	}
	if strings.Contains(value, "T") {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, err
		}
		return parsed.UTC(), nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, err
	}
	return parsed.UTC(), nil
}

func buildIDs(prefix string, count int) []string {
	list := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		list = append(list, fmt.Sprintf("%s%04d", prefix, i))
	}
	return list
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

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func envOrFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return value
}
