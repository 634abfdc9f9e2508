package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "sos-cloud/internal/api/http"
	"sos-cloud/internal/capabilities"
	"sos-cloud/internal/config"
	"sos-cloud/internal/logging"
	"sos-cloud/internal/observability/metrics"
	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/infrastructure/postgres"
	"sos-cloud/internal/observation/query"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("DATABASE_URL or PG_DSN is required")
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Service.Name)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("db open error", zap.Error(err))
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		logger.Fatal("db ping error", zap.Error(err))
	}

	registry := observation.NewRegistry()
	store, err := postgres.NewStore(db, postgres.WithRegistry(registry), postgres.WithSRID(cfg.Engine.SRID))
	if err != nil {
		logger.Fatal("observation store error", zap.Error(err))
	}
	metrics.Init(db, store.Tables().Series, logger)
	compiler, err := query.NewCompiler(registry,
		query.WithMaxInList(cfg.Engine.MaxInList),
		query.WithExtremaMode(query.ExtremaMode(cfg.Engine.ExtremaMode)),
	)
	if err != nil {
		logger.Fatal("query compiler error", zap.Error(err))
	}
	seriesRegistry, err := application.NewSeriesRegistry(registry, compiler, cfg.Engine.SeriesCreateAttempts, logger)
	if err != nil {
		logger.Fatal("series registry error", zap.Error(err))
	}
	tracker := application.NewExtremaTracker(logger)
	executor, err := application.NewQueryExecutor(store, compiler, cfg.Engine.PageSize, logger)
	if err != nil {
		logger.Fatal("query executor error", zap.Error(err))
	}

	seriesHandler, err := apihttp.NewSeriesHandler(seriesRegistry, store, logger)
	if err != nil {
		logger.Fatal("series handler error", zap.Error(err))
	}
	exportHandler, err := apihttp.NewExportSeriesHandler(seriesRegistry, tracker, store, logger)
	if err != nil {
		logger.Fatal("export handler error", zap.Error(err))
	}
	observationsHandler, err := apihttp.NewObservationsHandler(executor, registry, logger)
	if err != nil {
		logger.Fatal("observations handler error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("/api/v1/series", seriesHandler)
	mux.Handle("/api/v1/exports/series", exportHandler)
	mux.Handle("/api/v1/observations", observationsHandler)

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		kv := capabilities.NewRedisKVStore(client)

		writer, err := capabilities.NewWriter(store, tracker, kv, capabilities.WriterConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
			Interval:  cfg.Snapshot.Interval,
		}, logger)
		if err != nil {
			logger.Fatal("capabilities writer error", zap.Error(err))
		}
		go writer.Run(ctx)

		snapshotHandler, err := apihttp.NewSnapshotHandler(kv, cfg.Redis.KeyPrefix)
		if err != nil {
			logger.Fatal("snapshot handler error", zap.Error(err))
		}
		mux.Handle("/api/v1/capabilities/snapshot", snapshotHandler)
	} else {
		logger.Info("redis not configured, capabilities snapshot disabled")
	}

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Service.HTTPAddr,
		Handler:           loggingMiddleware(mux, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown error", zap.Error(err))
		}
	}()

	logger.Info("http listening",
		zap.String("addr", cfg.Service.HTTPAddr),
		zap.String("extrema_mode", cfg.Engine.ExtremaMode),
		zap.Int("page_size", cfg.Engine.PageSize),
	)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

func loggingMiddleware(next http.Handler, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", resp.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
