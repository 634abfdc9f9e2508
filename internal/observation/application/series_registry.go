package application

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"sos-cloud/internal/logging"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/query"
	"sos-cloud/internal/observability/metrics"
)

// DefaultSeriesCreateAttempts bounds the re-read loop after a lost insert race.
const DefaultSeriesCreateAttempts = 3

// ResolveRequest describes the series a write or a caller refers to.
type ResolveRequest struct {
	Key         observation.SeriesKey
	ValueType   observation.ValueType
	Category    string
	Published   bool
	HiddenChild bool
}

// SeriesRegistry canonicalizes identity keys into series.
type SeriesRegistry struct {
	registry *observation.Registry
	compiler *query.Compiler
	attempts int
	logger   *zap.Logger
}

// NewSeriesRegistry constructs a series registry. attempts <= 0 selects the default.
func NewSeriesRegistry(registry *observation.Registry, compiler *query.Compiler, attempts int, logger *zap.Logger) (*SeriesRegistry, error) {
	if registry == nil {
		return nil, errors.New("series registry: nil value-type registry")
	}
	if compiler == nil {
		return nil, errors.New("series registry: nil compiler")
	}
	if attempts <= 0 {
		attempts = DefaultSeriesCreateAttempts
	}
	return &SeriesRegistry{
		registry: registry,
		compiler: compiler,
		attempts: attempts,
		logger:   logging.OrNop(logger),
	}, nil
}

// ResolveOrCreate returns the series for a key, creating or reconciling it.
// A soft-deleted series is reactivated with its id; published is sticky once
// true and hiddenChild is cleared by the first visible caller.
func (r *SeriesRegistry) ResolveOrCreate(ctx context.Context, session observation.Session, req ResolveRequest) (*observation.Series, error) {
	if session == nil {
		return nil, errors.New("series registry: nil session")
	}
	if err := req.Key.Validate(); err != nil {
		metrics.IncSeriesResolve(metrics.ResolveFailed)
		return nil, fmt.Errorf("%w: %v", observation.ErrSeriesCreation, err)
	}
	if req.ValueType != "" {
		if _, err := r.registry.ShapeOf(req.ValueType); err != nil {
			metrics.IncSeriesResolve(metrics.ResolveFailed)
			return nil, err
		}
	}

	repo := session.Series()
	for attempt := 1; ; attempt++ {
		series, err := repo.FindByKey(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		if series != nil {
			return r.reconcile(ctx, repo, series, req)
		}

		series, err = observation.NewSeries(req.Key, req.ValueType, req.Category, req.Published, req.HiddenChild)
		if err != nil {
			metrics.IncSeriesResolve(metrics.ResolveFailed)
			return nil, fmt.Errorf("%w: %v", observation.ErrSeriesCreation, err)
		}
		err = repo.Insert(ctx, series)
		if err == nil {
			metrics.IncSeriesResolve(metrics.ResolveCreated)
			r.logger.Debug("series created", zap.Int64("series_id", series.ID), zap.Stringer("key", req.Key))
			return series, nil
		}
		if !errors.Is(err, observation.ErrConcurrentSeriesCreation) {
			metrics.IncSeriesResolve(metrics.ResolveFailed)
			return nil, err
		}

		metrics.IncSeriesResolve(metrics.ResolveConflict)
		r.logger.Debug("series insert lost race, re-reading",
			zap.Stringer("key", req.Key), zap.Int("attempt", attempt))
		if attempt >= r.attempts {
			metrics.IncSeriesResolve(metrics.ResolveFailed)
			r.logger.Warn("series resolution gave up", zap.Stringer("key", req.Key), zap.Int("attempts", attempt))
			return nil, fmt.Errorf("%w: key %s still contended after %d attempts", observation.ErrSeriesCreation, req.Key, attempt)
		}
	}
}

func (r *SeriesRegistry) reconcile(ctx context.Context, repo observation.SeriesRepository, series *observation.Series, req ResolveRequest) (*observation.Series, error) {
	outcome := metrics.ResolveExisting
	changed := false
	if series.Deleted {
		series.Deleted = false
		changed = true
		outcome = metrics.ResolveReactivated
	}
	if req.Category != "" && series.Category != req.Category {
		series.Category = req.Category
		changed = true
	}
	if req.ValueType != "" && series.ValueType != req.ValueType {
		series.ValueType = req.ValueType
		changed = true
	}
	if req.Published && !series.Published {
		series.Published = true
		changed = true
	}
	if !req.HiddenChild && series.HiddenChild {
		series.HiddenChild = false
		changed = true
	}
	if changed {
		if err := repo.Update(ctx, series); err != nil {
			metrics.IncSeriesResolve(metrics.ResolveFailed)
			return nil, err
		}
	}
	metrics.IncSeriesResolve(outcome)
	if outcome == metrics.ResolveReactivated {
		r.logger.Info("series reactivated", zap.Int64("series_id", series.ID), zap.Stringer("key", series.Key))
	}
	return series, nil
}

// MarkDeletedForProcedure flips the deleted flag of every series of a procedure.
func (r *SeriesRegistry) MarkDeletedForProcedure(ctx context.Context, session observation.Session, procedure string, deleted bool) ([]*observation.Series, error) {
	if session == nil {
		return nil, errors.New("series registry: nil session")
	}
	if procedure == "" {
		return nil, observation.ErrInvalidSeriesKey
	}
	series, err := session.Series().SetDeletedByProcedure(ctx, procedure, deleted)
	if err != nil {
		return nil, err
	}
	r.logger.Info("procedure series flagged",
		zap.String("procedure", procedure), zap.Bool("deleted", deleted), zap.Int("series", len(series)))
	return series, nil
}

// QueryByIdentity returns the non-deleted series matching the identity sets
// and the optional spatial, temporal and result filters, ordered by id.
func (r *SeriesRegistry) QueryByIdentity(ctx context.Context, session observation.Session, f observation.Filter) ([]*observation.Series, error) {
	if session == nil {
		return nil, errors.New("series registry: nil session")
	}
	queries, err := r.compiler.CompileSeries(f)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	result := make([]*observation.Series, 0)
	for _, q := range queries {
		batch, err := session.Series().List(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, series := range batch {
			if _, ok := seen[series.ID]; ok {
				continue
			}
			seen[series.ID] = struct{}{}
			result = append(result, series)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
