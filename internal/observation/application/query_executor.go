package application

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"sos-cloud/internal/logging"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/query"
	"sos-cloud/internal/observability/metrics"
)

// DefaultPageSize is the cursor page size used when none is configured.
const DefaultPageSize = 500

// QueryRequest is an observation retrieval request.
type QueryRequest struct {
	Filter observation.Filter
	// Shapes restricts the storage shapes queried. When empty the shapes are
	// those holding observations of the series matching the identity sets.
	Shapes []observation.Shape
}

// QueryExecutor runs compiled observation queries across storage shapes.
type QueryExecutor struct {
	session  observation.Session
	compiler *query.Compiler
	pageSize int
	logger   *zap.Logger
}

// NewQueryExecutor constructs an executor. pageSize <= 0 selects the default.
func NewQueryExecutor(session observation.Session, compiler *query.Compiler, pageSize int, logger *zap.Logger) (*QueryExecutor, error) {
	if session == nil {
		return nil, errors.New("query executor: nil session")
	}
	if compiler == nil {
		return nil, errors.New("query executor: nil compiler")
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &QueryExecutor{session: session, compiler: compiler, pageSize: pageSize, logger: logging.OrNop(logger)}, nil
}

// List returns the deduplicated union of all matching observations ordered
// by phenomenon time start, then id.
func (e *QueryExecutor) List(ctx context.Context, req QueryRequest) (result []*observation.Observation, err error) {
	start := time.Now()
	var queries []observation.Query
	defer func() {
		metrics.ObserveQuery("list", resultLabel(err), len(queries), time.Since(start))
	}()

	queries, err = e.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	for _, q := range queries {
		batch, err := e.session.Observations().List(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, o := range batch {
			if _, ok := seen[o.ID]; ok {
				continue
			}
			seen[o.ID] = struct{}{}
			result = append(result, o)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i].PhenomenonTime.Start, result[j].PhenomenonTime.Start
		if !a.Equal(b) {
			return a.Before(b)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Stream returns a forward-only cursor concatenating the per-shape,
// per-batch cursors. Each part is opened only when the previous one is
// exhausted; observations are ordered within a part.
func (e *QueryExecutor) Stream(ctx context.Context, req QueryRequest) (cur observation.Cursor, err error) {
	start := time.Now()
	var queries []observation.Query
	defer func() {
		metrics.ObserveQuery("stream", resultLabel(err), len(queries), time.Since(start))
	}()

	queries, err = e.plan(ctx, req)
	if err != nil {
		return nil, err
	}
	open := func(ctx context.Context, q observation.Query) (observation.Cursor, error) {
		return e.session.Observations().Stream(ctx, q, e.pageSize)
	}
	return newMultiCursor(ctx, queries, open, e.logger), nil
}

// Chunk returns one page of a compiled query for restartable consumers.
func (e *QueryExecutor) Chunk(ctx context.Context, q observation.Query, size, offset int) (result []*observation.Observation, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveQuery("chunk", resultLabel(err), 1, time.Since(start))
	}()
	if size <= 0 {
		size = e.pageSize
	}
	if offset < 0 {
		offset = 0
	}
	return e.session.Observations().List(ctx, q.WithPage(size, offset))
}

// Plan compiles the backend queries a request fans out to.
func (e *QueryExecutor) Plan(ctx context.Context, req QueryRequest) ([]observation.Query, error) {
	return e.plan(ctx, req)
}

func (e *QueryExecutor) plan(ctx context.Context, req QueryRequest) ([]observation.Query, error) {
	candidates := req.Shapes
	if len(candidates) == 0 {
		derived, err := e.seriesShapes(ctx, req.Filter)
		if err != nil {
			return nil, err
		}
		candidates = derived
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	shapes, err := e.compiler.ApplicableShapes(candidates, req.Filter.Results)
	if err != nil {
		return nil, err
	}
	if skipped := len(candidates) - len(shapes); skipped > 0 {
		e.logger.Debug("shapes skipped for result filter", zap.Int("skipped", skipped), zap.Int("queried", len(shapes)))
	}

	var queries []observation.Query
	for _, shape := range shapes {
		compiled, err := e.compiler.Compile(shape, req.Filter)
		if err != nil {
			return nil, err
		}
		queries = append(queries, compiled...)
	}
	return queries, nil
}

// seriesShapes returns the shapes that hold observations of the series
// matching the identity sets. A series keeps observations stored under an
// earlier value type, so its current type alone is not enough.
func (e *QueryExecutor) seriesShapes(ctx context.Context, f observation.Filter) ([]observation.Shape, error) {
	identity := observation.Filter{
		Procedures:            f.Procedures,
		ObservableProperties:  f.ObservableProperties,
		Features:              f.Features,
		Offerings:             f.Offerings,
		IncludeHiddenChildren: true,
	}
	queries, err := e.compiler.CompileSeries(identity)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{})
	var ids []int64
	for _, q := range queries {
		series, err := e.session.Series().List(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, s := range series {
			if _, ok := seen[s.ID]; ok {
				continue
			}
			seen[s.ID] = struct{}{}
			ids = append(ids, s.ID)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return e.session.Observations().StoredShapes(ctx, ids)
}

func resultLabel(err error) string {
	if err != nil {
		return metrics.ResultError
	}
	return metrics.ResultSuccess
}
