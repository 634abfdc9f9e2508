package application

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/infrastructure/memory"
	"sos-cloud/internal/observation/query"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	registry *observation.Registry
	compiler *query.Compiler
	series   *SeriesRegistry
	tracker  *ExtremaTracker
	ingest   *IngestService
	executor *QueryExecutor
}

func newFixture(t *testing.T, opts ...query.Option) *fixture {
	t.Helper()
	registry := observation.NewRegistry()
	store := memory.NewStore(registry)
	compiler, err := query.NewCompiler(registry, opts...)
	require.NoError(t, err)
	logger := zap.NewNop()

	series, err := NewSeriesRegistry(registry, compiler, 0, logger)
	require.NoError(t, err)
	tracker := NewExtremaTracker(logger)
	ingest, err := NewIngestService(store, registry, series, tracker, logger)
	require.NoError(t, err)
	executor, err := NewQueryExecutor(store, compiler, 2, logger)
	require.NoError(t, err)

	return &fixture{
		store:    store,
		registry: registry,
		compiler: compiler,
		series:   series,
		tracker:  tracker,
		ingest:   ingest,
		executor: executor,
	}
}

func key(procedure, property string) observation.SeriesKey {
	return observation.SeriesKey{
		Procedure:          procedure,
		ObservableProperty: property,
		FeatureOfInterest:  "foi-1",
		Offering:           "off-" + procedure,
	}
}

func numericValue(v int64) observation.Value {
	return observation.NumericValue{Value: decimal.NewFromInt(v)}
}

func (f *fixture) insert(t *testing.T, k observation.SeriesKey, at time.Time, v observation.Value) *observation.Observation {
	t.Helper()
	return f.insertObs(t, k, &observation.Observation{
		PhenomenonTime: observation.Instant(at),
		ResultTime:     at,
		Value:          v,
	})
}

func (f *fixture) insertObs(t *testing.T, k observation.SeriesKey, o *observation.Observation) *observation.Observation {
	t.Helper()
	stored, err := f.ingest.InsertObservation(context.Background(), InsertRequest{
		Key:         k,
		Published:   true,
		Observation: o,
	})
	require.NoError(t, err)
	return stored
}

func (f *fixture) seriesFor(t *testing.T, k observation.SeriesKey) *observation.Series {
	t.Helper()
	series, err := f.store.Series().FindByKey(context.Background(), k)
	require.NoError(t, err)
	require.NotNil(t, series)
	return series
}

func timeStep(i int) time.Duration {
	return time.Duration(i) * time.Minute
}
