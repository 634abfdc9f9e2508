package application

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/infrastructure/memory"
)

func TestExtremaMonotonicUnderInsert(t *testing.T) {
	f := newFixture(t)
	k := key("p1", "temp")
	rng := rand.New(rand.NewSource(7))

	var prevFirst, prevLast time.Time
	minStart, maxEnd := time.Time{}, time.Time{}
	for i := 0; i < 50; i++ {
		start := t0.Add(time.Duration(rng.Intn(10000)-5000) * time.Minute)
		end := start.Add(time.Duration(rng.Intn(60)) * time.Minute)
		f.insertObs(t, k, &observation.Observation{
			PhenomenonTime: observation.TimeInterval{Start: start, End: end},
			Value:          numericValue(int64(i)),
		})
		if minStart.IsZero() || start.Before(minStart) {
			minStart = start
		}
		if maxEnd.IsZero() || end.After(maxEnd) {
			maxEnd = end
		}

		series := f.seriesFor(t, k)
		assert.True(t, series.FirstTimeStamp.Equal(minStart))
		assert.True(t, series.LastTimeStamp.Equal(maxEnd))
		assert.False(t, series.FirstTimeStamp.After(series.LastTimeStamp))
		if !prevFirst.IsZero() {
			assert.False(t, series.FirstTimeStamp.After(prevFirst))
			assert.False(t, series.LastTimeStamp.Before(prevLast))
		}
		prevFirst, prevLast = series.FirstTimeStamp, series.LastTimeStamp
	}
}

func TestExtremaValuesMoveWithTimestamps(t *testing.T) {
	f := newFixture(t)
	k := key("p1", "temp")
	f.insert(t, k, t0, numericValue(10))
	f.insert(t, k, t0.Add(time.Hour), numericValue(20))
	f.insert(t, k, t0.Add(-time.Hour), numericValue(5))

	series := f.seriesFor(t, k)
	require.True(t, series.FirstValue.Valid)
	require.True(t, series.LastValue.Valid)
	assert.True(t, series.FirstValue.Decimal.Equal(decimal.NewFromInt(5)))
	assert.True(t, series.LastValue.Decimal.Equal(decimal.NewFromInt(20)))
}

func TestExtremaAfterDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key("p1", "temp")
	first := f.insertObs(t, k, &observation.Observation{PhenomenonTime: observation.Instant(t0), Value: numericValue(1), Unit: "degC"})
	middle := f.insert(t, k, t0.Add(time.Hour), numericValue(2))
	last := f.insert(t, k, t0.Add(2*time.Hour), numericValue(3))

	require.NoError(t, f.ingest.DeleteObservation(ctx, first.Identifier))
	series := f.seriesFor(t, k)
	assert.Equal(t, t0.Add(time.Hour), series.FirstTimeStamp)
	assert.True(t, series.FirstValue.Decimal.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, t0.Add(2*time.Hour), series.LastTimeStamp)
	assert.Equal(t, "degC", series.Unit)

	require.NoError(t, f.ingest.DeleteObservation(ctx, last.Identifier))
	series = f.seriesFor(t, k)
	assert.Equal(t, t0.Add(time.Hour), series.FirstTimeStamp)
	assert.Equal(t, t0.Add(time.Hour), series.LastTimeStamp)
	assert.True(t, series.LastValue.Decimal.Equal(decimal.NewFromInt(2)))

	// Deleting again is a no-op.
	require.NoError(t, f.ingest.DeleteObservation(ctx, last.Identifier))

	require.NoError(t, f.ingest.DeleteObservation(ctx, middle.Identifier))
	series = f.seriesFor(t, k)
	assert.True(t, series.FirstTimeStamp.IsZero())
	assert.True(t, series.LastTimeStamp.IsZero())
	assert.False(t, series.FirstValue.Valid)
	assert.False(t, series.LastValue.Valid)
	assert.Empty(t, series.Unit)
}

// staleReadStore serves unlocked series reads from a copy taken before a
// concurrent insert committed.
type staleReadStore struct {
	*memory.Store
	stale map[int64]*observation.Series
}

func (s *staleReadStore) Series() observation.SeriesRepository {
	return staleSeriesRepo{SeriesRepository: s.Store.Series(), stale: s.stale}
}

func (s *staleReadStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx observation.Session) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, _ observation.Session) error {
		return fn(ctx, s)
	})
}

type staleSeriesRepo struct {
	observation.SeriesRepository
	stale map[int64]*observation.Series
}

func (r staleSeriesRepo) Get(ctx context.Context, id int64) (*observation.Series, error) {
	if series, ok := r.stale[id]; ok {
		return series.Clone(), nil
	}
	return r.SeriesRepository.Get(ctx, id)
}

func TestDeleteKeepsBoundWrittenByConcurrentInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key("p1", "temp")
	first := f.insert(t, k, t0, numericValue(1))
	f.insert(t, k, t0.Add(time.Minute), numericValue(2))
	stale := f.seriesFor(t, k)

	f.insert(t, k, t0.Add(10*time.Minute), numericValue(3))

	store := &staleReadStore{Store: f.store, stale: map[int64]*observation.Series{stale.ID: stale}}
	ingest, err := NewIngestService(store, f.registry, f.series, f.tracker, nil)
	require.NoError(t, err)
	require.NoError(t, ingest.DeleteObservation(ctx, first.Identifier))

	series := f.seriesFor(t, k)
	assert.Equal(t, t0.Add(time.Minute), series.FirstTimeStamp)
	assert.Equal(t, t0.Add(10*time.Minute), series.LastTimeStamp)
	assert.True(t, series.LastValue.Decimal.Equal(decimal.NewFromInt(3)))
}

func TestDeleteUnknownObservation(t *testing.T) {
	f := newFixture(t)
	err := f.ingest.DeleteObservation(context.Background(), "missing")
	assert.ErrorIs(t, err, observation.ErrNotFound)
}

func TestUnitIsSetOnceAndKept(t *testing.T) {
	f := newFixture(t)
	k := key("p1", "temp")
	f.insertObs(t, k, &observation.Observation{PhenomenonTime: observation.Instant(t0), Value: numericValue(1), Unit: "degC"})
	f.insertObs(t, k, &observation.Observation{PhenomenonTime: observation.Instant(t0.Add(time.Hour)), Value: numericValue(2), Unit: "K"})
	assert.Equal(t, "degC", f.seriesFor(t, k).Unit)
}

func TestSweArrayCarriesScalarExtremum(t *testing.T) {
	f := newFixture(t)
	k := key("p1", "temp")
	f.insert(t, k, t0, observation.SweArrayValue{
		Fields: []observation.SweField{{Name: "time"}, {Name: "temp", Unit: "degC", Numeric: true}},
		Rows:   [][]string{{"2024-05-01T12:00:00Z", "1.5"}, {"2024-05-01T12:10:00Z", "2.5"}},
	})
	series := f.seriesFor(t, k)
	assert.Equal(t, observation.TypeSweArray, series.ValueType)
	assert.True(t, series.FirstValue.Decimal.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, series.LastValue.Decimal.Equal(decimal.RequireFromString("2.5")))
}

func TestRecomputeRepairsDriftedExtrema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	k := key("p1", "temp")
	f.insert(t, k, t0, numericValue(1))
	f.insert(t, k, t0.Add(time.Hour), numericValue(2))

	series := f.seriesFor(t, k)
	series.FirstTimeStamp = t0.Add(-24 * time.Hour)
	require.NoError(t, f.store.Series().Update(ctx, series))

	changed, err := f.tracker.Recompute(ctx, f.store, series)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, t0, f.seriesFor(t, k).FirstTimeStamp)

	changed, err = f.tracker.Recompute(ctx, f.store, f.seriesFor(t, k))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestOfferingAndProcedureExtrema(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.insert(t, key("p1", "temp"), t0, numericValue(1))
	f.insert(t, key("p1", "hum"), t0.Add(3*time.Hour), numericValue(1))
	f.insert(t, key("p2", "temp"), t0.Add(-time.Hour), numericValue(1))

	offerings, err := f.tracker.OfferingExtrema(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, offerings, 2)
	assert.Equal(t, "off-p1", offerings[0].Key)
	assert.Equal(t, 2, offerings[0].SeriesCount)
	assert.Equal(t, t0, offerings[0].Start)
	assert.Equal(t, t0.Add(3*time.Hour), offerings[0].End)

	procedures, err := f.tracker.ProcedureExtrema(ctx, f.store)
	require.NoError(t, err)
	require.Len(t, procedures, 2)
	assert.Equal(t, "p2", procedures[1].Key)
	assert.Equal(t, t0.Add(-time.Hour), procedures[1].Start)
}
