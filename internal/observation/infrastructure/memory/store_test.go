package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	observation "sos-cloud/internal/observation/domain"
)

var baseTime = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func seedSeries(t *testing.T, s *Store, key observation.SeriesKey) *observation.Series {
	t.Helper()
	series, err := observation.NewSeries(key, observation.TypeNumeric, "", true, false)
	require.NoError(t, err)
	require.NoError(t, s.Series().Insert(context.Background(), series))
	return series
}

func seedObservation(t *testing.T, s *Store, seriesID int64, offset time.Duration, value observation.Value) *observation.Observation {
	t.Helper()
	at := baseTime.Add(offset)
	o := &observation.Observation{
		SeriesID:       seriesID,
		PhenomenonTime: observation.Instant(at),
		ResultTime:     at,
		Value:          value,
	}
	require.NoError(t, s.Observations().Insert(context.Background(), o))
	return o
}

func numeric(v int64) observation.Value {
	return observation.NumericValue{Value: decimal.NewFromInt(v)}
}

func testKey(procedure string) observation.SeriesKey {
	return observation.SeriesKey{Procedure: procedure, ObservableProperty: "temp", FeatureOfInterest: "foi-1", Offering: "off-1"}
}

func TestSeriesInsertRejectsDuplicateKey(t *testing.T) {
	s := NewStore(nil)
	seedSeries(t, s, testKey("p1"))

	dup, err := observation.NewSeries(testKey("p1"), observation.TypeNumeric, "", false, false)
	require.NoError(t, err)
	err = s.Series().Insert(context.Background(), dup)
	assert.ErrorIs(t, err, observation.ErrConcurrentSeriesCreation)
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := NewStore(nil)
	boom := errors.New("boom")
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx observation.Session) error {
		series, err := observation.NewSeries(testKey("p1"), observation.TypeNumeric, "", false, false)
		require.NoError(t, err)
		require.NoError(t, tx.Series().Insert(ctx, series))
		return boom
	})
	require.ErrorIs(t, err, boom)

	found, err := s.Series().FindByKey(context.Background(), testKey("p1"))
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestObservationListFiltersAndOrders(t *testing.T) {
	s := NewStore(nil)
	series := seedSeries(t, s, testKey("p1"))
	seedObservation(t, s, series.ID, 2*time.Hour, numeric(30))
	seedObservation(t, s, series.ID, time.Hour, numeric(10))
	deleted := seedObservation(t, s, series.ID, 3*time.Hour, numeric(50))
	require.NoError(t, s.Observations().SetDeleted(context.Background(), deleted, true))

	q := observation.Query{
		Target: observation.TargetObservations,
		Shape:  observation.ShapeNumeric,
		Where: observation.And{
			observation.Flag{Field: observation.FieldObservationDeleted, Value: false},
			observation.Compare{Operand: observation.OperandResult, Operator: observation.OpGreaterThan, Literal: decimal.NewFromInt(5)},
		},
		OrderBy: []observation.Order{{Field: observation.FieldPhenomenonTimeStart}},
	}
	got, err := s.Observations().List(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].PhenomenonTime.Start.Before(got[1].PhenomenonTime.Start))

	page, err := s.Observations().List(context.Background(), q.WithPage(1, 1))
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, got[1].ID, page[0].ID)
}

func TestOnBoundCachedAndDerived(t *testing.T) {
	s := NewStore(nil)
	series := seedSeries(t, s, testKey("p1"))
	seedObservation(t, s, series.ID, time.Hour, numeric(1))
	last := seedObservation(t, s, series.ID, 2*time.Hour, numeric(2))

	q := observation.Query{
		Target: observation.TargetObservations,
		Shape:  observation.ShapeNumeric,
		Where:  observation.OnBound{Bound: observation.BoundLatest, UseCache: true},
	}

	// Unset cache falls back to the observations.
	got, err := s.Observations().List(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, last.ID, got[0].ID)

	// A set cache is authoritative.
	series.FirstTimeStamp = baseTime.Add(time.Hour)
	series.LastTimeStamp = baseTime.Add(time.Hour)
	require.NoError(t, s.Series().Update(context.Background(), series))
	got, err = s.Observations().List(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotEqual(t, last.ID, got[0].ID)

	q.Where = observation.OnBound{Bound: observation.BoundLatest}
	got, err = s.Observations().List(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, last.ID, got[0].ID)
}

func TestSamplingGeometryAndFeatureMatch(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	require.NoError(t, s.Features().Save(ctx, &observation.Feature{Identifier: "foi-1", Geometry: orb.Point{10, 10}}))
	series := seedSeries(t, s, testKey("p1"))

	inside := &observation.Observation{SeriesID: series.ID, PhenomenonTime: observation.Instant(baseTime), Value: numeric(1), SamplingGeometry: orb.Point{0.5, 0.5}}
	outside := &observation.Observation{SeriesID: series.ID, PhenomenonTime: observation.Instant(baseTime), Value: numeric(2), SamplingGeometry: orb.Point{5, 5}}
	require.NoError(t, s.Observations().Insert(ctx, inside))
	require.NoError(t, s.Observations().Insert(ctx, outside))

	box := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}.ToPolygon()
	got, err := s.Observations().List(ctx, observation.Query{
		Target: observation.TargetObservations,
		Shape:  observation.ShapeNumeric,
		Where:  observation.GeometryMatch{Target: observation.TargetSamplingGeometry, Operator: observation.OpWithin, Geometry: box},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, inside.ID, got[0].ID)

	got, err = s.Observations().List(ctx, observation.Query{
		Target: observation.TargetObservations,
		Shape:  observation.ShapeNumeric,
		Where:  observation.GeometryMatch{Target: observation.TargetFeatureGeometry, Operator: observation.OpBBOX, Geometry: box},
	})
	require.NoError(t, err)
	assert.Empty(t, got)

	seriesList, err := s.Series().List(ctx, observation.Query{
		Target: observation.TargetSeries,
		Where: observation.ObservationExists{
			Shape: observation.ShapeNumeric,
			Where: observation.GeometryMatch{Target: observation.TargetSamplingGeometry, Operator: observation.OpIntersects, Geometry: box},
		},
	})
	require.NoError(t, err)
	require.Len(t, seriesList, 1)
}

func TestProfileLevelComparison(t *testing.T) {
	s := NewStore(nil)
	series := seedSeries(t, s, testKey("p1"))
	seedObservation(t, s, series.ID, 0, observation.ProfileValue{Levels: []observation.ProfileLevel{
		{LevelStart: decimal.NewFromInt(0), LevelEnd: decimal.NewFromInt(10), Members: []observation.NamedValue{{Name: "t", Value: numeric(4)}}},
		{LevelStart: decimal.NewFromInt(10), LevelEnd: decimal.NewFromInt(20), Members: []observation.NamedValue{{Name: "t", Value: numeric(3)}}},
	}})

	cases := []struct {
		op    observation.ComparisonOperator
		lit   int64
		upper int64
		want  int
	}{
		{observation.OpEqualTo, 15, 0, 1},
		{observation.OpEqualTo, 25, 0, 0},
		{observation.OpGreaterThan, 19, 0, 1},
		{observation.OpGreaterThan, 20, 0, 0},
		{observation.OpLessThan, 0, 0, 0},
		{observation.OpBetween, 18, 40, 1},
		{observation.OpBetween, 21, 40, 0},
	}
	for _, tc := range cases {
		pred := observation.Compare{Operand: observation.OperandLevel, Operator: tc.op, Literal: decimal.NewFromInt(tc.lit), Upper: decimal.NewFromInt(tc.upper)}
		got, err := s.Observations().List(context.Background(), observation.Query{
			Target: observation.TargetObservations,
			Shape:  observation.ShapeProfile,
			Where:  pred,
		})
		require.NoError(t, err)
		assert.Len(t, got, tc.want, "%s %d", tc.op, tc.lit)
	}
}

func TestLikeMatch(t *testing.T) {
	assert.True(t, likeMatch("deg%", "degC"))
	assert.True(t, likeMatch("d_gC", "degC"))
	assert.False(t, likeMatch("deg", "degC"))
	assert.True(t, likeMatch("a.b%", "a.bc"))
	assert.False(t, likeMatch("a.b%", "axbc"))
}

func TestExtremaGroupsVisibleSeries(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	a := seedSeries(t, s, testKey("p1"))
	b := seedSeries(t, s, testKey("p2"))
	hidden := seedSeries(t, s, testKey("p3"))
	unpublished := seedSeries(t, s, testKey("p4"))

	a.FirstTimeStamp, a.LastTimeStamp = baseTime, baseTime.Add(time.Hour)
	b.FirstTimeStamp, b.LastTimeStamp = baseTime.Add(-time.Hour), baseTime
	hidden.FirstTimeStamp, hidden.LastTimeStamp = baseTime.Add(-48*time.Hour), baseTime.Add(48*time.Hour)
	hidden.HiddenChild = true
	unpublished.FirstTimeStamp, unpublished.LastTimeStamp = baseTime.Add(-72*time.Hour), baseTime.Add(72*time.Hour)
	unpublished.Published = false
	for _, series := range []*observation.Series{a, b, hidden, unpublished} {
		require.NoError(t, s.Series().Update(ctx, series))
	}

	summaries, err := s.Series().Extrema(ctx, observation.FieldOffering)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, "off-1", summaries[0].Key)
	assert.Equal(t, 2, summaries[0].SeriesCount)
	assert.Equal(t, baseTime.Add(-time.Hour), summaries[0].Start)
	assert.Equal(t, baseTime.Add(time.Hour), summaries[0].End)
}

func TestStreamPagesAndClose(t *testing.T) {
	s := NewStore(nil)
	series := seedSeries(t, s, testKey("p1"))
	for i := 0; i < 5; i++ {
		seedObservation(t, s, series.ID, time.Duration(i)*time.Minute, numeric(int64(i)))
	}
	q := observation.Query{
		Target:  observation.TargetObservations,
		Shape:   observation.ShapeNumeric,
		OrderBy: []observation.Order{{Field: observation.FieldPhenomenonTimeStart}},
	}

	cur, err := s.Observations().Stream(context.Background(), q, 2)
	require.NoError(t, err)
	var seen []int64
	for cur.Next() {
		seen = append(seen, cur.Observation().ID)
	}
	require.NoError(t, cur.Err())
	assert.Len(t, seen, 5)
	require.NoError(t, cur.Close())
	assert.False(t, cur.Next())
	assert.ErrorIs(t, cur.Err(), observation.ErrCursorClosed)
}

func TestStreamStopsOnCancel(t *testing.T) {
	s := NewStore(nil)
	series := seedSeries(t, s, testKey("p1"))
	for i := 0; i < 3; i++ {
		seedObservation(t, s, series.ID, time.Duration(i)*time.Minute, numeric(int64(i)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cur, err := s.Observations().Stream(ctx, observation.Query{Target: observation.TargetObservations, Shape: observation.ShapeNumeric}, 1)
	require.NoError(t, err)
	require.True(t, cur.Next())
	cancel()
	assert.False(t, cur.Next())
	assert.ErrorIs(t, cur.Err(), context.Canceled)
}

func TestStoredShapesSkipsDeletedObservations(t *testing.T) {
	s := NewStore(nil)
	ctx := context.Background()
	a := seedSeries(t, s, testKey("p1"))
	b := seedSeries(t, s, testKey("p2"))
	seedObservation(t, s, a.ID, 0, numeric(1))
	seedObservation(t, s, a.ID, time.Minute, observation.CountValue{Value: 2})
	gone := seedObservation(t, s, b.ID, 0, observation.TextValue{Value: "x"})
	require.NoError(t, s.Observations().SetDeleted(ctx, gone, true))

	shapes, err := s.Observations().StoredShapes(ctx, []int64{a.ID, b.ID})
	require.NoError(t, err)
	assert.Equal(t, []observation.Shape{observation.ShapeNumeric, observation.ShapeCount}, shapes)

	shapes, err = s.Observations().StoredShapes(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, shapes)
}
