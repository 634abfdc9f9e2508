package postgres

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	observation "sos-cloud/internal/observation/domain"
)

func defaultTables() Tables {
	return Tables{
		Series:            defaultSeriesTable,
		Features:          defaultFeatureTable,
		ObservationPrefix: defaultObservationPrefix,
		ObservationIndex:  defaultObservationIndex,
	}
}

func TestObservationSelectRendersPredicates(t *testing.T) {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	q := observation.Query{
		Target: observation.TargetObservations,
		Shape:  observation.ShapeNumeric,
		Where: observation.And{
			observation.Flag{Field: observation.FieldObservationDeleted, Value: false},
			observation.In{Field: observation.FieldProcedure, Values: []string{"p1", "p2"}},
			observation.TimeOverlaps{
				StartField: observation.FieldPhenomenonTimeStart,
				EndField:   observation.FieldPhenomenonTimeEnd,
				Interval:   observation.TimeInterval{Start: start, End: end},
			},
			observation.Compare{Operand: observation.OperandResult, Operator: observation.OpGreaterThan, Literal: decimal.NewFromInt(5)},
		},
		OrderBy: []observation.Order{{Field: observation.FieldPhenomenonTimeStart}, {Field: observation.FieldObservationID}},
		Limit:   10,
		Offset:  20,
	}

	b := newBuilder(defaultTables(), 4326)
	sql, err := b.observationSelect(q)
	require.NoError(t, err)

	assert.Contains(t, sql, "FROM observation_numeric o JOIN series s ON s.id = o.series_id")
	assert.Contains(t, sql, "o.deleted = FALSE")
	assert.Contains(t, sql, "s.procedure IN ($1, $2)")
	assert.Contains(t, sql, "(o.phenomenon_time_start <= $3 AND o.phenomenon_time_end >= $4)")
	assert.Contains(t, sql, "o.value > $5")
	assert.Contains(t, sql, " ORDER BY o.phenomenon_time_start ASC, o.id ASC LIMIT 10 OFFSET 20")

	require.Len(t, b.args, 5)
	assert.Equal(t, "p1", b.args[0])
	assert.Equal(t, end, b.args[2])
	assert.Equal(t, start, b.args[3])
}

func TestOnBoundRendering(t *testing.T) {
	q := observation.Query{
		Target: observation.TargetObservations,
		Shape:  observation.ShapeCount,
		Where:  observation.OnBound{Bound: observation.BoundLatest, UseCache: true},
	}
	b := newBuilder(defaultTables(), 4326)
	sql, err := b.observationSelect(q)
	require.NoError(t, err)
	assert.Contains(t, sql, "o.phenomenon_time_end = COALESCE(s.last_time_stamp, (SELECT i.phenomenon_time_end FROM observation_index i "+
		"WHERE i.series_id = s.id AND i.deleted = FALSE ORDER BY i.phenomenon_time_end DESC LIMIT 1))")

	q.Where = observation.OnBound{Bound: observation.BoundFirst}
	b = newBuilder(defaultTables(), 4326)
	sql, err = b.observationSelect(q)
	require.NoError(t, err)
	assert.NotContains(t, sql, "COALESCE")
	assert.Contains(t, sql, "o.phenomenon_time_start = (SELECT i.phenomenon_time_start FROM observation_index i")
	assert.Contains(t, sql, "ORDER BY i.phenomenon_time_start ASC LIMIT 1)")
}

func TestSeriesSelectWithObservationExists(t *testing.T) {
	q := observation.Query{
		Target: observation.TargetSeries,
		Where: observation.And{
			observation.Flag{Field: observation.FieldSeriesDeleted, Value: false},
			observation.ObservationExists{
				Shape: observation.ShapeCount,
				Where: observation.Compare{Operand: observation.OperandResult, Operator: observation.OpGreaterThanOrEqualTo, Literal: int64(3)},
			},
		},
		OrderBy: []observation.Order{{Field: observation.FieldSeriesID}},
	}
	b := newBuilder(defaultTables(), 4326)
	sql, err := b.seriesSelect(q)
	require.NoError(t, err)
	assert.Contains(t, sql, "FROM series s WHERE")
	assert.Contains(t, sql, "s.deleted = FALSE")
	assert.Contains(t, sql, "EXISTS (SELECT 1 FROM observation_count e WHERE e.series_id = s.id AND e.deleted = FALSE AND e.value >= $1)")
	assert.Contains(t, sql, "ORDER BY s.id ASC")
	assert.Equal(t, []any{int64(3)}, b.args)
}

func TestGeometryRendering(t *testing.T) {
	box := orb.Bound{Min: orb.Point{7, 51}, Max: orb.Point{8, 52}}.ToPolygon()

	b := newBuilder(defaultTables(), 4326)
	sql, err := b.where(observation.GeometryMatch{
		Target:   observation.TargetFeatureGeometry,
		Operator: observation.OpWithin,
		Geometry: box,
	}, scope{})
	require.NoError(t, err)
	assert.Equal(t, "EXISTS (SELECT 1 FROM features_of_interest f WHERE f.identifier = s.feature_of_interest "+
		"AND ST_Within(f.geom, ST_GeomFromWKB($1, 4326)))", sql)
	require.Len(t, b.args, 1)
	decoded, err := wkb.Unmarshal(b.args[0].([]byte))
	require.NoError(t, err)
	assert.Equal(t, box, decoded)

	b = newBuilder(defaultTables(), 3857)
	sql, err = b.where(observation.GeometryMatch{
		Target:   observation.TargetSamplingGeometry,
		Operator: observation.OpBBOX,
		Geometry: box,
	}, scope{obs: observationAlias, shape: observation.ShapeNumeric})
	require.NoError(t, err)
	assert.Equal(t, "o.sampling_geometry && ST_GeomFromWKB($1, 3857)", sql)

	_, err = b.where(observation.GeometryMatch{Target: observation.TargetSamplingGeometry, Operator: observation.OpIntersects, Geometry: box}, scope{})
	assert.Error(t, err)
}

func TestLevelAndUnitRendering(t *testing.T) {
	profile := scope{obs: observationAlias, shape: observation.ShapeProfile}
	b := newBuilder(defaultTables(), 4326)
	sql, err := b.where(observation.Compare{
		Operand:  observation.OperandLevel,
		Operator: observation.OpBetween,
		Literal:  decimal.NewFromInt(10),
		Upper:    decimal.NewFromInt(20),
	}, profile)
	require.NoError(t, err)
	assert.Equal(t, "(o.level_start <= $2 AND o.level_end >= $1)", sql)

	sql, err = b.where(observation.Compare{Operand: observation.OperandLevel, Operator: observation.OpLessThan, Literal: decimal.NewFromInt(1)},
		scope{obs: observationAlias, shape: observation.ShapeNumeric})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)

	b = newBuilder(defaultTables(), 4326)
	sql, err = b.where(observation.Compare{Operand: observation.OperandUnit, Operator: observation.OpLike, Literal: "deg%"}, profile)
	require.NoError(t, err)
	assert.Equal(t, "o.unit LIKE $1", sql)

	sql, err = b.where(observation.Compare{Operand: observation.OperandResult, Operator: observation.OpEqualTo, Literal: "x"},
		scope{obs: observationAlias, shape: observation.ShapeBlob})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)
}

func TestRenderEdgeCases(t *testing.T) {
	b := newBuilder(defaultTables(), 4326)

	sql, err := b.where(observation.Or{}, scope{})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)

	sql, err = b.where(observation.And{}, scope{})
	require.NoError(t, err)
	assert.Equal(t, "TRUE", sql)

	sql, err = b.where(observation.In{Field: observation.FieldOffering}, scope{})
	require.NoError(t, err)
	assert.Equal(t, "FALSE", sql)

	_, err = b.where(observation.Flag{Field: observation.FieldObservationDeleted}, scope{})
	assert.Error(t, err, "observation fields need an observation scope")

	_, err = b.observationSelect(observation.Query{Target: observation.TargetSeries})
	assert.Error(t, err)
}

func TestWithTablesOverridesNames(t *testing.T) {
	store, err := NewStore(nilSafeDB(t), WithTables(Tables{Series: "sos_series", ObservationPrefix: "sos_obs_"}))
	require.NoError(t, err)
	assert.Equal(t, "sos_series", store.tables.Series)
	assert.Equal(t, "sos_obs_profile", store.tables.Observations(observation.ShapeProfile))
	assert.Equal(t, defaultFeatureTable, store.tables.Features)

	_, err = NewStore(nil)
	assert.Error(t, err)
}
