package query

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	observation "sos-cloud/internal/observation/domain"
)

func newTestCompiler(t *testing.T, opts ...Option) *Compiler {
	t.Helper()
	c, err := NewCompiler(observation.NewRegistry(), opts...)
	require.NoError(t, err)
	return c
}

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}

func TestNewCompilerRejectsNilRegistry(t *testing.T) {
	_, err := NewCompiler(nil)
	require.Error(t, err)
}

func TestCompileWithoutIdentityYieldsSingleQuery(t *testing.T) {
	c := newTestCompiler(t)
	queries, err := c.Compile(observation.ShapeNumeric, observation.Filter{})
	require.NoError(t, err)
	require.Len(t, queries, 1)

	q := queries[0]
	assert.Equal(t, observation.TargetObservations, q.Target)
	assert.Equal(t, observation.ShapeNumeric, q.Shape)
	assert.Equal(t, []observation.Order{
		{Field: observation.FieldPhenomenonTimeStart},
		{Field: observation.FieldObservationID},
	}, q.OrderBy)

	where, ok := q.Where.(observation.And)
	require.True(t, ok)
	assert.Contains(t, where, observation.Flag{Field: observation.FieldObservationDeleted, Value: false})
	assert.Contains(t, where, observation.Flag{Field: observation.FieldSeriesDeleted, Value: false})
}

func TestCompileIdentityChunkingCartesianProduct(t *testing.T) {
	c := newTestCompiler(t, WithMaxInList(2))
	f := observation.Filter{
		Procedures:           ids("p", 5),
		ObservableProperties: ids("op", 3),
		Offerings:            []string{"off"},
	}
	queries, err := c.Compile(observation.ShapeCount, f)
	require.NoError(t, err)
	// 3 procedure batches x 2 property batches x 1 offering batch.
	require.Len(t, queries, 6)

	seen := map[string]int{}
	for _, q := range queries {
		for _, p := range q.Where.(observation.And) {
			in, ok := p.(observation.In)
			if !ok {
				continue
			}
			assert.LessOrEqual(t, len(in.Values), 2)
			for _, v := range in.Values {
				seen[fmt.Sprintf("%d/%s", in.Field, v)]++
			}
		}
	}
	for _, p := range f.Procedures {
		assert.Equal(t, 2, seen[fmt.Sprintf("%d/%s", observation.FieldProcedure, p)])
	}
	for _, op := range f.ObservableProperties {
		assert.Equal(t, 3, seen[fmt.Sprintf("%d/%s", observation.FieldObservableProperty, op)])
	}
}

func TestIdentityBatchesDedupesAndSkipsEmpty(t *testing.T) {
	batches := identityBatches(observation.Filter{Procedures: []string{"a", "a", "", "b"}}, 500)
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, observation.In{Field: observation.FieldProcedure, Values: []string{"a", "b"}}, batches[0][0])
}

func TestBlankOnlyIdentitySetMatchesNothing(t *testing.T) {
	assert.Empty(t, identityBatches(observation.Filter{Offerings: []string{"", ""}}, 500))
	assert.Empty(t, identityBatches(observation.Filter{Procedures: []string{"a"}, Features: []string{""}}, 500))

	c := newTestCompiler(t)
	queries, err := c.Compile(observation.ShapeNumeric, observation.Filter{Procedures: []string{""}})
	require.NoError(t, err)
	assert.Empty(t, queries)

	series, err := c.CompileSeries(observation.Filter{ObservableProperties: []string{""}})
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestCompileSpatialTargets(t *testing.T) {
	c := newTestCompiler(t)
	box := orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{1, 1}}.ToPolygon()

	feature, err := c.Compile(observation.ShapeNumeric, observation.Filter{
		Spatial: &observation.SpatialFilter{Operator: observation.OpBBOX, ValueReference: observation.ValueReferenceFeatureShape, Geometry: box},
	})
	require.NoError(t, err)
	assert.Contains(t, feature[0].Where.(observation.And), observation.GeometryMatch{
		Target: observation.TargetFeatureGeometry, Operator: observation.OpBBOX, Geometry: box,
	})

	sampling, err := c.Compile(observation.ShapeNumeric, observation.Filter{
		Spatial: &observation.SpatialFilter{Operator: observation.OpWithin, ValueReference: observation.ValueReferenceSamplingGeometry, Geometry: box},
	})
	require.NoError(t, err)
	assert.Contains(t, sampling[0].Where.(observation.And), observation.GeometryMatch{
		Target: observation.TargetSamplingGeometry, Operator: observation.OpWithin, Geometry: box,
	})
}

func TestCompileTemporal(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	interval := observation.TimeInterval{Start: start, End: start.Add(time.Hour)}

	c := newTestCompiler(t)
	queries, err := c.Compile(observation.ShapeNumeric, observation.Filter{
		Temporal: &observation.TemporalFilter{Interval: interval},
	})
	require.NoError(t, err)
	assert.Contains(t, queries[0].Where.(observation.And), observation.TimeOverlaps{
		StartField: observation.FieldPhenomenonTimeStart,
		EndField:   observation.FieldPhenomenonTimeEnd,
		Interval:   interval,
	})

	queries, err = c.Compile(observation.ShapeNumeric, observation.Filter{
		Temporal: &observation.TemporalFilter{Indeterminate: observation.BoundLatest},
	})
	require.NoError(t, err)
	assert.Contains(t, queries[0].Where.(observation.And), observation.OnBound{Bound: observation.BoundLatest, UseCache: true})

	scan := newTestCompiler(t, WithExtremaMode(ExtremaScan))
	queries, err = scan.Compile(observation.ShapeNumeric, observation.Filter{
		Temporal: &observation.TemporalFilter{Indeterminate: observation.BoundFirst},
	})
	require.NoError(t, err)
	assert.Contains(t, queries[0].Where.(observation.And), observation.OnBound{Bound: observation.BoundFirst, UseCache: false})
}

func TestResultPredicateLiteralsPerShape(t *testing.T) {
	c := newTestCompiler(t)
	rf := observation.ResultFilter{Operator: observation.OpGreaterThan, Literal: "5"}

	pred, err := c.ResultPredicate(observation.ShapeNumeric, rf)
	require.NoError(t, err)
	cmp := pred.(observation.Compare)
	assert.Equal(t, observation.OperandResult, cmp.Operand)
	assert.True(t, decimal.NewFromInt(5).Equal(cmp.Literal.(decimal.Decimal)))

	pred, err = c.ResultPredicate(observation.ShapeCount, rf)
	require.NoError(t, err)
	assert.Equal(t, int64(5), pred.(observation.Compare).Literal)

	pred, err = c.ResultPredicate(observation.ShapeText, rf)
	require.NoError(t, err)
	assert.Equal(t, "5", pred.(observation.Compare).Literal)

	_, err = c.ResultPredicate(observation.ShapeBoolean, rf)
	assert.True(t, errors.Is(err, observation.ErrUnsupportedFilterCombination))

	pred, err = c.ResultPredicate(observation.ShapeBoolean, observation.ResultFilter{Operator: observation.OpEqualTo, Literal: "true"})
	require.NoError(t, err)
	assert.Equal(t, true, pred.(observation.Compare).Literal)
}

func TestResultPredicateBetweenAndLevel(t *testing.T) {
	c := newTestCompiler(t)
	pred, err := c.ResultPredicate(observation.ShapeProfile, observation.ResultFilter{
		ValueReference: observation.ValueReferenceProfileLevel,
		Operator:       observation.OpBetween,
		Literal:        "10",
		UpperLiteral:   "20",
	})
	require.NoError(t, err)
	cmp := pred.(observation.Compare)
	assert.Equal(t, observation.OperandLevel, cmp.Operand)
	assert.True(t, decimal.NewFromInt(20).Equal(cmp.Upper.(decimal.Decimal)))

	_, err = c.ResultPredicate(observation.ShapeNumeric, observation.ResultFilter{
		ValueReference: observation.ValueReferenceProfileLevel,
		Operator:       observation.OpEqualTo,
		Literal:        "10",
	})
	assert.ErrorIs(t, err, observation.ErrUnsupportedFilterCombination)

	_, err = c.ResultPredicate(observation.ShapeNumeric, observation.ResultFilter{Operator: observation.OpEqualTo, Literal: "abc"})
	assert.ErrorIs(t, err, observation.ErrUnsupportedFilterCombination)
}

func TestCompileRejectsUnsupportedShape(t *testing.T) {
	c := newTestCompiler(t)
	_, err := c.Compile(observation.ShapeBlob, observation.Filter{
		Results: []observation.ResultFilter{{Operator: observation.OpEqualTo, Literal: "x"}},
	})
	assert.ErrorIs(t, err, observation.ErrUnsupportedFilterCombination)
}

func TestApplicableShapes(t *testing.T) {
	c := newTestCompiler(t)
	shapes, err := c.ApplicableShapes(observation.AllShapes(), []observation.ResultFilter{
		{Operator: observation.OpLessThan, Literal: "3"},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []observation.Shape{
		observation.ShapeNumeric, observation.ShapeCount, observation.ShapeText, observation.ShapeCategory,
	}, shapes)

	_, err = c.ApplicableShapes([]observation.Shape{observation.ShapeBlob, observation.ShapeGeometry}, []observation.ResultFilter{
		{Operator: observation.OpEqualTo, Literal: "x"},
	})
	assert.ErrorIs(t, err, observation.ErrUnsupportedFilterCombination)

	all, err := c.ApplicableShapes(observation.AllShapes(), nil)
	require.NoError(t, err)
	assert.Len(t, all, len(observation.AllShapes()))
}

func TestCompileSeriesHiddenChildrenAndExists(t *testing.T) {
	c := newTestCompiler(t)
	queries, err := c.CompileSeries(observation.Filter{
		Offerings: []string{"off"},
		Results:   []observation.ResultFilter{{Operator: observation.OpGreaterThanOrEqualTo, Literal: "1"}},
	})
	require.NoError(t, err)
	require.Len(t, queries, 1)
	assert.Equal(t, observation.TargetSeries, queries[0].Target)

	where := queries[0].Where.(observation.And)
	assert.Contains(t, where, observation.Flag{Field: observation.FieldSeriesHiddenChild, Value: false})

	var exists observation.Or
	for _, p := range where {
		if or, ok := p.(observation.Or); ok {
			exists = or
		}
	}
	require.Len(t, exists, 4)
	for _, p := range exists {
		_, ok := p.(observation.ObservationExists)
		assert.True(t, ok)
	}

	queries, err = c.CompileSeries(observation.Filter{IncludeHiddenChildren: true})
	require.NoError(t, err)
	assert.NotContains(t, queries[0].Where.(observation.And), observation.Flag{Field: observation.FieldSeriesHiddenChild, Value: false})
}

func TestCompileSeriesSamplingGeometryUsesExists(t *testing.T) {
	c := newTestCompiler(t)
	pt := orb.Point{1, 2}
	queries, err := c.CompileSeries(observation.Filter{
		Spatial: &observation.SpatialFilter{Operator: observation.OpIntersects, ValueReference: observation.ValueReferenceSamplingGeometry, Geometry: pt},
	})
	require.NoError(t, err)
	var found bool
	for _, p := range queries[0].Where.(observation.And) {
		or, ok := p.(observation.Or)
		if !ok {
			continue
		}
		found = true
		assert.Len(t, or, len(observation.AllShapes()))
	}
	assert.True(t, found)
}
