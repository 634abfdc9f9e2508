package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	observation "sos-cloud/internal/observation/domain"
)

// ExtremaMode decides how indeterminate first/latest filters are resolved.
type ExtremaMode string

const (
	// ExtremaCached trusts the series' cached bound when it is set and falls
	// back to an ordered single-row lookup when it is not.
	ExtremaCached ExtremaMode = "cached"
	// ExtremaScan always derives the bound from the observations.
	ExtremaScan ExtremaMode = "scan"
)

// DefaultMaxInList is the identifier count per IN-list before batching.
const DefaultMaxInList = 500

// Compiler turns request filters into backend-neutral queries.
type Compiler struct {
	registry    *observation.Registry
	maxInList   int
	extremaMode ExtremaMode
}

// Option configures the compiler.
type Option func(*Compiler)

// WithMaxInList overrides the identifier batch size.
func WithMaxInList(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.maxInList = n
		}
	}
}

// WithExtremaMode selects how indeterminate time filters are resolved.
func WithExtremaMode(mode ExtremaMode) Option {
	return func(c *Compiler) {
		if mode == ExtremaCached || mode == ExtremaScan {
			c.extremaMode = mode
		}
	}
}

// NewCompiler constructs a compiler bound to a value-type registry.
func NewCompiler(registry *observation.Registry, opts ...Option) (*Compiler, error) {
	if registry == nil {
		return nil, errors.New("query compiler: nil registry")
	}
	c := &Compiler{registry: registry, maxInList: DefaultMaxInList, extremaMode: ExtremaCached}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Registry returns the registry the compiler dispatches on.
func (c *Compiler) Registry() *observation.Registry { return c.registry }

// Compile builds the observation queries for one storage shape, one per
// identifier batch. Result filters the shape cannot express fail with
// ErrUnsupportedFilterCombination.
func (c *Compiler) Compile(shape observation.Shape, f observation.Filter) ([]observation.Query, error) {
	if !shape.IsValid() {
		return nil, fmt.Errorf("%w: shape %d", observation.ErrUnsupportedObservationType, shape)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}

	common := []observation.Predicate{
		observation.Flag{Field: observation.FieldObservationDeleted, Value: false},
		observation.Flag{Field: observation.FieldSeriesDeleted, Value: false},
	}
	if f.Spatial != nil {
		target := observation.TargetFeatureGeometry
		if f.Spatial.TargetsSamplingGeometry() {
			target = observation.TargetSamplingGeometry
		}
		common = append(common, observation.GeometryMatch{Target: target, Operator: f.Spatial.Operator, Geometry: f.Spatial.Geometry})
	}
	if f.Temporal != nil {
		common = append(common, c.temporalPredicate(*f.Temporal))
	}
	for _, rf := range f.Results {
		pred, err := c.ResultPredicate(shape, rf)
		if err != nil {
			return nil, err
		}
		common = append(common, pred)
	}

	batches := identityBatches(f, c.maxInList)
	queries := make([]observation.Query, 0, len(batches))
	for _, identity := range batches {
		where := make(observation.And, 0, len(identity)+len(common))
		where = append(where, identity...)
		where = append(where, common...)
		queries = append(queries, observation.Query{
			Target: observation.TargetObservations,
			Shape:  shape,
			Where:  where,
			OrderBy: []observation.Order{
				{Field: observation.FieldPhenomenonTimeStart},
				{Field: observation.FieldObservationID},
			},
		})
	}
	return queries, nil
}

// CompileSeries builds the series queries for a filter, one per identifier
// batch. Result filters become existence checks against every shape able to
// express them; the spatial filtering profile becomes an existence check on
// observation sampling geometries keyed by series id.
func (c *Compiler) CompileSeries(f observation.Filter) ([]observation.Query, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	common := []observation.Predicate{
		observation.Flag{Field: observation.FieldSeriesDeleted, Value: false},
	}
	if !f.IncludeHiddenChildren {
		common = append(common, observation.Flag{Field: observation.FieldSeriesHiddenChild, Value: false})
	}
	if f.Spatial != nil {
		match := observation.GeometryMatch{Operator: f.Spatial.Operator, Geometry: f.Spatial.Geometry}
		if f.Spatial.TargetsSamplingGeometry() {
			match.Target = observation.TargetSamplingGeometry
			exists := make(observation.Or, 0, len(observation.AllShapes()))
			for _, shape := range observation.AllShapes() {
				exists = append(exists, observation.ObservationExists{Shape: shape, Where: match})
			}
			common = append(common, exists)
		} else {
			match.Target = observation.TargetFeatureGeometry
			common = append(common, match)
		}
	}
	if f.Temporal != nil && !f.Temporal.IsIndeterminate() {
		if f.Temporal.ValueReference == observation.ValueReferenceResultTime {
			return nil, fmt.Errorf("%w: result time filter on series", observation.ErrUnsupportedFilterCombination)
		}
		common = append(common, observation.TimeOverlaps{
			StartField: observation.FieldSeriesFirstTimeStamp,
			EndField:   observation.FieldSeriesLastTimeStamp,
			Interval:   f.Temporal.Interval,
		})
	}
	if len(f.Results) > 0 {
		shapes, err := c.ApplicableShapes(observation.AllShapes(), f.Results)
		if err != nil {
			return nil, err
		}
		exists := make(observation.Or, 0, len(shapes))
		for _, shape := range shapes {
			preds := make(observation.And, 0, len(f.Results))
			for _, rf := range f.Results {
				pred, err := c.ResultPredicate(shape, rf)
				if err != nil {
					return nil, err
				}
				preds = append(preds, pred)
			}
			exists = append(exists, observation.ObservationExists{Shape: shape, Where: preds})
		}
		common = append(common, exists)
	}

	batches := identityBatches(f, c.maxInList)
	queries := make([]observation.Query, 0, len(batches))
	for _, identity := range batches {
		where := make(observation.And, 0, len(identity)+len(common))
		where = append(where, identity...)
		where = append(where, common...)
		queries = append(queries, observation.Query{
			Target:  observation.TargetSeries,
			Where:   where,
			OrderBy: []observation.Order{{Field: observation.FieldSeriesID}},
		})
	}
	return queries, nil
}

// ApplicableShapes keeps the candidate shapes able to express every result
// filter. It fails when result filters are present and no candidate remains.
func (c *Compiler) ApplicableShapes(candidates []observation.Shape, results []observation.ResultFilter) ([]observation.Shape, error) {
	if len(results) == 0 {
		return candidates, nil
	}
	shapes := make([]observation.Shape, 0, len(candidates))
	for _, shape := range candidates {
		ok := true
		for _, rf := range results {
			if _, err := c.ResultPredicate(shape, rf); err != nil {
				ok = false
				break
			}
		}
		if ok {
			shapes = append(shapes, shape)
		}
	}
	if len(shapes) == 0 {
		return nil, fmt.Errorf("%w: no storage shape supports the result filters", observation.ErrUnsupportedFilterCombination)
	}
	return shapes, nil
}

// ResultPredicate compiles one result filter against one storage shape.
func (c *Compiler) ResultPredicate(shape observation.Shape, rf observation.ResultFilter) (observation.Predicate, error) {
	ref := rf.Reference()
	if !c.registry.SupportsResultFilter(shape, ref, rf.Operator) {
		return nil, fmt.Errorf("%w: %s on %q for shape %s", observation.ErrUnsupportedFilterCombination, rf.Operator, ref, shape)
	}

	var operand observation.Operand
	var parse func(string) (any, error)
	switch ref {
	case observation.ValueReferenceUnit:
		operand, parse = observation.OperandUnit, parseString
	case observation.ValueReferenceProfileLevel:
		operand, parse = observation.OperandLevel, parseDecimal
	default:
		operand = observation.OperandResult
		switch shape {
		case observation.ShapeNumeric:
			parse = parseDecimal
		case observation.ShapeCount:
			parse = parseInt
		case observation.ShapeBoolean:
			parse = parseBool
		default:
			parse = parseString
		}
	}

	literal, err := parse(rf.Literal)
	if err != nil {
		return nil, fmt.Errorf("%w: literal %q for shape %s: %v", observation.ErrUnsupportedFilterCombination, rf.Literal, shape, err)
	}
	pred := observation.Compare{Operand: operand, Operator: rf.Operator, Literal: literal}
	if rf.Operator == observation.OpBetween {
		upper, err := parse(rf.UpperLiteral)
		if err != nil {
			return nil, fmt.Errorf("%w: upper literal %q for shape %s: %v", observation.ErrUnsupportedFilterCombination, rf.UpperLiteral, shape, err)
		}
		pred.Upper = upper
	}
	return pred, nil
}

func (c *Compiler) temporalPredicate(tf observation.TemporalFilter) observation.Predicate {
	if tf.IsIndeterminate() {
		return observation.OnBound{Bound: tf.Indeterminate, UseCache: c.extremaMode == ExtremaCached}
	}
	if tf.ValueReference == observation.ValueReferenceResultTime {
		return observation.TimeOverlaps{
			StartField: observation.FieldResultTime,
			EndField:   observation.FieldResultTime,
			Interval:   tf.Interval,
		}
	}
	return observation.TimeOverlaps{
		StartField: observation.FieldPhenomenonTimeStart,
		EndField:   observation.FieldPhenomenonTimeEnd,
		Interval:   tf.Interval,
	}
}

func parseDecimal(s string) (any, error) {
	return decimal.NewFromString(strings.TrimSpace(s))
}

func parseInt(s string) (any, error) {
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func parseBool(s string) (any, error) {
	return strconv.ParseBool(strings.TrimSpace(s))
}

func parseString(s string) (any, error) {
	return s, nil
}
