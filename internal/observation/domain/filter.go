package observation

import (
	"fmt"

	"github.com/paulmach/orb"
)

// ValueReference addresses the property a filter applies to.
type ValueReference string

const (
	ValueReferenceResult       ValueReference = "om:result"
	ValueReferenceUnit         ValueReference = "om:result/@uom"
	ValueReferenceProfileLevel ValueReference = "om:result/profile:level"

	ValueReferenceFeatureShape ValueReference = "om:featureOfInterest/*/sams:shape"
	// ValueReferenceSamplingGeometry selects the spatial filtering profile.
	ValueReferenceSamplingGeometry ValueReference = "om:parameter/om:NamedValue/om:value"

	ValueReferencePhenomenonTime ValueReference = "om:phenomenonTime"
	ValueReferenceResultTime     ValueReference = "om:resultTime"
)

// normalized maps an empty result-filter reference to the result itself.
func (r ValueReference) normalized() ValueReference {
	if r == "" {
		return ValueReferenceResult
	}
	return r
}

// ComparisonOperator is a result-filter operator.
type ComparisonOperator string

const (
	OpEqualTo              ComparisonOperator = "PropertyIsEqualTo"
	OpNotEqualTo           ComparisonOperator = "PropertyIsNotEqualTo"
	OpLessThan             ComparisonOperator = "PropertyIsLessThan"
	OpLessThanOrEqualTo    ComparisonOperator = "PropertyIsLessThanOrEqualTo"
	OpGreaterThan          ComparisonOperator = "PropertyIsGreaterThan"
	OpGreaterThanOrEqualTo ComparisonOperator = "PropertyIsGreaterThanOrEqualTo"
	OpBetween              ComparisonOperator = "PropertyIsBetween"
	OpLike                 ComparisonOperator = "PropertyIsLike"
)

// IsValid reports whether the operator is known.
func (op ComparisonOperator) IsValid() bool {
	switch op {
	case OpEqualTo, OpNotEqualTo, OpLessThan, OpLessThanOrEqualTo,
		OpGreaterThan, OpGreaterThanOrEqualTo, OpBetween, OpLike:
		return true
	default:
		return false
	}
}

// SpatialOperator is a spatial-filter operator.
type SpatialOperator string

const (
	OpBBOX       SpatialOperator = "BBOX"
	OpIntersects SpatialOperator = "Intersects"
	OpWithin     SpatialOperator = "Within"
)

// SpatialFilter restricts matches by geometry.
type SpatialFilter struct {
	Operator       SpatialOperator
	ValueReference ValueReference
	Geometry       orb.Geometry
}

// TargetsSamplingGeometry reports whether the spatial filtering profile applies.
func (f SpatialFilter) TargetsSamplingGeometry() bool {
	return f.ValueReference == ValueReferenceSamplingGeometry
}

// Validate checks operator, reference and operand.
func (f SpatialFilter) Validate() error {
	switch f.Operator {
	case OpBBOX, OpIntersects, OpWithin:
	default:
		return fmt.Errorf("%w: spatial operator %q", ErrUnsupportedFilterCombination, f.Operator)
	}
	switch f.ValueReference {
	case "", ValueReferenceFeatureShape, ValueReferenceSamplingGeometry:
	default:
		return fmt.Errorf("%w: spatial value reference %q", ErrUnsupportedFilterCombination, f.ValueReference)
	}
	if f.Geometry == nil {
		return fmt.Errorf("%w: spatial filter without geometry", ErrUnsupportedFilterCombination)
	}
	return nil
}

// TemporalFilter is an absolute interval or an indeterminate first/latest marker.
type TemporalFilter struct {
	ValueReference ValueReference
	Interval       TimeInterval
	Indeterminate  Bound
}

// IsIndeterminate reports whether the filter asks for first or latest.
func (f TemporalFilter) IsIndeterminate() bool {
	return f.Indeterminate == BoundFirst || f.Indeterminate == BoundLatest
}

// Validate checks reference and interval.
func (f TemporalFilter) Validate() error {
	switch f.ValueReference {
	case "", ValueReferencePhenomenonTime:
	case ValueReferenceResultTime:
		if f.IsIndeterminate() {
			return fmt.Errorf("%w: indeterminate result time", ErrUnsupportedFilterCombination)
		}
	default:
		return fmt.Errorf("%w: temporal value reference %q", ErrUnsupportedFilterCombination, f.ValueReference)
	}
	if f.IsIndeterminate() {
		return nil
	}
	if err := f.Interval.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedFilterCombination, err)
	}
	return nil
}

// ResultFilter compares a property of the result with a literal.
type ResultFilter struct {
	ValueReference ValueReference
	Operator       ComparisonOperator
	Literal        string
	// UpperLiteral is the upper bound for OpBetween.
	UpperLiteral string
}

// Reference returns the effective value reference.
func (f ResultFilter) Reference() ValueReference {
	return f.ValueReference.normalized()
}

// Filter is a request-scoped query description.
type Filter struct {
	Procedures           []string
	ObservableProperties []string
	Features             []string
	Offerings            []string

	Spatial  *SpatialFilter
	Temporal *TemporalFilter
	Results  []ResultFilter

	// IncludeHiddenChildren lists hidden-child series in series queries.
	IncludeHiddenChildren bool
}

// Validate checks the nested filters.
func (f Filter) Validate() error {
	if f.Spatial != nil {
		if err := f.Spatial.Validate(); err != nil {
			return err
		}
	}
	if f.Temporal != nil {
		if err := f.Temporal.Validate(); err != nil {
			return err
		}
	}
	for _, rf := range f.Results {
		if !rf.Operator.IsValid() {
			return fmt.Errorf("%w: comparison operator %q", ErrUnsupportedFilterCombination, rf.Operator)
		}
	}
	return nil
}
