package observation

import "github.com/paulmach/orb"

// Field is a column a predicate can address. Series fields are reachable
// from observation queries through the owning series.
type Field int

const (
	FieldSeriesID Field = iota + 1
	FieldProcedure
	FieldObservableProperty
	FieldFeatureOfInterest
	FieldOffering
	FieldCategory
	FieldSeriesDeleted
	FieldSeriesPublished
	FieldSeriesHiddenChild
	FieldSeriesFirstTimeStamp
	FieldSeriesLastTimeStamp

	FieldObservationID
	FieldObservationDeleted
	FieldIdentifier
	FieldPhenomenonTimeStart
	FieldPhenomenonTimeEnd
	FieldResultTime
)

// Operand is the result property a comparison reads.
type Operand int

const (
	OperandResult Operand = iota + 1
	OperandUnit
	OperandLevel
)

// GeometryTarget selects the geometry a spatial predicate reads.
type GeometryTarget int

const (
	TargetFeatureGeometry GeometryTarget = iota + 1
	TargetSamplingGeometry
)

// Predicate is a node of a compiled filter tree. Backends evaluate or render
// every node type declared in this file.
type Predicate interface {
	isPredicate()
}

// And matches when every child matches; an empty And matches everything.
type And []Predicate

// Or matches when any child matches; an empty Or matches nothing.
type Or []Predicate

// In matches when a text field is one of Values.
type In struct {
	Field  Field
	Values []string
}

// Flag matches a boolean field against Value.
type Flag struct {
	Field Field
	Value bool
}

// TimeOverlaps matches when the closed period [StartField, EndField]
// intersects Interval.
type TimeOverlaps struct {
	StartField Field
	EndField   Field
	Interval   TimeInterval
}

// OnBound matches observations sitting on their series' first or latest
// bound. With UseCache the cached series timestamp is authoritative when set;
// otherwise, and whenever the cached bound is unset, the bound is derived from
// the remaining observations of the series.
type OnBound struct {
	Bound    Bound
	UseCache bool
}

// GeometryMatch applies a spatial operator to a geometry.
type GeometryMatch struct {
	Target   GeometryTarget
	Operator SpatialOperator
	Geometry orb.Geometry
}

// ObservationExists matches series owning a non-deleted observation of Shape
// that satisfies Where.
type ObservationExists struct {
	Shape Shape
	Where Predicate
}

// Compare matches a typed literal against an operand. Literal and Upper hold
// decimal.Decimal, int64, bool or string depending on shape and operand.
type Compare struct {
	Operand  Operand
	Operator ComparisonOperator
	Literal  any
	Upper    any
}

func (And) isPredicate()               {}
func (Or) isPredicate()                {}
func (In) isPredicate()                {}
func (Flag) isPredicate()              {}
func (TimeOverlaps) isPredicate()      {}
func (OnBound) isPredicate()           {}
func (GeometryMatch) isPredicate()     {}
func (ObservationExists) isPredicate() {}
func (Compare) isPredicate()           {}

// Target is what a query returns.
type Target int

const (
	TargetObservations Target = iota + 1
	TargetSeries
)

// Order is one sort term.
type Order struct {
	Field      Field
	Descending bool
}

// Query is a compiled, backend-neutral query against one storage shape
// (observation queries) or the series table (series queries).
type Query struct {
	Target  Target
	Shape   Shape
	Where   Predicate
	OrderBy []Order
	Limit   int
	Offset  int
}

// WithPage returns a copy limited to one page.
func (q Query) WithPage(limit, offset int) Query {
	q.Limit = limit
	q.Offset = offset
	return q
}
