package observation

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/shopspring/decimal"
)

// Value is an observation result. Implementations are the twelve variants
// below; the registry maps each to exactly one storage shape.
type Value interface {
	isValue()
}

// NumericValue is a measurement with a decimal result.
type NumericValue struct {
	Value decimal.Decimal
}

// CountValue is an integer count.
type CountValue struct {
	Value int64
}

// BooleanValue is a truth observation.
type BooleanValue struct {
	Value bool
}

// TextValue is free text.
type TextValue struct {
	Value string
}

// CategoryValue is a coded term from a codespace.
type CategoryValue struct {
	Value     string
	Codespace string
}

// GeometryValue is a geometry-valued result.
type GeometryValue struct {
	Geometry orb.Geometry
}

// NamedValue is a named scalar member of a composite result.
type NamedValue struct {
	Name  string
	Value Value
}

// ComplexValue is a record of named scalar members.
type ComplexValue struct {
	Members []NamedValue
}

// ProfileLevel is one vertical slice of a profile.
type ProfileLevel struct {
	LevelStart decimal.Decimal
	LevelEnd   decimal.Decimal
	Members    []NamedValue
}

// ProfileValue is a vertical series of levels.
type ProfileValue struct {
	Unit   string
	Levels []ProfileLevel
}

// TrajectoryPoint is a timestamped location with optional members.
type TrajectoryPoint struct {
	Time     time.Time
	Location orb.Point
	Members  []NamedValue
}

// TrajectoryValue is a geometry-valued series over time.
type TrajectoryValue struct {
	Points []TrajectoryPoint
}

// SweField describes one column of a SWE data array.
type SweField struct {
	Name    string `json:"name"`
	Unit    string `json:"unit,omitempty"`
	Numeric bool   `json:"numeric,omitempty"`
}

// SweArrayValue is a tabular block of encoded values.
type SweArrayValue struct {
	Fields []SweField
	Rows   [][]string
}

// BlobValue is an opaque binary result.
type BlobValue struct {
	MediaType string
	Data      []byte
}

// ReferenceValue links to another resource.
type ReferenceValue struct {
	Href  string
	Title string
	Role  string
}

func (NumericValue) isValue()    {}
func (CountValue) isValue()      {}
func (BooleanValue) isValue()    {}
func (TextValue) isValue()       {}
func (CategoryValue) isValue()   {}
func (GeometryValue) isValue()   {}
func (ComplexValue) isValue()    {}
func (ProfileValue) isValue()    {}
func (TrajectoryValue) isValue() {}
func (SweArrayValue) isValue()   {}
func (BlobValue) isValue()       {}
func (ReferenceValue) isValue()  {}

// IsScalar reports whether a value can be a member of a composite result.
func IsScalar(v Value) bool {
	switch v.(type) {
	case NumericValue, CountValue, BooleanValue, TextValue, CategoryValue:
		return true
	default:
		return false
	}
}

// Bound selects the lower or upper end of a series' time extent.
type Bound int

const (
	BoundFirst Bound = iota + 1
	BoundLatest
)

// String returns the indeterminate-time keyword for the bound.
func (b Bound) String() string {
	switch b {
	case BoundFirst:
		return "first"
	case BoundLatest:
		return "latest"
	default:
		return "unknown"
	}
}

// ScalarExtremum returns the scalar tracked in the series' first or last value
// for a result. Only numeric results and SWE arrays with exactly one numeric
// field carry one; for arrays the first row feeds BoundFirst and the last row
// feeds BoundLatest.
func ScalarExtremum(v Value, b Bound) (decimal.Decimal, bool) {
	switch val := v.(type) {
	case NumericValue:
		return val.Value, true
	case SweArrayValue:
		col := -1
		for i, f := range val.Fields {
			if !f.Numeric {
				continue
			}
			if col >= 0 {
				return decimal.Decimal{}, false
			}
			col = i
		}
		if col < 0 || len(val.Rows) == 0 {
			return decimal.Decimal{}, false
		}
		row := val.Rows[0]
		if b == BoundLatest {
			row = val.Rows[len(val.Rows)-1]
		}
		if col >= len(row) {
			return decimal.Decimal{}, false
		}
		d, err := decimal.NewFromString(row[col])
		if err != nil {
			return decimal.Decimal{}, false
		}
		return d, true
	default:
		return decimal.Decimal{}, false
	}
}

// LevelBounds returns the smallest level start and largest level end of a profile.
func (p ProfileValue) LevelBounds() (decimal.Decimal, decimal.Decimal, bool) {
	if len(p.Levels) == 0 {
		return decimal.Decimal{}, decimal.Decimal{}, false
	}
	lo, hi := p.Levels[0].LevelStart, p.Levels[0].LevelEnd
	for _, level := range p.Levels[1:] {
		if level.LevelStart.LessThan(lo) {
			lo = level.LevelStart
		}
		if level.LevelEnd.GreaterThan(hi) {
			hi = level.LevelEnd
		}
	}
	return lo, hi, true
}
