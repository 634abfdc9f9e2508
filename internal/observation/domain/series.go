package observation

import (
	"time"

	"github.com/shopspring/decimal"
)

// SeriesKey is the identity of a series.
type SeriesKey struct {
	Procedure          string
	ObservableProperty string
	FeatureOfInterest  string
	Offering           string
}

// Validate rejects keys with empty components.
func (k SeriesKey) Validate() error {
	if k.Procedure == "" || k.ObservableProperty == "" || k.FeatureOfInterest == "" || k.Offering == "" {
		return ErrInvalidSeriesKey
	}
	return nil
}

// String renders the key for logs.
func (k SeriesKey) String() string {
	return k.Procedure + "|" + k.ObservableProperty + "|" + k.FeatureOfInterest + "|" + k.Offering
}

// Series is the canonical time-series aggregate. Zero timestamps mean unset.
type Series struct {
	ID          int64
	Key         SeriesKey
	Category    string
	ValueType   ValueType
	Deleted     bool
	Published   bool
	HiddenChild bool

	FirstTimeStamp time.Time
	LastTimeStamp  time.Time
	FirstValue     decimal.NullDecimal
	LastValue      decimal.NullDecimal
	Unit           string
}

// NewSeries constructs an unsaved series for a key.
func NewSeries(key SeriesKey, valueType ValueType, category string, published, hiddenChild bool) (*Series, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return &Series{
		Key:         key,
		Category:    category,
		ValueType:   valueType,
		Published:   published,
		HiddenChild: hiddenChild,
	}, nil
}

// HasExtrema reports whether the time bounds are set.
func (s *Series) HasExtrema() bool {
	return !s.FirstTimeStamp.IsZero() && !s.LastTimeStamp.IsZero()
}

// ExtendExtrema widens the cached bounds with an inserted observation.
// Scalar values move together with their timestamp; the unit is only set while unset.
func (s *Series) ExtendExtrema(o *Observation) bool {
	if o == nil {
		return false
	}
	changed := false
	if s.FirstTimeStamp.IsZero() || o.PhenomenonTime.Start.Before(s.FirstTimeStamp) {
		s.SetBound(BoundFirst, o)
		changed = true
	}
	if s.LastTimeStamp.IsZero() || o.PhenomenonTime.End.After(s.LastTimeStamp) {
		s.SetBound(BoundLatest, o)
		changed = true
	}
	if s.Unit == "" && o.Unit != "" {
		s.Unit = o.Unit
		changed = true
	}
	return changed
}

// SetBound makes the observation the one defining a bound.
func (s *Series) SetBound(b Bound, o *Observation) {
	value := decimal.NullDecimal{}
	if d, ok := ScalarExtremum(o.Value, b); ok {
		value = decimal.NewNullDecimal(d)
	}
	switch b {
	case BoundFirst:
		s.FirstTimeStamp = o.PhenomenonTime.Start.UTC()
		s.FirstValue = value
	case BoundLatest:
		s.LastTimeStamp = o.PhenomenonTime.End.UTC()
		s.LastValue = value
	}
}

// DefinesBound reports whether an observation sits on the cached bound.
func (s *Series) DefinesBound(b Bound, o *Observation) bool {
	if o == nil {
		return false
	}
	switch b {
	case BoundFirst:
		return !s.FirstTimeStamp.IsZero() && o.PhenomenonTime.Start.Equal(s.FirstTimeStamp)
	case BoundLatest:
		return !s.LastTimeStamp.IsZero() && o.PhenomenonTime.End.Equal(s.LastTimeStamp)
	default:
		return false
	}
}

// ClearExtrema resets timestamps, scalar values and unit of an empty series.
func (s *Series) ClearExtrema() {
	s.FirstTimeStamp = time.Time{}
	s.LastTimeStamp = time.Time{}
	s.FirstValue = decimal.NullDecimal{}
	s.LastValue = decimal.NullDecimal{}
	s.Unit = ""
}

// Clone returns a detached copy.
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	copy := *s
	return &copy
}
