package observation

import (
	"time"

	"github.com/paulmach/orb"
)

// TimeInterval is a closed time period; Start equals End for instants.
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

// Instant returns an interval collapsed to a single point in time.
func Instant(t time.Time) TimeInterval {
	return TimeInterval{Start: t, End: t}
}

// Validate rejects zero or inverted intervals.
func (i TimeInterval) Validate() error {
	if i.Start.IsZero() || i.End.IsZero() || i.End.Before(i.Start) {
		return ErrInvalidPhenomenonTime
	}
	return nil
}

// Intersects reports whether two closed intervals share at least one instant.
func (i TimeInterval) Intersects(other TimeInterval) bool {
	return !i.Start.After(other.End) && !i.End.Before(other.Start)
}

// Observation is a single measurement owned by a series.
type Observation struct {
	ID               int64
	SeriesID         int64
	Identifier       string
	PhenomenonTime   TimeInterval
	ResultTime       time.Time
	ValidTime        *TimeInterval
	SamplingGeometry orb.Geometry
	Unit             string
	Deleted          bool
	Value            Value
}

// Validate checks the fields every storage shape requires.
func (o *Observation) Validate() error {
	if o == nil || o.Value == nil {
		return ErrNilValue
	}
	if err := o.PhenomenonTime.Validate(); err != nil {
		return err
	}
	if o.ValidTime != nil {
		if err := o.ValidTime.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Feature is a feature of interest with its nominal geometry.
type Feature struct {
	Identifier string
	Name       string
	Geometry   orb.Geometry
}
