package observation

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func numeric(at time.Time, v int64, unit string) *Observation {
	return &Observation{
		PhenomenonTime: Instant(at),
		Value:          NumericValue{Value: decimal.NewFromInt(v)},
		Unit:           unit,
	}
}

func TestNewSeriesValidatesKey(t *testing.T) {
	_, err := NewSeries(SeriesKey{Procedure: "p", ObservableProperty: "o", FeatureOfInterest: "f"}, TypeNumeric, "", true, false)
	assert.ErrorIs(t, err, ErrInvalidSeriesKey)

	s, err := NewSeries(SeriesKey{Procedure: "p", ObservableProperty: "o", FeatureOfInterest: "f", Offering: "off"}, TypeNumeric, "cat", true, false)
	require.NoError(t, err)
	assert.Equal(t, "p|o|f|off", s.Key.String())
	assert.False(t, s.HasExtrema())
}

func TestExtendExtremaTracksOutOfOrderArrivals(t *testing.T) {
	s := &Series{}

	assert.True(t, s.ExtendExtrema(numeric(t0, 1, "")))
	assert.True(t, s.ExtendExtrema(numeric(t0.Add(time.Hour), 2, "degC")))
	assert.True(t, s.ExtendExtrema(numeric(t0.Add(-time.Hour), 0, "K")))
	assert.False(t, s.ExtendExtrema(numeric(t0.Add(30*time.Minute), 9, "")), "inner observation leaves bounds alone")

	assert.True(t, s.FirstTimeStamp.Equal(t0.Add(-time.Hour)))
	assert.True(t, s.LastTimeStamp.Equal(t0.Add(time.Hour)))
	require.True(t, s.FirstValue.Valid)
	assert.Equal(t, "0", s.FirstValue.Decimal.String())
	require.True(t, s.LastValue.Valid)
	assert.Equal(t, "2", s.LastValue.Decimal.String())
	assert.Equal(t, "degC", s.Unit, "unit is only set while unset")
}

func TestExtendExtremaPeriodUsesBothEnds(t *testing.T) {
	s := &Series{}
	o := &Observation{
		PhenomenonTime: TimeInterval{Start: t0, End: t0.Add(2 * time.Hour)},
		Value:          TextValue{Value: "x"},
	}
	require.True(t, s.ExtendExtrema(o))
	assert.True(t, s.FirstTimeStamp.Equal(t0))
	assert.True(t, s.LastTimeStamp.Equal(t0.Add(2*time.Hour)))
	assert.False(t, s.FirstValue.Valid, "text results carry no scalar")

	assert.True(t, s.DefinesBound(BoundFirst, o))
	assert.True(t, s.DefinesBound(BoundLatest, o))
	assert.False(t, s.DefinesBound(BoundLatest, numeric(t0, 1, "")))
}

func TestClearExtremaAndClone(t *testing.T) {
	s := &Series{ID: 7}
	s.ExtendExtrema(numeric(t0, 3, "m"))
	c := s.Clone()

	s.ClearExtrema()
	assert.False(t, s.HasExtrema())
	assert.False(t, s.LastValue.Valid)
	assert.Empty(t, s.Unit)

	assert.True(t, c.HasExtrema(), "clone is detached")
	assert.Equal(t, int64(7), c.ID)
	assert.Nil(t, (*Series)(nil).Clone())
}
