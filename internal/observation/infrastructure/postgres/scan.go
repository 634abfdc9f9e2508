package postgres

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/shopspring/decimal"

	observation "sos-cloud/internal/observation/domain"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSeries(row rowScanner) (*observation.Series, error) {
	var (
		s          observation.Series
		valueType  string
		first      sql.NullTime
		last       sql.NullTime
		firstValue decimal.NullDecimal
		lastValue  decimal.NullDecimal
	)
	if err := row.Scan(
		&s.ID,
		&s.Key.Procedure,
		&s.Key.ObservableProperty,
		&s.Key.FeatureOfInterest,
		&s.Key.Offering,
		&s.Category,
		&valueType,
		&s.Deleted,
		&s.Published,
		&s.HiddenChild,
		&first,
		&last,
		&firstValue,
		&lastValue,
		&s.Unit,
	); err != nil {
		return nil, err
	}
	s.ValueType = observation.ValueType(valueType)
	s.FirstTimeStamp = fromNullTime(first)
	s.LastTimeStamp = fromNullTime(last)
	s.FirstValue = firstValue
	s.LastValue = lastValue
	return &s, nil
}

func scanObservation(row rowScanner, shape observation.Shape) (*observation.Observation, error) {
	codec, err := codecFor(shape)
	if err != nil {
		return nil, err
	}
	var (
		o          observation.Observation
		resultTime sql.NullTime
		validStart sql.NullTime
		validEnd   sql.NullTime
	)
	sampling := wkb.Scanner(nil)
	dest := []any{
		&o.ID,
		&o.SeriesID,
		&o.Identifier,
		&o.PhenomenonTime.Start,
		&o.PhenomenonTime.End,
		&resultTime,
		&validStart,
		&validEnd,
		sampling,
		&o.Unit,
		&o.Deleted,
	}
	valueDest, decode := codec.dest()
	dest = append(dest, valueDest...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	value, err := decode()
	if err != nil {
		return nil, fmt.Errorf("observation postgres: decode %s value: %w", shape, err)
	}
	o.Value = value
	o.PhenomenonTime.Start = o.PhenomenonTime.Start.UTC()
	o.PhenomenonTime.End = o.PhenomenonTime.End.UTC()
	o.ResultTime = fromNullTime(resultTime)
	if validStart.Valid && validEnd.Valid {
		o.ValidTime = &observation.TimeInterval{Start: validStart.Time.UTC(), End: validEnd.Time.UTC()}
	}
	if sampling.Valid {
		o.SamplingGeometry = sampling.Geometry
	}
	return &o, nil
}

func fromNullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
