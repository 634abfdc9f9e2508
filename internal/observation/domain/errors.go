package observation

import "errors"

var (
	// ErrUnsupportedObservationType is returned for an unknown value-type tag or value.
	ErrUnsupportedObservationType = errors.New("observation: unsupported observation type")
	// ErrSeriesCreation is returned when a series cannot be constructed or persisted.
	ErrSeriesCreation = errors.New("observation: series creation failed")
	// ErrUnsupportedFilterCombination is returned when a filter cannot be expressed against a storage shape.
	ErrUnsupportedFilterCombination = errors.New("observation: unsupported filter combination")
	// ErrConcurrentSeriesCreation signals a lost insert race on the series identity key.
	// The series registry recovers from it by re-reading; it never reaches callers.
	ErrConcurrentSeriesCreation = errors.New("observation: concurrent series creation")
	// ErrCursorClosed is returned when a cursor is used after Close.
	ErrCursorClosed = errors.New("observation: cursor exhausted or closed")

	// ErrInvalidSeriesKey is returned when an identity component is empty.
	ErrInvalidSeriesKey = errors.New("observation: invalid series key")
	// ErrInvalidPhenomenonTime is returned when start is zero or after end.
	ErrInvalidPhenomenonTime = errors.New("observation: invalid phenomenon time")
	// ErrNilValue is returned when an observation carries no value.
	ErrNilValue = errors.New("observation: nil value")
	// ErrNotFound is returned when a series, observation or feature is missing.
	ErrNotFound = errors.New("observation: not found")
	// ErrDuplicateIdentifier is returned when an observation identifier is already taken.
	ErrDuplicateIdentifier = errors.New("observation: duplicate identifier")
)
