package observation

import (
	"context"
	"time"
)

// SeriesRepository persists series aggregates.
type SeriesRepository interface {
	// FindByKey returns the series for a key, deleted or not; nil when absent.
	FindByKey(ctx context.Context, key SeriesKey) (*Series, error)
	Get(ctx context.Context, id int64) (*Series, error)
	// GetForUpdate is Get holding the row lock until the enclosing
	// transaction ends. Extrema writers read through it.
	GetForUpdate(ctx context.Context, id int64) (*Series, error)
	// Insert assigns the series id. A concurrent insert of the same key
	// fails with ErrConcurrentSeriesCreation.
	Insert(ctx context.Context, series *Series) error
	Update(ctx context.Context, series *Series) error
	SetDeletedByProcedure(ctx context.Context, procedure string, deleted bool) ([]*Series, error)
	List(ctx context.Context, q Query) ([]*Series, error)
	// Extrema groups published, non-deleted, non-hidden series by a key field.
	Extrema(ctx context.Context, groupBy Field) ([]ExtremaSummary, error)
}

// ObservationRepository persists observations across storage shapes.
type ObservationRepository interface {
	// Insert stores the observation in the shape of its value and assigns the id.
	Insert(ctx context.Context, o *Observation) error
	Get(ctx context.Context, shape Shape, id int64) (*Observation, error)
	FindByIdentifier(ctx context.Context, identifier string) (*Observation, error)
	SetDeleted(ctx context.Context, o *Observation, deleted bool) error
	// Boundary returns the non-deleted observation of a series with the
	// smallest start (BoundFirst) or largest end (BoundLatest); nil when empty.
	Boundary(ctx context.Context, seriesID int64, b Bound) (*Observation, error)
	// StoredShapes returns the shapes holding non-deleted observations of the
	// given series, in AllShapes order. A series whose value type changed can
	// hold observations in more than one shape.
	StoredShapes(ctx context.Context, seriesIDs []int64) ([]Shape, error)
	List(ctx context.Context, q Query) ([]*Observation, error)
	Stream(ctx context.Context, q Query, pageSize int) (Cursor, error)
}

// FeatureRepository persists features of interest.
type FeatureRepository interface {
	Save(ctx context.Context, f *Feature) error
	Get(ctx context.Context, identifier string) (*Feature, error)
}

// Session groups the repositories bound to one persistence scope.
type Session interface {
	Series() SeriesRepository
	Observations() ObservationRepository
	Features() FeatureRepository
}

// Store opens persistence scopes. WithinTx commits when fn returns nil and
// rolls back otherwise.
type Store interface {
	Session
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Session) error) error
}

// Cursor is a forward-only, read-only iterator over observations.
type Cursor interface {
	Next() bool
	Observation() *Observation
	Err() error
	Close() error
}

// ExtremaSummary is the time extent of all series sharing a key value.
type ExtremaSummary struct {
	Key         string
	SeriesCount int
	Start       time.Time
	End         time.Time
}
