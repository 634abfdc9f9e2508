package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	observation "sos-cloud/internal/observation/domain"
)

const (
	defaultSeriesTable       = "series"
	defaultFeatureTable      = "features_of_interest"
	defaultObservationPrefix = "observation_"
	defaultObservationIndex  = "observation_index"
	defaultSRID              = 4326
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tables names the relations the store reads and writes.
type Tables struct {
	Series   string
	Features string
	// ObservationPrefix is prepended to the shape name, e.g. observation_numeric.
	ObservationPrefix string
	// ObservationIndex is the UNION ALL view over every shape table.
	ObservationIndex string
}

// Observations returns the table holding one storage shape.
func (t Tables) Observations(shape observation.Shape) string {
	return t.ObservationPrefix + shape.String()
}

// Option configures a Store.
type Option func(*Store)

// WithTables overrides relation names; empty fields keep their defaults.
func WithTables(t Tables) Option {
	return func(s *Store) {
		if t.Series != "" {
			s.tables.Series = t.Series
		}
		if t.Features != "" {
			s.tables.Features = t.Features
		}
		if t.ObservationPrefix != "" {
			s.tables.ObservationPrefix = t.ObservationPrefix
		}
		if t.ObservationIndex != "" {
			s.tables.ObservationIndex = t.ObservationIndex
		}
	}
}

// WithSRID sets the spatial reference of stored and filter geometries.
func WithSRID(srid int) Option {
	return func(s *Store) {
		if srid > 0 {
			s.srid = srid
		}
	}
}

// WithRegistry sets the value-type registry used to classify inserted values.
func WithRegistry(registry *observation.Registry) Option {
	return func(s *Store) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// Store is the PostgreSQL/PostGIS persistence backend.
type Store struct {
	db       *sql.DB
	q        querier
	tx       *sql.Tx
	tables   Tables
	srid     int
	registry *observation.Registry
}

// NewStore constructs a store on an open database handle.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("observation postgres: nil db")
	}
	s := &Store{
		db: db,
		q:  db,
		tables: Tables{
			Series:            defaultSeriesTable,
			Features:          defaultFeatureTable,
			ObservationPrefix: defaultObservationPrefix,
			ObservationIndex:  defaultObservationIndex,
		},
		srid:     defaultSRID,
		registry: observation.NewRegistry(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Tables returns the relation names in use.
func (s *Store) Tables() Tables { return s.tables }

// Series returns the series repository bound to this scope.
func (s *Store) Series() observation.SeriesRepository {
	return &seriesRepository{store: s}
}

// Observations returns the observation repository bound to this scope.
func (s *Store) Observations() observation.ObservationRepository {
	return &observationRepository{store: s}
}

// Features returns the feature repository bound to this scope.
func (s *Store) Features() observation.FeatureRepository {
	return &featureRepository{store: s}
}

// WithinTx runs fn in a READ COMMITTED transaction. A store already bound to
// a transaction runs fn in that transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx observation.Session) error) (err error) {
	if s == nil || s.db == nil {
		return errors.New("observation postgres: nil db")
	}
	if s.tx != nil {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("observation postgres: begin: %w", err)
	}
	bound := s.bind(tx)
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(ctx, bound); err != nil {
		return multierr.Append(err, ignoreDone(tx.Rollback()))
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("observation postgres: commit: %w", err)
	}
	return nil
}

func (s *Store) bind(tx *sql.Tx) *Store {
	bound := *s
	bound.q = tx
	bound.tx = tx
	return &bound
}

func ignoreDone(err error) error {
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

var _ observation.Store = (*Store)(nil)
