package memory

import (
	"context"
	"errors"
	"sync"

	observation "sos-cloud/internal/observation/domain"
)

// Store is an in-memory observation store for tests and embedded use.
// Writers inside WithinTx are serialized and rolled back on error or panic.
type Store struct {
	registry *observation.Registry

	txMu sync.Mutex
	mu   sync.RWMutex

	series       map[int64]*observation.Series
	seriesByKey  map[observation.SeriesKey]int64
	observations map[int64]*storedObservation
	features     map[string]*observation.Feature
	nextSeriesID int64
	nextObsID    int64
}

type storedObservation struct {
	shape observation.Shape
	obs   *observation.Observation
}

// NewStore constructs an empty store. A nil registry gets the built-in one.
func NewStore(registry *observation.Registry) *Store {
	if registry == nil {
		registry = observation.NewRegistry()
	}
	return &Store{
		registry:     registry,
		series:       make(map[int64]*observation.Series),
		seriesByKey:  make(map[observation.SeriesKey]int64),
		observations: make(map[int64]*storedObservation),
		features:     make(map[string]*observation.Feature),
	}
}

// Series returns the series repository.
func (s *Store) Series() observation.SeriesRepository { return &seriesRepository{store: s} }

// Observations returns the observation repository.
func (s *Store) Observations() observation.ObservationRepository {
	return &observationRepository{store: s}
}

// Features returns the feature repository.
func (s *Store) Features() observation.FeatureRepository { return &featureRepository{store: s} }

// WithinTx runs fn against the store. State changes are discarded when fn
// fails or panics.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx observation.Session) error) (err error) {
	if s == nil {
		return errors.New("memory store: nil store")
	}
	if fn == nil {
		return errors.New("memory store: nil tx func")
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx, s)
}

type snapshot struct {
	series       map[int64]*observation.Series
	seriesByKey  map[observation.SeriesKey]int64
	observations map[int64]*storedObservation
	features     map[string]*observation.Feature
	nextSeriesID int64
	nextObsID    int64
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := snapshot{
		series:       make(map[int64]*observation.Series, len(s.series)),
		seriesByKey:  make(map[observation.SeriesKey]int64, len(s.seriesByKey)),
		observations: make(map[int64]*storedObservation, len(s.observations)),
		features:     make(map[string]*observation.Feature, len(s.features)),
		nextSeriesID: s.nextSeriesID,
		nextObsID:    s.nextObsID,
	}
	for id, series := range s.series {
		snap.series[id] = series.Clone()
	}
	for key, id := range s.seriesByKey {
		snap.seriesByKey[key] = id
	}
	for id, stored := range s.observations {
		snap.observations[id] = &storedObservation{shape: stored.shape, obs: cloneObservation(stored.obs)}
	}
	for id, feature := range s.features {
		copied := *feature
		snap.features[id] = &copied
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = snap.series
	s.seriesByKey = snap.seriesByKey
	s.observations = snap.observations
	s.features = snap.features
	s.nextSeriesID = snap.nextSeriesID
	s.nextObsID = snap.nextObsID
}

func cloneObservation(o *observation.Observation) *observation.Observation {
	if o == nil {
		return nil
	}
	copied := *o
	if o.ValidTime != nil {
		vt := *o.ValidTime
		copied.ValidTime = &vt
	}
	return &copied
}

var _ observation.Store = (*Store)(nil)
