package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sos-cloud/internal/logging"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observability/metrics"
)

// InsertRequest carries one observation and the series it belongs to.
type InsertRequest struct {
	Key         observation.SeriesKey
	Category    string
	Published   bool
	HiddenChild bool
	// ValueType is the declared observation type tag or URI. When empty the
	// type is classified from the value.
	ValueType   string
	Feature     *observation.Feature
	Observation *observation.Observation
}

// IngestService runs insert and delete flows in one transaction scope.
type IngestService struct {
	store    observation.Store
	registry *observation.Registry
	series   *SeriesRegistry
	tracker  *ExtremaTracker
	logger   *zap.Logger
}

// NewIngestService constructs an ingest service.
func NewIngestService(store observation.Store, registry *observation.Registry, series *SeriesRegistry, tracker *ExtremaTracker, logger *zap.Logger) (*IngestService, error) {
	if store == nil {
		return nil, errors.New("ingest service: nil store")
	}
	if registry == nil {
		return nil, errors.New("ingest service: nil registry")
	}
	if series == nil {
		return nil, errors.New("ingest service: nil series registry")
	}
	if tracker == nil {
		return nil, errors.New("ingest service: nil extrema tracker")
	}
	return &IngestService{
		store:    store,
		registry: registry,
		series:   series,
		tracker:  tracker,
		logger:   logging.OrNop(logger),
	}, nil
}

// InsertObservation resolves the series, stores the observation and widens
// the series extrema.
func (s *IngestService) InsertObservation(ctx context.Context, req InsertRequest) (stored *observation.Observation, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveIngest("insert", resultLabel(err), time.Since(start))
	}()

	o := req.Observation
	if err := o.Validate(); err != nil {
		return nil, err
	}
	valueType, err := s.valueType(req.ValueType, o.Value)
	if err != nil {
		return nil, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx observation.Session) error {
		if req.Feature != nil {
			if err := tx.Features().Save(ctx, req.Feature); err != nil {
				return err
			}
		}
		series, err := s.series.ResolveOrCreate(ctx, tx, ResolveRequest{
			Key:         req.Key,
			ValueType:   valueType,
			Category:    req.Category,
			Published:   req.Published,
			HiddenChild: req.HiddenChild,
		})
		if err != nil {
			return err
		}
		o.SeriesID = series.ID
		if err := tx.Observations().Insert(ctx, o); err != nil {
			return err
		}
		return s.tracker.OnInsert(ctx, tx, series, o)
	})
	if err != nil {
		s.logger.Warn("observation insert failed", zap.Stringer("key", req.Key), zap.Error(err))
		return nil, err
	}
	return o, nil
}

// DeleteObservation soft-deletes an observation by identifier and re-derives
// the bounds it defined. Deleting an already deleted observation is a no-op.
func (s *IngestService) DeleteObservation(ctx context.Context, identifier string) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveIngest("delete", resultLabel(err), time.Since(start))
	}()

	return s.store.WithinTx(ctx, func(ctx context.Context, tx observation.Session) error {
		o, err := tx.Observations().FindByIdentifier(ctx, identifier)
		if err != nil {
			return err
		}
		if o == nil {
			return fmt.Errorf("%w: observation %q", observation.ErrNotFound, identifier)
		}
		if o.Deleted {
			return nil
		}
		// Inserts lock the series row too; bounds are read only after the lock.
		series, err := tx.Series().GetForUpdate(ctx, o.SeriesID)
		if err != nil {
			return err
		}
		if series == nil {
			return fmt.Errorf("%w: series %d", observation.ErrNotFound, o.SeriesID)
		}
		if o, err = tx.Observations().FindByIdentifier(ctx, identifier); err != nil {
			return err
		}
		if o == nil || o.Deleted {
			return nil
		}
		if err := tx.Observations().SetDeleted(ctx, o, true); err != nil {
			return err
		}
		return s.tracker.OnDelete(ctx, tx, series, o)
	})
}

// DeleteProcedure soft-deletes every series of a procedure.
func (s *IngestService) DeleteProcedure(ctx context.Context, procedure string) (deleted []*observation.Series, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveIngest("delete_procedure", resultLabel(err), time.Since(start))
	}()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx observation.Session) error {
		var err error
		deleted, err = s.series.MarkDeletedForProcedure(ctx, tx, procedure, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// valueType resolves the declared tag and checks it against the value.
func (s *IngestService) valueType(declared string, v observation.Value) (observation.ValueType, error) {
	classified, err := s.registry.Classify(v)
	if err != nil {
		return "", err
	}
	if declared == "" {
		return classified, nil
	}
	vt, err := s.registry.Resolve(declared)
	if err != nil {
		return "", err
	}
	want, err := s.registry.ShapeOf(vt)
	if err != nil {
		return "", err
	}
	got, err := s.registry.ShapeOf(classified)
	if err != nil {
		return "", err
	}
	if want != got {
		return "", fmt.Errorf("%w: declared %s but value is %s", observation.ErrUnsupportedObservationType, vt, classified)
	}
	return vt, nil
}
