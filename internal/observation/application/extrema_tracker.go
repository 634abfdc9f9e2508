package application

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"sos-cloud/internal/logging"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observability/metrics"
)

// ExtremaTracker keeps the cached time and value bounds of series current.
type ExtremaTracker struct {
	logger *zap.Logger
}

// NewExtremaTracker constructs a tracker.
func NewExtremaTracker(logger *zap.Logger) *ExtremaTracker {
	return &ExtremaTracker{logger: logging.OrNop(logger)}
}

// OnInsert widens the bounds with a stored observation and persists the
// series only when a bound or the unit changed.
func (t *ExtremaTracker) OnInsert(ctx context.Context, session observation.Session, series *observation.Series, o *observation.Observation) error {
	if session == nil || series == nil || o == nil {
		return errors.New("extrema tracker: nil argument")
	}
	if !series.ExtendExtrema(o) {
		return nil
	}
	return session.Series().Update(ctx, series)
}

// OnDelete re-derives every bound the deleted observation defined from the
// remaining observations. A series left empty loses its bounds, values and unit.
func (t *ExtremaTracker) OnDelete(ctx context.Context, session observation.Session, series *observation.Series, o *observation.Observation) error {
	if session == nil || series == nil || o == nil {
		return errors.New("extrema tracker: nil argument")
	}
	changed := false
	for _, b := range []observation.Bound{observation.BoundFirst, observation.BoundLatest} {
		if !series.DefinesBound(b, o) {
			continue
		}
		metrics.IncExtremaRecompute(b.String())
		found, err := session.Observations().Boundary(ctx, series.ID, b)
		if err != nil {
			return err
		}
		changed = true
		if found == nil {
			series.ClearExtrema()
			t.logger.Debug("series emptied", zap.Int64("series_id", series.ID))
			break
		}
		series.SetBound(b, found)
	}
	if !changed {
		return nil
	}
	return session.Series().Update(ctx, series)
}

// Recompute re-derives both bounds from the stored observations and reports
// whether the cached values differed.
func (t *ExtremaTracker) Recompute(ctx context.Context, session observation.Session, series *observation.Series) (bool, error) {
	if session == nil || series == nil {
		return false, errors.New("extrema tracker: nil argument")
	}
	before := *series

	first, err := session.Observations().Boundary(ctx, series.ID, observation.BoundFirst)
	if err != nil {
		return false, err
	}
	latest, err := session.Observations().Boundary(ctx, series.ID, observation.BoundLatest)
	if err != nil {
		return false, err
	}
	metrics.IncExtremaRecompute(observation.BoundFirst.String())
	metrics.IncExtremaRecompute(observation.BoundLatest.String())

	if first == nil || latest == nil {
		series.ClearExtrema()
	} else {
		series.SetBound(observation.BoundFirst, first)
		series.SetBound(observation.BoundLatest, latest)
		if series.Unit == "" {
			series.Unit = first.Unit
		}
	}

	if sameExtrema(&before, series) {
		return false, nil
	}
	t.logger.Info("series extrema corrected",
		zap.Int64("series_id", series.ID),
		zap.Time("first_before", before.FirstTimeStamp), zap.Time("first_after", series.FirstTimeStamp),
		zap.Time("last_before", before.LastTimeStamp), zap.Time("last_after", series.LastTimeStamp))
	return true, session.Series().Update(ctx, series)
}

// OfferingExtrema returns the time extent per offering.
func (t *ExtremaTracker) OfferingExtrema(ctx context.Context, session observation.Session) ([]observation.ExtremaSummary, error) {
	if session == nil {
		return nil, errors.New("extrema tracker: nil session")
	}
	return session.Series().Extrema(ctx, observation.FieldOffering)
}

// ProcedureExtrema returns the time extent per procedure.
func (t *ExtremaTracker) ProcedureExtrema(ctx context.Context, session observation.Session) ([]observation.ExtremaSummary, error) {
	if session == nil {
		return nil, errors.New("extrema tracker: nil session")
	}
	return session.Series().Extrema(ctx, observation.FieldProcedure)
}

func sameExtrema(a, b *observation.Series) bool {
	return a.FirstTimeStamp.Equal(b.FirstTimeStamp) &&
		a.LastTimeStamp.Equal(b.LastTimeStamp) &&
		a.FirstValue.Valid == b.FirstValue.Valid && a.FirstValue.Decimal.Equal(b.FirstValue.Decimal) &&
		a.LastValue.Valid == b.LastValue.Valid && a.LastValue.Decimal.Equal(b.LastValue.Decimal) &&
		a.Unit == b.Unit
}
