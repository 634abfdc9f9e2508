package memory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	observation "sos-cloud/internal/observation/domain"
)

type observationRepository struct {
	store *Store
}

// Insert stores the observation under the shape of its value and assigns the id.
func (r *observationRepository) Insert(_ context.Context, o *observation.Observation) error {
	if err := o.Validate(); err != nil {
		return err
	}
	shape, err := r.store.registry.ShapeOfValue(o.Value)
	if err != nil {
		return err
	}
	if o.Identifier == "" {
		o.Identifier = uuid.NewString()
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.series[o.SeriesID]; !ok {
		return observation.ErrNotFound
	}
	for _, stored := range r.store.observations {
		if stored.obs.Identifier == o.Identifier {
			return observation.ErrDuplicateIdentifier
		}
	}
	r.store.nextObsID++
	o.ID = r.store.nextObsID
	r.store.observations[o.ID] = &storedObservation{shape: shape, obs: cloneObservation(o)}
	return nil
}

// Get loads an observation of a shape by id.
func (r *observationRepository) Get(_ context.Context, shape observation.Shape, id int64) (*observation.Observation, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	stored, ok := r.store.observations[id]
	if !ok || stored.shape != shape {
		return nil, nil
	}
	return cloneObservation(stored.obs), nil
}

// FindByIdentifier loads an observation by its public identifier.
func (r *observationRepository) FindByIdentifier(_ context.Context, identifier string) (*observation.Observation, error) {
	if identifier == "" {
		return nil, nil
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, stored := range r.store.observations {
		if stored.obs.Identifier == identifier {
			return cloneObservation(stored.obs), nil
		}
	}
	return nil, nil
}

// SetDeleted flips the deleted flag of a stored observation.
func (r *observationRepository) SetDeleted(_ context.Context, o *observation.Observation, deleted bool) error {
	if o == nil {
		return errors.New("memory observation repo: nil observation")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	stored, ok := r.store.observations[o.ID]
	if !ok {
		return observation.ErrNotFound
	}
	stored.obs.Deleted = deleted
	o.Deleted = deleted
	return nil
}

// Boundary returns the non-deleted observation defining a series bound.
func (r *observationRepository) Boundary(ctx context.Context, seriesID int64, b observation.Bound) (*observation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	found := r.store.boundary(seriesID, b)
	return cloneObservation(found), nil
}

// StoredShapes returns the shapes holding non-deleted observations of the series.
func (r *observationRepository) StoredShapes(ctx context.Context, seriesIDs []int64) ([]observation.Shape, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[int64]struct{}, len(seriesIDs))
	for _, id := range seriesIDs {
		wanted[id] = struct{}{}
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	found := make(map[observation.Shape]struct{})
	for _, stored := range r.store.observations {
		if _, ok := wanted[stored.obs.SeriesID]; ok && !stored.obs.Deleted {
			found[stored.shape] = struct{}{}
		}
	}
	shapes := make([]observation.Shape, 0, len(found))
	for _, shape := range observation.AllShapes() {
		if _, ok := found[shape]; ok {
			shapes = append(shapes, shape)
		}
	}
	return shapes, nil
}

// boundary is called with mu held. Ties go to the lowest id for the first
// bound and the highest id for the latest bound.
func (s *Store) boundary(seriesID int64, b observation.Bound) *observation.Observation {
	var found *observation.Observation
	for _, stored := range s.observations {
		o := stored.obs
		if o.SeriesID != seriesID || o.Deleted {
			continue
		}
		if found == nil {
			found = o
			continue
		}
		switch b {
		case observation.BoundFirst:
			if o.PhenomenonTime.Start.Before(found.PhenomenonTime.Start) ||
				(o.PhenomenonTime.Start.Equal(found.PhenomenonTime.Start) && o.ID < found.ID) {
				found = o
			}
		case observation.BoundLatest:
			if o.PhenomenonTime.End.After(found.PhenomenonTime.End) ||
				(o.PhenomenonTime.End.Equal(found.PhenomenonTime.End) && o.ID > found.ID) {
				found = o
			}
		}
	}
	return found
}

// List evaluates an observation query against one storage shape.
func (r *observationRepository) List(ctx context.Context, q observation.Query) ([]*observation.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Target != observation.TargetObservations {
		return nil, errors.New("memory observation repo: not an observation query")
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows := make([]row, 0)
	for _, stored := range r.store.observations {
		if stored.shape != q.Shape {
			continue
		}
		rw := row{series: r.store.series[stored.obs.SeriesID], obs: stored.obs}
		if rw.series == nil {
			continue
		}
		ok, err := r.store.eval(q.Where, rw)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, rw)
		}
	}
	rows = sortAndPage(rows, q)

	result := make([]*observation.Observation, 0, len(rows))
	for _, rw := range rows {
		result = append(result, cloneObservation(rw.obs))
	}
	return result, nil
}

// Stream returns a cursor pulling pages of the query lazily.
func (r *observationRepository) Stream(ctx context.Context, q observation.Query, pageSize int) (observation.Cursor, error) {
	if q.Target != observation.TargetObservations {
		return nil, errors.New("memory observation repo: not an observation query")
	}
	return newPageCursor(ctx, pageSize, func(ctx context.Context, limit, offset int) ([]*observation.Observation, error) {
		if q.Limit > 0 {
			if offset >= q.Limit {
				return nil, nil
			}
			if remaining := q.Limit - offset; limit > remaining {
				limit = remaining
			}
		}
		return r.List(ctx, q.WithPage(limit, q.Offset+offset))
	}), nil
}
