package memory

import (
	"context"
	"errors"
	"sort"

	observation "sos-cloud/internal/observation/domain"
)

type seriesRepository struct {
	store *Store
}

// FindByKey returns the series for a key, deleted or not.
func (r *seriesRepository) FindByKey(_ context.Context, key observation.SeriesKey) (*observation.Series, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.seriesByKey[key]
	if !ok {
		return nil, nil
	}
	return r.store.series[id].Clone(), nil
}

// GetForUpdate is Get. Writers are already serialized by WithinTx.
func (r *seriesRepository) GetForUpdate(ctx context.Context, id int64) (*observation.Series, error) {
	return r.Get(ctx, id)
}

// Get loads a series by id.
func (r *seriesRepository) Get(_ context.Context, id int64) (*observation.Series, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.series[id].Clone(), nil
}

// Insert stores a new series and assigns its id. The identity key is unique.
func (r *seriesRepository) Insert(_ context.Context, series *observation.Series) error {
	if series == nil {
		return errors.New("memory series repo: nil series")
	}
	if err := series.Key.Validate(); err != nil {
		return err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, ok := r.store.seriesByKey[series.Key]; ok {
		return observation.ErrConcurrentSeriesCreation
	}
	r.store.nextSeriesID++
	series.ID = r.store.nextSeriesID
	r.store.series[series.ID] = series.Clone()
	r.store.seriesByKey[series.Key] = series.ID
	return nil
}

// Update overwrites the mutable attributes of a stored series.
func (r *seriesRepository) Update(_ context.Context, series *observation.Series) error {
	if series == nil {
		return errors.New("memory series repo: nil series")
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	current, ok := r.store.series[series.ID]
	if !ok {
		return observation.ErrNotFound
	}
	updated := series.Clone()
	updated.Key = current.Key
	r.store.series[series.ID] = updated
	return nil
}

// SetDeletedByProcedure flips the deleted flag of every series of a procedure.
func (r *seriesRepository) SetDeletedByProcedure(ctx context.Context, procedure string, deleted bool) ([]*observation.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	result := make([]*observation.Series, 0)
	for _, series := range r.store.series {
		if series.Key.Procedure != procedure {
			continue
		}
		series.Deleted = deleted
		result = append(result, series.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// List evaluates a series query.
func (r *seriesRepository) List(ctx context.Context, q observation.Query) ([]*observation.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if q.Target != observation.TargetSeries {
		return nil, errors.New("memory series repo: not a series query")
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows := make([]row, 0, len(r.store.series))
	for _, series := range r.store.series {
		rw := row{series: series}
		ok, err := r.store.eval(q.Where, rw)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, rw)
		}
	}
	rows = sortAndPage(rows, q)

	result := make([]*observation.Series, 0, len(rows))
	for _, rw := range rows {
		result = append(result, rw.series.Clone())
	}
	return result, nil
}

// Extrema groups published, non-deleted, non-hidden series with set bounds
// by offering or procedure.
func (r *seriesRepository) Extrema(ctx context.Context, groupBy observation.Field) ([]observation.ExtremaSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if groupBy != observation.FieldOffering && groupBy != observation.FieldProcedure {
		return nil, errors.New("memory series repo: unsupported extrema grouping")
	}
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	groups := make(map[string]*observation.ExtremaSummary)
	for _, series := range r.store.series {
		if series.Deleted || !series.Published || series.HiddenChild || !series.HasExtrema() {
			continue
		}
		key := series.Key.Offering
		if groupBy == observation.FieldProcedure {
			key = series.Key.Procedure
		}
		summary, ok := groups[key]
		if !ok {
			summary = &observation.ExtremaSummary{Key: key, Start: series.FirstTimeStamp, End: series.LastTimeStamp}
			groups[key] = summary
		}
		summary.SeriesCount++
		if series.FirstTimeStamp.Before(summary.Start) {
			summary.Start = series.FirstTimeStamp
		}
		if series.LastTimeStamp.After(summary.End) {
			summary.End = series.LastTimeStamp
		}
	}

	result := make([]observation.ExtremaSummary, 0, len(groups))
	for _, summary := range groups {
		result = append(result, *summary)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}
