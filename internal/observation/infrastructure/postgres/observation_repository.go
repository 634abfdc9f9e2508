package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	observation "sos-cloud/internal/observation/domain"
)

const foreignKeyViolation = "23503"

type observationRepository struct {
	store *Store
}

func (r *observationRepository) ready() error {
	if r == nil || r.store == nil || r.store.q == nil {
		return errors.New("observation repo: nil db")
	}
	return nil
}

// Insert stores the observation in the table of its value shape.
func (r *observationRepository) Insert(ctx context.Context, o *observation.Observation) error {
	if err := r.ready(); err != nil {
		return err
	}
	if err := o.Validate(); err != nil {
		return err
	}
	shape, err := r.store.registry.ShapeOfValue(o.Value)
	if err != nil {
		return err
	}
	codec, err := codecFor(shape)
	if err != nil {
		return err
	}
	values, err := codec.encode(o.Value)
	if err != nil {
		return fmt.Errorf("observation repo: encode %s value: %w", shape, err)
	}
	sampling, err := geometryArg(o.SamplingGeometry)
	if err != nil {
		return fmt.Errorf("observation repo: encode sampling geometry: %w", err)
	}
	if o.Identifier == "" {
		o.Identifier = uuid.NewString()
	} else {
		existing, err := r.FindByIdentifier(ctx, o.Identifier)
		if err != nil {
			return err
		}
		if existing != nil {
			return observation.ErrDuplicateIdentifier
		}
	}

	var validStart, validEnd sql.NullTime
	if o.ValidTime != nil {
		validStart = toNullTime(o.ValidTime.Start)
		validEnd = toNullTime(o.ValidTime.End)
	}
	b := newBuilder(r.store.tables, r.store.srid)
	columns := []string{
		"series_id", "identifier", "phenomenon_time_start", "phenomenon_time_end", "result_time",
		"valid_time_start", "valid_time_end", "sampling_geometry", "unit", "deleted",
	}
	placeholders := []string{
		b.arg(o.SeriesID),
		b.arg(o.Identifier),
		b.arg(o.PhenomenonTime.Start.UTC()),
		b.arg(o.PhenomenonTime.End.UTC()),
		b.arg(toNullTime(o.ResultTime)),
		b.arg(validStart),
		b.arg(validEnd),
		fmt.Sprintf("ST_GeomFromWKB(%s, %d)", b.arg(sampling), r.store.srid),
		b.arg(o.Unit),
		b.arg(o.Deleted),
	}
	for i, c := range codec.columns {
		columns = append(columns, c.name)
		ph := b.arg(values[i])
		if c.geometry {
			ph = fmt.Sprintf("ST_GeomFromWKB(%s, %d)", ph, r.store.srid)
		}
		placeholders = append(placeholders, ph)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES (%s)
RETURNING id`, r.store.tables.Observations(shape), strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	var id int64
	if err := r.store.q.QueryRowContext(ctx, query, b.args...).Scan(&id); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case uniqueViolation:
				return observation.ErrDuplicateIdentifier
			case foreignKeyViolation:
				return fmt.Errorf("%w: series %d", observation.ErrNotFound, o.SeriesID)
			}
		}
		return err
	}
	o.ID = id
	return nil
}

// Get loads one observation of a shape; nil when absent.
func (r *observationRepository) Get(ctx context.Context, shape observation.Shape, id int64) (*observation.Observation, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	codec, err := codecFor(shape)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s %s WHERE %s.id = $1`,
		observationColumns(observationAlias, codec), r.store.tables.Observations(shape), observationAlias, observationAlias)
	o, err := scanObservation(r.store.q.QueryRowContext(ctx, query, id), shape)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return o, err
}

// FindByIdentifier locates an observation across all shapes; nil when absent.
func (r *observationRepository) FindByIdentifier(ctx context.Context, identifier string) (*observation.Observation, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, shape FROM %s WHERE identifier = $1 LIMIT 1`, r.store.tables.ObservationIndex)
	return r.locate(ctx, query, identifier)
}

// SetDeleted flips the deleted flag of a stored observation.
func (r *observationRepository) SetDeleted(ctx context.Context, o *observation.Observation, deleted bool) error {
	if err := r.ready(); err != nil {
		return err
	}
	if o == nil {
		return errors.New("observation repo: nil observation")
	}
	shape, err := r.store.registry.ShapeOfValue(o.Value)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET deleted = $2 WHERE id = $1`, r.store.tables.Observations(shape))
	res, err := r.store.q.ExecContext(ctx, query, o.ID, deleted)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return observation.ErrNotFound
	}
	o.Deleted = deleted
	return nil
}

// Boundary returns the observation defining a series bound. Ties go to the
// lowest id for the first bound and the highest id for the latest bound.
func (r *observationRepository) Boundary(ctx context.Context, seriesID int64, b observation.Bound) (*observation.Observation, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	var order string
	switch b {
	case observation.BoundFirst:
		order = "phenomenon_time_start ASC, id ASC"
	case observation.BoundLatest:
		order = "phenomenon_time_end DESC, id DESC"
	default:
		return nil, fmt.Errorf("observation repo: unknown bound %d", b)
	}
	query := fmt.Sprintf(`
SELECT id, shape FROM %s
WHERE series_id = $1 AND deleted = FALSE
ORDER BY %s
LIMIT 1`, r.store.tables.ObservationIndex, order)
	return r.locate(ctx, query, seriesID)
}

// storedShapesBatch bounds the series ids bound into one IN list.
const storedShapesBatch = 1000

// StoredShapes returns the shapes holding non-deleted observations of the series.
func (r *observationRepository) StoredShapes(ctx context.Context, seriesIDs []int64) ([]observation.Shape, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	found := make(map[observation.Shape]struct{})
	for start := 0; start < len(seriesIDs); start += storedShapesBatch {
		end := min(start+storedShapesBatch, len(seriesIDs))
		if err := r.collectShapes(ctx, seriesIDs[start:end], found); err != nil {
			return nil, err
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

func (r *observationRepository) collectShapes(ctx context.Context, seriesIDs []int64, found map[observation.Shape]struct{}) error {
	b := newBuilder(r.store.tables, r.store.srid)
	placeholders := make([]string, 0, len(seriesIDs))
	for _, id := range seriesIDs {
		placeholders = append(placeholders, b.arg(id))
	}
	query := fmt.Sprintf(`SELECT DISTINCT shape FROM %s WHERE deleted = FALSE AND series_id IN (%s)`,
		r.store.tables.ObservationIndex, strings.Join(placeholders, ", "))
	rows, err := r.store.q.QueryContext(ctx, query, b.args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		shape, err := parseShape(name)
		if err != nil {
			return err
		}
		found[shape] = struct{}{}
	}
	return rows.Err()
}

func (r *observationRepository) locate(ctx context.Context, query string, args ...any) (*observation.Observation, error) {
	var (
		id        int64
		shapeName string
	)
	err := r.store.q.QueryRowContext(ctx, query, args...).Scan(&id, &shapeName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	shape, err := parseShape(shapeName)
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, shape, id)
}

// List runs a compiled observation query.
func (r *observationRepository) List(ctx context.Context, q observation.Query) ([]*observation.Observation, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	b := newBuilder(r.store.tables, r.store.srid)
	query, err := b.observationSelect(q)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.q.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*observation.Observation, 0)
	for rows.Next() {
		o, err := scanObservation(rows, q.Shape)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Stream opens a server-side cursor over a compiled observation query.
func (r *observationRepository) Stream(ctx context.Context, q observation.Query, pageSize int) (observation.Cursor, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	b := newBuilder(r.store.tables, r.store.srid)
	query, err := b.observationSelect(q)
	if err != nil {
		return nil, err
	}
	return openCursor(ctx, r.store, q.Shape, query, b.args, pageSize)
}

func parseShape(name string) (observation.Shape, error) {
	for _, shape := range observation.AllShapes() {
		if shape.String() == name {
			return shape, nil
		}
	}
	return observation.ShapeUnknown, fmt.Errorf("%w: stored shape %q", observation.ErrUnsupportedObservationType, name)
}
