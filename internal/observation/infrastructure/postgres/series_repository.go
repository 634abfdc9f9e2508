package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5/pgconn"

	observation "sos-cloud/internal/observation/domain"
)

const uniqueViolation = "23505"

type seriesRepository struct {
	store *Store
}

func (r *seriesRepository) ready() error {
	if r == nil || r.store == nil || r.store.q == nil {
		return errors.New("series repo: nil db")
	}
	return nil
}

// FindByKey returns the series for a key, deleted or not. Inside a
// transaction the row stays locked until commit.
func (r *seriesRepository) FindByKey(ctx context.Context, key observation.SeriesKey) (*observation.Series, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	lock := ""
	if r.store.tx != nil {
		lock = " FOR UPDATE"
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s %s
WHERE s.procedure = $1 AND s.observable_property = $2 AND s.feature_of_interest = $3 AND s.offering = $4%s`,
		qualified(seriesAlias, seriesColumns), r.store.tables.Series, seriesAlias, lock)
	row := r.store.q.QueryRowContext(ctx, query, key.Procedure, key.ObservableProperty, key.FeatureOfInterest, key.Offering)
	series, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return series, err
}

// Get loads a series by id; nil when absent.
func (r *seriesRepository) Get(ctx context.Context, id int64) (*observation.Series, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate loads a series by id. Inside a transaction the row stays
// locked until commit.
func (r *seriesRepository) GetForUpdate(ctx context.Context, id int64) (*observation.Series, error) {
	return r.get(ctx, id, true)
}

func (r *seriesRepository) get(ctx context.Context, id int64, forUpdate bool) (*observation.Series, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	lock := ""
	if forUpdate && r.store.tx != nil {
		lock = " FOR UPDATE"
	}
	query := fmt.Sprintf(`SELECT %s FROM %s %s WHERE s.id = $1%s`,
		qualified(seriesAlias, seriesColumns), r.store.tables.Series, seriesAlias, lock)
	series, err := scanSeries(r.store.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return series, err
}

// Insert stores a new series. A row already holding the identity key yields
// ErrConcurrentSeriesCreation so the caller can re-read the winner.
func (r *seriesRepository) Insert(ctx context.Context, series *observation.Series) error {
	if err := r.ready(); err != nil {
		return err
	}
	if series == nil {
		return errors.New("series repo: nil series")
	}
	if err := series.Key.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	procedure, observable_property, feature_of_interest, offering,
	category, value_type, deleted, published, hidden_child,
	first_time_stamp, last_time_stamp, first_value, last_value, unit
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (procedure, observable_property, feature_of_interest, offering)
DO NOTHING
RETURNING id`, r.store.tables.Series)

	var id int64
	err := r.store.q.QueryRowContext(ctx, query,
		series.Key.Procedure,
		series.Key.ObservableProperty,
		series.Key.FeatureOfInterest,
		series.Key.Offering,
		series.Category,
		string(series.ValueType),
		series.Deleted,
		series.Published,
		series.HiddenChild,
		toNullTime(series.FirstTimeStamp),
		toNullTime(series.LastTimeStamp),
		series.FirstValue,
		series.LastValue,
		series.Unit,
	).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return observation.ErrConcurrentSeriesCreation
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %v", observation.ErrSeriesCreation, err)
	case err != nil:
		return err
	}
	series.ID = id
	return nil
}

// Update overwrites the mutable attributes of a stored series.
func (r *seriesRepository) Update(ctx context.Context, series *observation.Series) error {
	if err := r.ready(); err != nil {
		return err
	}
	if series == nil {
		return errors.New("series repo: nil series")
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	category = $2,
	value_type = $3,
	deleted = $4,
	published = $5,
	hidden_child = $6,
	first_time_stamp = $7,
	last_time_stamp = $8,
	first_value = $9,
	last_value = $10,
	unit = $11,
	updated_at = NOW()
WHERE id = $1`, r.store.tables.Series)
	res, err := r.store.q.ExecContext(ctx, query,
		series.ID,
		series.Category,
		string(series.ValueType),
		series.Deleted,
		series.Published,
		series.HiddenChild,
		toNullTime(series.FirstTimeStamp),
		toNullTime(series.LastTimeStamp),
		series.FirstValue,
		series.LastValue,
		series.Unit,
	)
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
	return nil
}

// SetDeletedByProcedure flips the deleted flag of every series of a procedure.
func (r *seriesRepository) SetDeletedByProcedure(ctx context.Context, procedure string, deleted bool) ([]*observation.Series, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
UPDATE %s %s SET deleted = $2, updated_at = NOW()
WHERE s.procedure = $1
RETURNING %s`, r.store.tables.Series, seriesAlias, qualified(seriesAlias, seriesColumns))
	rows, err := r.store.q.QueryContext(ctx, query, procedure, deleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result, err := collectSeries(rows)
	if err != nil {
		return nil, err
	}
	sortSeriesByID(result)
	return result, nil
}

// List runs a compiled series query.
func (r *seriesRepository) List(ctx context.Context, q observation.Query) ([]*observation.Series, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	b := newBuilder(r.store.tables, r.store.srid)
	query, err := b.seriesSelect(q)
	if err != nil {
		return nil, err
	}
	rows, err := r.store.q.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSeries(rows)
}

// Extrema groups published, non-deleted, non-hidden series with set bounds
// by offering or procedure.
func (r *seriesRepository) Extrema(ctx context.Context, groupBy observation.Field) ([]observation.ExtremaSummary, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	var col string
	switch groupBy {
	case observation.FieldOffering:
		col = "offering"
	case observation.FieldProcedure:
		col = "procedure"
	default:
		return nil, errors.New("series repo: unsupported extrema grouping")
	}
	query := fmt.Sprintf(`
SELECT %[1]s, COUNT(*), MIN(first_time_stamp), MAX(last_time_stamp)
FROM %[2]s
WHERE deleted = FALSE
	AND published = TRUE
	AND hidden_child = FALSE
	AND first_time_stamp IS NOT NULL
	AND last_time_stamp IS NOT NULL
GROUP BY %[1]s
ORDER BY %[1]s`, col, r.store.tables.Series)
	rows, err := r.store.q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]observation.ExtremaSummary, 0)
	for rows.Next() {
		var summary observation.ExtremaSummary
		if err := rows.Scan(&summary.Key, &summary.SeriesCount, &summary.Start, &summary.End); err != nil {
			return nil, err
		}
		summary.Start = summary.Start.UTC()
		summary.End = summary.End.UTC()
		result = append(result, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func collectSeries(rows *sql.Rows) ([]*observation.Series, error) {
	result := make([]*observation.Series, 0)
	for rows.Next() {
		series, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, series)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func sortSeriesByID(series []*observation.Series) {
	sort.Slice(series, func(i, j int) bool { return series[i].ID < series[j].ID })
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
