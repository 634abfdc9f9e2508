package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/paulmach/orb/encoding/wkb"

	observation "sos-cloud/internal/observation/domain"
)

type featureRepository struct {
	store *Store
}

// Save upserts a feature of interest.
func (r *featureRepository) Save(ctx context.Context, f *observation.Feature) error {
	if r == nil || r.store == nil || r.store.q == nil {
		return errors.New("feature repo: nil db")
	}
	if f == nil || f.Identifier == "" {
		return errors.New("feature repo: invalid feature")
	}
	geom, err := geometryArg(f.Geometry)
	if err != nil {
		return fmt.Errorf("feature repo: encode geometry: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (identifier, name, geom)
VALUES ($1, $2, ST_GeomFromWKB($3, %d))
ON CONFLICT (identifier)
DO UPDATE SET name = EXCLUDED.name, geom = EXCLUDED.geom`, r.store.tables.Features, r.store.srid)
	_, err = r.store.q.ExecContext(ctx, query, f.Identifier, f.Name, geom)
	return err
}

// Get loads a feature by identifier; nil when absent.
func (r *featureRepository) Get(ctx context.Context, identifier string) (*observation.Feature, error) {
	if r == nil || r.store == nil || r.store.q == nil {
		return nil, errors.New("feature repo: nil db")
	}
	query := fmt.Sprintf(`SELECT identifier, name, ST_AsBinary(geom) FROM %s WHERE identifier = $1`, r.store.tables.Features)
	var f observation.Feature
	geom := wkb.Scanner(nil)
	err := r.store.q.QueryRowContext(ctx, query, identifier).Scan(&f.Identifier, &f.Name, geom)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if geom.Valid {
		f.Geometry = geom.Geometry
	}
	return &f, nil
}
