package memory

import (
	"context"
	"errors"

	observation "sos-cloud/internal/observation/domain"
)

type featureRepository struct {
	store *Store
}

// Save upserts a feature by identifier.
func (r *featureRepository) Save(_ context.Context, f *observation.Feature) error {
	if f == nil || f.Identifier == "" {
		return errors.New("memory feature repo: empty feature identifier")
	}
	copied := *f
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.features[f.Identifier] = &copied
	return nil
}

// Get loads a feature; nil when absent.
func (r *featureRepository) Get(_ context.Context, identifier string) (*observation.Feature, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	f, ok := r.store.features[identifier]
	if !ok {
		return nil, nil
	}
	copied := *f
	return &copied, nil
}
