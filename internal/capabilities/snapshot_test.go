package capabilities

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/infrastructure/memory"
	"sos-cloud/internal/observation/query"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisKVStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisKVStore(client)
}

func seededStore(t *testing.T) (*memory.Store, *application.ExtremaTracker) {
	t.Helper()
	registry := observation.NewRegistry()
	store := memory.NewStore(registry)
	compiler, err := query.NewCompiler(registry)
	require.NoError(t, err)
	logger := zap.NewNop()
	series, err := application.NewSeriesRegistry(registry, compiler, 0, logger)
	require.NoError(t, err)
	tracker := application.NewExtremaTracker(logger)
	ingest, err := application.NewIngestService(store, registry, series, tracker, logger)
	require.NoError(t, err)

	insert := func(procedure, offering string, at time.Time) {
		_, err := ingest.InsertObservation(context.Background(), application.InsertRequest{
			Key: observation.SeriesKey{
				Procedure:          procedure,
				ObservableProperty: "temp",
				FeatureOfInterest:  "foi-1",
				Offering:           offering,
			},
			Published:   true,
			Observation: &observation.Observation{
				PhenomenonTime: observation.Instant(at),
				Value:          observation.NumericValue{Value: decimal.NewFromInt(1)},
			},
		})
		require.NoError(t, err)
	}
	insert("p1", "off-a", t0)
	insert("p1", "off-a", t0.Add(time.Hour))
	insert("p2", "off-b", t0.Add(-time.Hour))
	return store, tracker
}

func TestPublishStoresSnapshotWithTTL(t *testing.T) {
	mr, kv := setupTestRedis(t)
	store, tracker := seededStore(t)

	w, err := NewWriter(store, tracker, kv, WriterConfig{TTL: 5 * time.Minute}, zap.NewNop())
	require.NoError(t, err)
	w.now = func() time.Time { return t0 }

	published, err := w.Publish(context.Background())
	require.NoError(t, err)
	require.Len(t, published.Offerings, 2)

	assert.True(t, mr.Exists(DefaultKeyPrefix+"latest"))
	assert.Equal(t, 5*time.Minute, mr.TTL(DefaultKeyPrefix+"latest"))

	snapshot, err := Latest(context.Background(), kv, "")
	require.NoError(t, err)
	assert.Equal(t, t0, snapshot.GeneratedAt)

	offA, ok := snapshot.Offering("off-a")
	require.True(t, ok)
	assert.Equal(t, 1, offA.SeriesCount)
	assert.True(t, offA.Start.Equal(t0))
	assert.True(t, offA.End.Equal(t0.Add(time.Hour)))

	p2, ok := snapshot.Procedure("p2")
	require.True(t, ok)
	assert.True(t, p2.Start.Equal(t0.Add(-time.Hour)))

	_, ok = snapshot.Procedure("missing")
	assert.False(t, ok)
}

func TestLatestCacheMiss(t *testing.T) {
	_, kv := setupTestRedis(t)
	_, err := Latest(context.Background(), kv, "other:")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

type failingKV struct{}

func (failingKV) Get(ctx context.Context, key string) (string, error) { return "", ErrCacheMiss }
func (failingKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return errors.New("redis down")
}

func TestPublishPropagatesStoreFailure(t *testing.T) {
	store, tracker := seededStore(t)
	w, err := NewWriter(store, tracker, failingKV{}, WriterConfig{}, nil)
	require.NoError(t, err)
	_, err = w.Publish(context.Background())
	assert.ErrorContains(t, err, "redis down")
}

func TestRunPublishesUntilCancelled(t *testing.T) {
	mr, kv := setupTestRedis(t)
	store, tracker := seededStore(t)
	w, err := NewWriter(store, tracker, kv, WriterConfig{KeyPrefix: "test:", Interval: 10 * time.Millisecond}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return mr.Exists("test:latest") }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writer did not stop")
	}
}

func TestNewWriterValidates(t *testing.T) {
	_, kv := setupTestRedis(t)
	store, tracker := seededStore(t)

	_, err := NewWriter(nil, tracker, kv, WriterConfig{}, nil)
	assert.Error(t, err)
	_, err = NewWriter(store, nil, kv, WriterConfig{}, nil)
	assert.Error(t, err)
	_, err = NewWriter(store, tracker, nil, WriterConfig{}, nil)
	assert.Error(t, err)
}
