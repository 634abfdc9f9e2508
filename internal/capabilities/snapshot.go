package capabilities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sos-cloud/internal/observability/metrics"
	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
)

const (
	DefaultKeyPrefix = "sos:capabilities:"
	DefaultTTL       = 10 * time.Minute
	DefaultInterval  = time.Minute

	latestKey = "latest"
)

// Extent is the time extent of the series sharing an offering or procedure.
type Extent struct {
	Key         string    `json:"key"`
	SeriesCount int       `json:"series_count"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// Snapshot is the published capabilities summary.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	Offerings   []Extent  `json:"offerings"`
	Procedures  []Extent  `json:"procedures"`
}

// Offering returns the extent of one offering.
func (s *Snapshot) Offering(key string) (Extent, bool) {
	return find(s.Offerings, key)
}

// Procedure returns the extent of one procedure.
func (s *Snapshot) Procedure(key string) (Extent, bool) {
	return find(s.Procedures, key)
}

func find(extents []Extent, key string) (Extent, bool) {
	for _, e := range extents {
		if e.Key == key {
			return e, true
		}
	}
	return Extent{}, false
}

// WriterConfig tunes the snapshot writer.
type WriterConfig struct {
	KeyPrefix string
	TTL       time.Duration
	Interval  time.Duration
}

// Writer periodically publishes series extrema summaries so capabilities
// assembly never scans observations. It only reads the store.
type Writer struct {
	session observation.Session
	tracker *application.ExtremaTracker
	kv      KVStore
	cfg     WriterConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewWriter constructs a snapshot writer.
func NewWriter(session observation.Session, tracker *application.ExtremaTracker, kv KVStore, cfg WriterConfig, logger *zap.Logger) (*Writer, error) {
	if session == nil {
		return nil, errors.New("capabilities writer: nil session")
	}
	if tracker == nil {
		return nil, errors.New("capabilities writer: nil tracker")
	}
	if kv == nil {
		return nil, errors.New("capabilities writer: nil kv store")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		session: session,
		tracker: tracker,
		kv:      kv,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Publish builds one snapshot and stores it under the latest key.
func (w *Writer) Publish(ctx context.Context) (snapshot *Snapshot, err error) {
	defer func() {
		if err != nil {
			metrics.IncSnapshot(metrics.ResultError)
			return
		}
		metrics.IncSnapshot(metrics.ResultSuccess)
	}()

	offerings, err := w.tracker.OfferingExtrema(ctx, w.session)
	if err != nil {
		return nil, fmt.Errorf("capabilities writer: offering extrema: %w", err)
	}
	procedures, err := w.tracker.ProcedureExtrema(ctx, w.session)
	if err != nil {
		return nil, fmt.Errorf("capabilities writer: procedure extrema: %w", err)
	}
	snapshot = &Snapshot{
		GeneratedAt: w.now(),
		Offerings:   toExtents(offerings),
		Procedures:  toExtents(procedures),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("capabilities writer: marshal snapshot: %w", err)
	}
	if err := w.kv.Set(ctx, w.cfg.KeyPrefix+latestKey, string(data), w.cfg.TTL); err != nil {
		return nil, fmt.Errorf("capabilities writer: store snapshot: %w", err)
	}
	w.logger.Debug("capabilities snapshot published",
		zap.Int("offerings", len(snapshot.Offerings)),
		zap.Int("procedures", len(snapshot.Procedures)),
	)
	return snapshot, nil
}

// Run publishes immediately and then on every interval until ctx is done.
func (w *Writer) Run(ctx context.Context) {
	if _, err := w.Publish(ctx); err != nil {
		w.logger.Warn("capabilities snapshot failed", zap.Error(err))
	}
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Publish(ctx); err != nil {
				w.logger.Warn("capabilities snapshot failed", zap.Error(err))
			}
		}
	}
}

// Latest reads the most recent snapshot.
func Latest(ctx context.Context, kv KVStore, keyPrefix string) (*Snapshot, error) {
	if kv == nil {
		return nil, errors.New("capabilities: nil kv store")
	}
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	raw, err := kv.Get(ctx, keyPrefix+latestKey)
	if err != nil {
		return nil, err
	}
	var snapshot Snapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return nil, fmt.Errorf("capabilities: decode snapshot: %w", err)
	}
	return &snapshot, nil
}

func toExtents(summaries []observation.ExtremaSummary) []Extent {
	out := make([]Extent, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, Extent{Key: s.Key, SeriesCount: s.SeriesCount, Start: s.Start, End: s.End})
	}
	return out
}
