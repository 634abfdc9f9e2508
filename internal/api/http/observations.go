package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
)

// flushEvery is the number of streamed rows between response flushes.
const flushEvery = 100

// ObservationsHandler streams observations matching a filter as NDJSON.
type ObservationsHandler struct {
	executor *application.QueryExecutor
	registry *observation.Registry
	logger   *zap.Logger
}

// NewObservationsHandler constructs an ObservationsHandler.
func NewObservationsHandler(executor *application.QueryExecutor, registry *observation.Registry, logger *zap.Logger) (*ObservationsHandler, error) {
	if executor == nil {
		return nil, errors.New("observations handler: nil query executor")
	}
	if registry == nil {
		return nil, errors.New("observations handler: nil registry")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservationsHandler{executor: executor, registry: registry, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/observations. Besides the series filters it
// accepts time=first|latest in place of a from/to window.
func (h *ObservationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if bound := r.URL.Query().Get("time"); bound != "" {
		if f.Temporal != nil {
			http.Error(w, "time cannot be combined with from/to", http.StatusBadRequest)
			return
		}
		switch bound {
		case observation.BoundFirst.String():
			f.Temporal = &observation.TemporalFilter{Indeterminate: observation.BoundFirst}
		case observation.BoundLatest.String():
			f.Temporal = &observation.TemporalFilter{Indeterminate: observation.BoundLatest}
		default:
			http.Error(w, "time must be first or latest", http.StatusBadRequest)
			return
		}
	}

	cur, err := h.executor.Stream(r.Context(), application.QueryRequest{Filter: f})
	if err != nil {
		writeQueryError(w, h.logger, "query observations", err)
		return
	}
	defer cur.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	written := 0
	for cur.Next() {
		row, err := h.toObservationRow(cur.Observation())
		if err != nil {
			h.logger.Error("encode observation", zap.Int64("id", cur.Observation().ID), zap.Error(err))
			return
		}
		if err := enc.Encode(row); err != nil {
			return
		}
		written++
		if flusher != nil && written%flushEvery == 0 {
			flusher.Flush()
		}
	}
	if err := cur.Err(); err != nil {
		// Headers are gone; the truncated body is all the client gets.
		h.logger.Error("stream observations", zap.Int("written", written), zap.Error(err))
	}
}

type observationRow struct {
	ID                  int64           `json:"id"`
	SeriesID            int64           `json:"series_id"`
	Identifier          string          `json:"identifier"`
	Shape               string          `json:"shape"`
	PhenomenonTimeStart string          `json:"phenomenon_time_start"`
	PhenomenonTimeEnd   string          `json:"phenomenon_time_end"`
	ResultTime          string          `json:"result_time,omitempty"`
	Unit                string          `json:"unit,omitempty"`
	Result              json.RawMessage `json:"result"`
}

func (h *ObservationsHandler) toObservationRow(o *observation.Observation) (observationRow, error) {
	shape, err := h.registry.ShapeOfValue(o.Value)
	if err != nil {
		return observationRow{}, err
	}
	result, err := encodeResult(o.Value)
	if err != nil {
		return observationRow{}, err
	}
	return observationRow{
		ID:                  o.ID,
		SeriesID:            o.SeriesID,
		Identifier:          o.Identifier,
		Shape:               shape.String(),
		PhenomenonTimeStart: formatTime(o.PhenomenonTime.Start),
		PhenomenonTimeEnd:   formatTime(o.PhenomenonTime.End),
		ResultTime:          formatTime(o.ResultTime),
		Unit:                o.Unit,
		Result:              result,
	}, nil
}

func encodeResult(v observation.Value) (json.RawMessage, error) {
	switch val := v.(type) {
	case observation.NumericValue:
		return json.Marshal(val.Value.String())
	case observation.CountValue:
		return json.Marshal(val.Value)
	case observation.BooleanValue:
		return json.Marshal(val.Value)
	case observation.TextValue:
		return json.Marshal(val.Value)
	case observation.CategoryValue:
		return json.Marshal(struct {
			Value     string `json:"value"`
			Codespace string `json:"codespace,omitempty"`
		}{val.Value, val.Codespace})
	case observation.GeometryValue:
		return json.Marshal(geojson.NewGeometry(val.Geometry))
	case observation.ComplexValue, observation.ProfileValue, observation.TrajectoryValue:
		return observation.MarshalComposite(val)
	case observation.SweArrayValue:
		return json.Marshal(struct {
			Fields []observation.SweField `json:"fields"`
			Values [][]string            `json:"values"`
		}{val.Fields, val.Rows})
	case observation.BlobValue:
		return json.Marshal(struct {
			MediaType string `json:"media_type,omitempty"`
			Data      []byte `json:"data"`
		}{val.MediaType, val.Data})
	case observation.ReferenceValue:
		return json.Marshal(struct {
			Href  string `json:"href"`
			Title string `json:"title,omitempty"`
			Role  string `json:"role,omitempty"`
		}{val.Href, val.Title, val.Role})
	default:
		return nil, observation.ErrUnsupportedObservationType
	}
}
