package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"sos-cloud/internal/capabilities"
	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
	"sos-cloud/internal/observation/interfaces/report"
)

const timeLayout = time.RFC3339

// SeriesHandler serves series identity queries.
type SeriesHandler struct {
	series  *application.SeriesRegistry
	session observation.Session
	logger  *zap.Logger
}

// NewSeriesHandler constructs a SeriesHandler.
func NewSeriesHandler(series *application.SeriesRegistry, session observation.Session, logger *zap.Logger) (*SeriesHandler, error) {
	if series == nil {
		return nil, errors.New("series handler: nil series registry")
	}
	if session == nil {
		return nil, errors.New("series handler: nil session")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SeriesHandler{series: series, session: session, logger: logger}, nil
}

// ServeHTTP handles GET /api/v1/series.
func (h *SeriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	list, err := h.series.QueryByIdentity(r.Context(), h.session, f)
	if err != nil {
		writeQueryError(w, h.logger, "query series", err)
		return
	}
	rows := make([]seriesRow, 0, len(list))
	for _, s := range list {
		rows = append(rows, toSeriesRow(s))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

// SnapshotHandler serves the latest capabilities snapshot.
type SnapshotHandler struct {
	kv        capabilities.KVStore
	keyPrefix string
}

// NewSnapshotHandler constructs a SnapshotHandler.
func NewSnapshotHandler(kv capabilities.KVStore, keyPrefix string) (*SnapshotHandler, error) {
	if kv == nil {
		return nil, errors.New("snapshot handler: nil kv store")
	}
	return &SnapshotHandler{kv: kv, keyPrefix: keyPrefix}, nil
}

// ServeHTTP handles GET /api/v1/capabilities/snapshot.
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot, err := capabilities.Latest(r.Context(), h.kv, h.keyPrefix)
	if err != nil {
		if errors.Is(err, capabilities.ErrCacheMiss) {
			http.Error(w, "snapshot not available", http.StatusNotFound)
			return
		}
		http.Error(w, "read snapshot error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshot)
}

// ExportSeriesHandler serves series extrema reports.
type ExportSeriesHandler struct {
	series  *application.SeriesRegistry
	tracker *application.ExtremaTracker
	session observation.Session
	logger  *zap.Logger
	now     func() time.Time
}

// NewExportSeriesHandler constructs an ExportSeriesHandler.
func NewExportSeriesHandler(series *application.SeriesRegistry, tracker *application.ExtremaTracker, session observation.Session, logger *zap.Logger) (*ExportSeriesHandler, error) {
	if series == nil {
		return nil, errors.New("export handler: nil series registry")
	}
	if tracker == nil {
		return nil, errors.New("export handler: nil tracker")
	}
	if session == nil {
		return nil, errors.New("export handler: nil session")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportSeriesHandler{
		series:  series,
		tracker: tracker,
		session: session,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// ServeHTTP handles GET /api/v1/exports/series?format=csv|xlsx|pdf.
func (h *ExportSeriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = report.FormatCSV
	}
	contentType, ok := contentTypes[format]
	if !ok {
		http.Error(w, "format must be csv, xlsx or pdf", http.StatusBadRequest)
		return
	}
	f, err := parseFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rep, err := report.Build(r.Context(), h.series, h.tracker, h.session, f, h.now())
	if err != nil {
		writeQueryError(w, h.logger, "build report", err)
		return
	}
	data, err := report.Export(format, rep)
	if err != nil {
		h.logger.Error("export series report", zap.String("format", format), zap.Error(err))
		http.Error(w, "export error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=series."+format)
	_, _ = w.Write(data)
}

var contentTypes = map[string]string{
	report.FormatCSV:  "text/csv; charset=utf-8",
	report.FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	report.FormatPDF:  "application/pdf",
}

type seriesRow struct {
	ID                 int64   `json:"id"`
	Procedure          string  `json:"procedure"`
	ObservableProperty string  `json:"observable_property"`
	FeatureOfInterest  string  `json:"feature_of_interest"`
	Offering           string  `json:"offering"`
	Category           string  `json:"category,omitempty"`
	ValueType          string  `json:"value_type,omitempty"`
	Published          bool    `json:"published"`
	FirstTimeStamp     string  `json:"first_time_stamp,omitempty"`
	LastTimeStamp      string  `json:"last_time_stamp,omitempty"`
	FirstValue         *string `json:"first_value,omitempty"`
	LastValue          *string `json:"last_value,omitempty"`
	Unit               string  `json:"unit,omitempty"`
}

func toSeriesRow(s *observation.Series) seriesRow {
	row := seriesRow{
		ID:                 s.ID,
		Procedure:          s.Key.Procedure,
		ObservableProperty: s.Key.ObservableProperty,
		FeatureOfInterest:  s.Key.FeatureOfInterest,
		Offering:           s.Key.Offering,
		Category:           s.Category,
		ValueType:          string(s.ValueType),
		Published:          s.Published,
		FirstTimeStamp:     formatTime(s.FirstTimeStamp),
		LastTimeStamp:      formatTime(s.LastTimeStamp),
		Unit:               s.Unit,
	}
	if s.FirstValue.Valid {
		v := s.FirstValue.Decimal.String()
		row.FirstValue = &v
	}
	if s.LastValue.Valid {
		v := s.LastValue.Decimal.String()
		row.LastValue = &v
	}
	return row
}

// parseFilter reads repeated or comma-separated identity parameters and an
// optional phenomenon time window (from and to, both RFC3339).
func parseFilter(r *http.Request) (observation.Filter, error) {
	q := r.URL.Query()
	f := observation.Filter{
		Procedures:           listParam(q["procedure"]),
		ObservableProperties: listParam(q["observed_property"]),
		Features:             listParam(q["feature_of_interest"]),
		Offerings:            listParam(q["offering"]),
	}
	if q.Get("from") == "" && q.Get("to") == "" {
		return f, nil
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		return f, err
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		return f, err
	}
	if to.Before(from) {
		return f, errors.New("to must not be before from")
	}
	f.Temporal = &observation.TemporalFilter{
		ValueReference: observation.ValueReferencePhenomenonTime,
		Interval:       observation.TimeInterval{Start: from, End: to},
	}
	return f, nil
}

func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeQueryError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	if errors.Is(err, observation.ErrUnsupportedFilterCombination) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	logger.Error(op, zap.Error(err))
	http.Error(w, op+" error", http.StatusInternalServerError)
}

func parseTimeQuery(r *http.Request, key string) (time.Time, error) {
	value := r.URL.Query().Get(key)
	if value == "" {
		return time.Time{}, errors.New(key + " is required")
	}
	parsed, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, errors.New(key + " must be RFC3339")
	}
	return parsed.UTC(), nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
