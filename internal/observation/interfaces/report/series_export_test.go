package report

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	observation "sos-cloud/internal/observation/domain"
)

func sampleReport() *SeriesReport {
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &SeriesReport{
		GeneratedAt: t0,
		Series: []*observation.Series{
			{
				ID:             1,
				Key:            observation.SeriesKey{Procedure: "p1", ObservableProperty: "temp", FeatureOfInterest: "foi-1", Offering: "off-1"},
				ValueType:      observation.TypeNumeric,
				FirstTimeStamp: t0,
				LastTimeStamp:  t0.Add(time.Hour),
				FirstValue:     decimal.NewNullDecimal(decimal.RequireFromString("1.5")),
				Unit:           "degC",
			},
			{
				ID:        2,
				Key:       observation.SeriesKey{Procedure: "p2", ObservableProperty: "img", FeatureOfInterest: "foi-1", Offering: "off-1"},
				ValueType: observation.TypeBlob,
			},
		},
		Offerings: []observation.ExtremaSummary{{Key: "off-1", SeriesCount: 1, Start: t0, End: t0.Add(time.Hour)}},
	}
}

func TestBuildSeriesCSV(t *testing.T) {
	data, err := BuildSeriesCSV(sampleReport())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, seriesHeader, records[0])
	assert.Equal(t, []string{"1", "p1", "temp", "foi-1", "off-1", "numeric",
		"2024-05-01T12:00:00Z", "2024-05-01T13:00:00Z", "1.5", "", "degC"}, records[1])
	assert.Equal(t, "", records[2][6], "unset bounds export empty")
}

func TestBuildSeriesXLSX(t *testing.T) {
	data, err := BuildSeriesXLSX(sampleReport())
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	title, err := f.GetCellValue("summary", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Observation Series Report", title)

	offering, err := f.GetCellValue("summary", "A5")
	require.NoError(t, err)
	assert.Equal(t, "off-1", offering)

	rows, err := f.GetRows("series")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "p2", rows[2][1])
}

func TestBuildSeriesPDF(t *testing.T) {
	data, err := BuildSeriesPDF(sampleReport())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("%PDF")))
}

func TestExportUnknownFormat(t *testing.T) {
	_, err := Export("docx", sampleReport())
	assert.ErrorIs(t, err, ErrUnknownFormat)

	data, err := Export(FormatCSV, sampleReport())
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}
