package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"sos-cloud/internal/observability/metrics"
	"sos-cloud/internal/observation/application"
	observation "sos-cloud/internal/observation/domain"
)

const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
	FormatCSV  = "csv"
)

// ErrUnknownFormat is returned for an unsupported export format.
var ErrUnknownFormat = errors.New("report: unknown format")

// SeriesReport is the input of every export format.
type SeriesReport struct {
	Title       string
	GeneratedAt time.Time
	Series      []*observation.Series
	Offerings   []observation.ExtremaSummary
}

// Build collects the series matching a filter and the offering extrema.
func Build(ctx context.Context, series *application.SeriesRegistry, tracker *application.ExtremaTracker, session observation.Session, f observation.Filter, generatedAt time.Time) (*SeriesReport, error) {
	if series == nil || tracker == nil {
		return nil, errors.New("report: nil collaborator")
	}
	list, err := series.QueryByIdentity(ctx, session, f)
	if err != nil {
		return nil, err
	}
	offerings, err := tracker.OfferingExtrema(ctx, session)
	if err != nil {
		return nil, err
	}
	return &SeriesReport{GeneratedAt: generatedAt, Series: list, Offerings: offerings}, nil
}

var seriesHeader = []string{
	"Series ID", "Procedure", "Observable Property", "Feature of Interest", "Offering",
	"Value Type", "First", "Last", "First Value", "Last Value", "Unit",
}

// Export renders a report in the requested format.
func Export(format string, r *SeriesReport) ([]byte, error) {
	start := time.Now()
	var (
		data []byte
		err  error
	)
	switch format {
	case FormatPDF:
		data, err = BuildSeriesPDF(r)
	case FormatXLSX:
		data, err = BuildSeriesXLSX(r)
	case FormatCSV:
		data, err = BuildSeriesCSV(r)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveReportExport(format, result, time.Since(start))
	return data, err
}

func seriesRow(s *observation.Series) []string {
	return []string{
		strconv.FormatInt(s.ID, 10),
		s.Key.Procedure,
		s.Key.ObservableProperty,
		s.Key.FeatureOfInterest,
		s.Key.Offering,
		string(s.ValueType),
		formatTime(s.FirstTimeStamp),
		formatTime(s.LastTimeStamp),
		formatDecimal(s.FirstValue),
		formatDecimal(s.LastValue),
		s.Unit,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// BuildSeriesPDF renders a minimal PDF listing series extrema.
func BuildSeriesPDF(r *SeriesReport) ([]byte, error) {
	if r == nil {
		return nil, errors.New("report: nil report")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, titleOf(r))
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", r.GeneratedAt.UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Series: %d", len(r.Series)))
	pdf.Ln(8)

	if len(r.Offerings) > 0 {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(70, 6, "Offering", "1", 0, "C", false, 0, "")
		pdf.CellFormat(25, 6, "Series", "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, "Start", "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, "End", "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 10)
		for _, o := range r.Offerings {
			pdf.CellFormat(70, 6, o.Key, "1", 0, "L", false, 0, "")
			pdf.CellFormat(25, 6, strconv.Itoa(o.SeriesCount), "1", 0, "R", false, 0, "")
			pdf.CellFormat(55, 6, formatTime(o.Start), "1", 0, "C", false, 0, "")
			pdf.CellFormat(55, 6, formatTime(o.End), "1", 0, "C", false, 0, "")
			pdf.Ln(-1)
		}
		pdf.Ln(6)
	}

	widths := []float64{15, 35, 30, 30, 30, 22, 40, 40, 20, 20, 15}
	pdf.SetFont("Arial", "B", 7)
	for i, h := range seriesHeader {
		pdf.CellFormat(widths[i], 6, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 7)
	for _, s := range r.Series {
		for i, v := range seriesRow(s) {
			pdf.CellFormat(widths[i], 6, v, "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSeriesXLSX renders a workbook with a summary and a series sheet.
func BuildSeriesXLSX(r *SeriesReport) ([]byte, error) {
	if r == nil {
		return nil, errors.New("report: nil report")
	}
	f := excelize.NewFile()
	summarySheet := "summary"
	seriesSheet := "series"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(seriesSheet); err != nil {
		return nil, err
	}

	_ = f.SetCellValue(summarySheet, "A1", titleOf(r))
	_ = f.SetCellValue(summarySheet, "A2", "Generated")
	_ = f.SetCellValue(summarySheet, "B2", r.GeneratedAt.UTC().Format(time.RFC3339))
	_ = f.SetCellValue(summarySheet, "A4", "Offering")
	_ = f.SetCellValue(summarySheet, "B4", "Series")
	_ = f.SetCellValue(summarySheet, "C4", "Start")
	_ = f.SetCellValue(summarySheet, "D4", "End")
	for i, o := range r.Offerings {
		row := i + 5
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), o.Key)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), o.SeriesCount)
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("C%d", row), formatTime(o.Start))
		_ = f.SetCellValue(summarySheet, fmt.Sprintf("D%d", row), formatTime(o.End))
	}

	if err := f.SetSheetRow(seriesSheet, "A1", &seriesHeader); err != nil {
		return nil, err
	}
	for i, s := range r.Series {
		row := seriesRow(s)
		if err := f.SetSheetRow(seriesSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildSeriesCSV renders one header row and one row per series.
func BuildSeriesCSV(r *SeriesReport) ([]byte, error) {
	if r == nil {
		return nil, errors.New("report: nil report")
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(seriesHeader); err != nil {
		return nil, err
	}
	for _, s := range r.Series {
		if err := w.Write(seriesRow(s)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func titleOf(r *SeriesReport) string {
	if r.Title != "" {
		return r.Title
	}
	return "Observation Series Report"
}
