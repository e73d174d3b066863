package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docintake/constants"
	"github.com/joseph-ayodele/docintake/internal/common"
	"github.com/joseph-ayodele/docintake/internal/entity"
	"github.com/joseph-ayodele/docintake/internal/repository"
)

const (
	batchesSheet = "Batches"
	fieldsSheet  = "Fields"
)

// Service is a tiny façade over repositories that produces XLSX bytes for exports.
type Service struct {
	batches   repository.BatchRepository
	documents repository.DocumentRepository
	logger    *slog.Logger
}

func NewService(batches repository.BatchRepository, documents repository.DocumentRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{batches: batches, documents: documents, logger: logger}
}

// Filter narrows the exported batches. From and To compare against the
// batch creation date, inclusive, in UTC.
type Filter struct {
	Status *constants.BatchStatus
	From   *time.Time
	To     *time.Time
}

// ExportBatchesXLSX returns an XLSX workbook (as bytes) with one row per batch
// on the Batches sheet and one row per extracted field on the Fields sheet.
// If only From is provided -> From..today (inclusive).
// If only To is provided   -> beginning..To (inclusive).
func (s *Service) ExportBatchesXLSX(ctx context.Context, filter Filter) ([]byte, error) {
	start := time.Now()
	fromDate, toDate := dateWindow(filter.From, filter.To)

	all, err := s.batches.List(ctx, repository.BatchFilter{Status: filter.Status})
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	var batches []*entity.Batch
	for _, b := range all {
		day := dateOnly(b.CreatedAt)
		if fromDate != nil && day.Before(*fromDate) {
			continue
		}
		if toDate != nil && day.After(*toDate) {
			continue
		}
		batches = append(batches, b)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", batchesSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(fieldsSheet); err != nil {
		return nil, err
	}
	activeIndex, _ := f.GetSheetIndex(batchesSheet)
	f.SetActiveSheet(activeIndex)

	writeRow(f, batchesSheet, 1, "Batch ID", "Filename", "Status", "Created", "Started", "Processed",
		"Processing Time (s)", "Original Path", "Stored Path", "Error")
	writeRow(f, fieldsSheet, 1, "Batch ID", "Filename", "Document Type", "Page", "Field", "Value",
		"Confidence", "Validation", "Corrected Value")

	fieldRow := 2
	for i, b := range batches {
		writeRow(f, batchesSheet, i+2,
			b.ID.String(), b.Filename, string(b.Status),
			formatTime(&b.CreatedAt), formatTime(b.StartedAt), formatTime(b.ProcessedAt),
			floatOrEmpty(b.ProcessingTime), b.OriginalPath, stringOrEmpty(b.StoredPath),
			common.TruncateMessage(stringOrEmpty(b.ErrorMessage), 140))

		doc, err := s.documents.LoadAggregate(ctx, b.ID)
		if common.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load results of batch %s: %w", b.ID, err)
		}
		for _, p := range doc.Pages {
			for _, fld := range p.Fields {
				writeRow(f, fieldsSheet, fieldRow,
					b.ID.String(), b.Filename, string(doc.DocType), p.PageNumber,
					fld.Name, fld.Value, fld.Confidence, string(fld.ValidationStatus),
					stringOrEmpty(fld.CorrectedValue))
				fieldRow++
			}
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(batchesSheet, "A", "A", 38) // id
	_ = f.SetColWidth(batchesSheet, "B", "B", 28) // filename
	_ = f.SetColWidth(batchesSheet, "D", "F", 22) // timestamps
	_ = f.SetColWidth(batchesSheet, "H", "I", 60) // paths
	_ = f.SetColWidth(batchesSheet, "J", "J", 48) // error
	_ = f.SetColWidth(fieldsSheet, "A", "A", 38)
	_ = f.SetColWidth(fieldsSheet, "E", "F", 24)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"batches", len(batches),
		"fields", fieldRow-2,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values ...any) {
	for i, v := range values {
		cell, _ := excelize.CoordinatesToCellName(i+1, row)
		_ = f.SetCellValue(sheet, cell, v)
	}
}

// dateWindow normalizes the bounds to UTC dates.
func dateWindow(from, to *time.Time) (*time.Time, *time.Time) {
	var fromDate, toDate *time.Time
	if from != nil {
		f := dateOnly(*from)
		fromDate = &f
	}
	if to != nil {
		t := dateOnly(*to)
		toDate = &t
	}
	if fromDate != nil && toDate == nil {
		t := dateOnly(time.Now())
		toDate = &t
	}
	return fromDate, toDate
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func floatOrEmpty(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}
