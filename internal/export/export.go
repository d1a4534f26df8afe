// Package export renders documents for operators as XLSX workbooks.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"policyreader/internal/models"
)

const (
	documentsSheet = "Documents"
	fieldsSheet    = "Fields"
)

type Lister interface {
	List(ctx context.Context, status models.Status, limit int) ([]models.Document, error)
}

type Service struct {
	docs Lister
	log  *slog.Logger
	now  func() time.Time
}

func NewService(docs Lister, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{docs: docs, log: log, now: time.Now}
}

// DocumentsXLSX returns a workbook with one row per document and one row per
// extracted field. An empty status exports every document; limit defaults to
// 10000 rows.
func (s *Service) DocumentsXLSX(ctx context.Context, status models.Status, limit int) ([]byte, error) {
	start := s.now()
	if limit <= 0 {
		limit = 10000
	}
	docs, err := s.docs.List(ctx, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", documentsSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(fieldsSheet); err != nil {
		return nil, err
	}

	writeRow(f, documentsSheet, 1, []any{
		"Document ID", "Title", "Category", "Status", "Confidence", "Method",
		"Needs Review", "Retries", "Processing Seconds", "Error", "Unmapped Keys", "Conversion Issues", "Updated",
	})
	writeRow(f, fieldsSheet, 1, []any{"Document ID", "Field", "Value"})

	fieldRow := 2
	for i, d := range docs {
		writeRow(f, documentsSheet, i+2, []any{
			d.ID,
			d.Title,
			d.Category,
			string(d.Status),
			d.Confidence,
			d.ProcessingMethod,
			yesNo(d.NeedsReview),
			d.RetryCount,
			d.ProcessingSeconds,
			truncate(d.ErrorMessage, 240),
			strings.Join(d.Diagnostics.Unmapped, ", "),
			len(d.Diagnostics.Conversion),
			d.UpdatedAt.UTC().Format(time.RFC3339),
		})

		keys := make([]string, 0, len(d.ExtractedFields))
		for k := range d.ExtractedFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeRow(f, fieldsSheet, fieldRow, []any{d.ID, k, cellValue(d.ExtractedFields[k])})
			fieldRow++
		}
	}

	_ = f.SetColWidth(documentsSheet, "A", "A", 38)
	_ = f.SetColWidth(documentsSheet, "B", "B", 32)
	_ = f.SetColWidth(documentsSheet, "C", "I", 14)
	_ = f.SetColWidth(documentsSheet, "J", "K", 48)
	_ = f.SetColWidth(documentsSheet, "M", "M", 22)
	_ = f.SetColWidth(fieldsSheet, "A", "A", 38)
	_ = f.SetColWidth(fieldsSheet, "B", "C", 28)
	_ = f.SetPanes(documentsSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.log.Info("export.xlsx.ok",
		"status", string(status),
		"documents", len(docs),
		"fields", fieldRow-2,
		"elapsed_ms", s.now().Sub(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) {
	cell, _ := excelize.CoordinatesToCellName(1, row)
	_ = f.SetSheetRow(sheet, cell, &values)
}

// cellValue keeps numbers and booleans native; everything else, decimals
// included, is written as text.
func cellValue(v any) any {
	switch x := v.(type) {
	case nil:
		return ""
	case string, float64, int, int64, bool:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
