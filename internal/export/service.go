package export

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/car-analyzer/constants"
	"github.com/joseph-ayodele/car-analyzer/internal/ingest"
	"github.com/joseph-ayodele/car-analyzer/internal/pipeline"
)

const sheet = "Cars"

// Row is one line of a batch report.
type Row struct {
	File   string
	Make   string
	Model  string
	Status constants.Outcome
	Error  string
	Width  int
	Height int
	SizeKB float64
}

// RowFromResult flattens a per-file ingest result.
func RowFromResult(r ingest.FileResult) Row {
	row := Row{File: r.Path, Status: pipeline.OutcomeOf(r.Err)}
	if r.Err != nil {
		row.Error = r.Err.Error()
	}
	a := r.Analysis
	if a == nil {
		return row
	}
	row.Status = a.Outcome
	if img := a.Image; img != nil {
		row.Width, row.Height, row.SizeKB = img.Width, img.Height, img.SizeKB()
	}
	if r.Err == nil {
		row.Make = a.Result.Fields.Make
		row.Model = a.Result.Fields.Model
		row.Error = a.Result.Error
	}
	return row
}

// Service produces XLSX bytes for batch reports.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// ReportXLSX returns an XLSX workbook (as bytes) with one row per analyzed file.
func (s *Service) ReportXLSX(ctx context.Context, rows []Row) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.xlsx.close_error", "error", err)
		}
	}()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	headers := []string{
		"File",
		"Make",
		"Model",
		"Status",
		"Error",
		"Width",
		"Height",
		"Size (KB)",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}

		write(1, filepath.Base(r.File))
		write(2, r.Make)
		write(3, r.Model)
		write(4, string(r.Status))
		write(5, truncate(r.Error, 200))
		if r.Width > 0 {
			write(6, r.Width)
			write(7, r.Height)
			write(8, fmt.Sprintf("%.1f", r.SizeKB))
		}
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 36) // file
	_ = f.SetColWidth(sheet, "B", "C", 20) // make, model
	_ = f.SetColWidth(sheet, "D", "D", 18) // status
	_ = f.SetColWidth(sheet, "E", "E", 60) // error
	_ = f.SetColWidth(sheet, "F", "H", 10) // dims, size
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"rows", len(rows),
		"bytes", buf.Len(),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 1 {
		return s[:n]
	}
	return s[:n-1] + "…"
}
