package core

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ExportHeader is the fixed column set of every results download.
var ExportHeader = []string{"Email", "Name", "Valid", "Reason"}

// ExportFormat selects the download encoding.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatXLSX ExportFormat = "xlsx"
)

// ParseExportFormat maps a query value to a format; "" means CSV.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format: %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f ExportFormat) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// FileName returns the download file name for the format.
func (f ExportFormat) FileName() string {
	return "validated_emails." + string(f)
}

// exportRecord flattens a result into download columns. Booleans become
// Yes/No, so the export is readable but not meant to be parsed back.
func exportRecord(r ValidationResult) []string {
	valid := "No"
	if r.IsValid {
		valid = "Yes"
	}
	return []string{r.Email, r.Name, valid, r.Reason}
}

// Export writes results to w in the given format.
func Export(w io.Writer, format ExportFormat, results []ValidationResult) error {
	if format == FormatXLSX {
		return ExportXLSX(w, results)
	}
	return ExportCSV(w, results)
}

// ExportCSV writes results as CSV in input order. An empty slice produces
// only the header row.
func ExportCSV(w io.Writer, results []ValidationResult) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range results {
		if err := cw.Write(exportRecord(r)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

const xlsxSheet = "Results"

// ExportXLSX writes results to a single-sheet workbook.
func ExportXLSX(w io.Writer, results []ValidationResult) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), xlsxSheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return fmt.Errorf("xlsx stream: %w", err)
	}

	if err := sw.SetRow("A1", toCells(ExportHeader)); err != nil {
		return fmt.Errorf("xlsx header: %w", err)
	}
	for i, r := range results {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := sw.SetRow(cell, toCells(exportRecord(r))); err != nil {
			return fmt.Errorf("xlsx row %d: %w", i+2, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("xlsx flush: %w", err)
	}

	_, err = f.WriteTo(w)
	return err
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
