package core

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptyFile is returned when an upload has no header row or no data rows.
var ErrEmptyFile = errors.New("empty file")

// ParseFile decodes an upload by extension: .xlsx goes through excelize,
// everything else is treated as delimited text with any BOM stripped and
// invalid UTF-8 replaced.
func ParseFile(fileName string, r io.Reader) (*Dataset, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return ParseXLSX(r)
	default:
		return ParseCSV(WrapUpload(r, 0))
	}
}

// ParseCSV reads a delimited file whose first record is the header row.
// Raw uploads should be wrapped with WrapUpload first.
func ParseCSV(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // row length is checked against the header below
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: no header row", ErrEmptyFile)
	}
	if err != nil {
		return nil, csvError(err)
	}

	headers, err := normalizeHeaders(header)
	if err != nil {
		return nil, err
	}

	var rows []Row
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, csvError(err)
		}
		line, _ := reader.FieldPos(0)
		row, err := buildRow(headers, record, line)
		if err != nil {
			return nil, err
		}
		if row != nil {
			rows = append(rows, *row)
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrEmptyFile)
	}
	return &Dataset{Headers: headers, Rows: rows}, nil
}

// ParseXLSX reads the first worksheet of an Excel workbook with the same
// header and row rules as ParseCSV.
func ParseXLSX(r io.Reader) (*Dataset, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	records, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("invalid xlsx: read sheet %q: %w", sheet, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no header row", ErrEmptyFile)
	}

	headers, err := normalizeHeaders(records[0])
	if err != nil {
		return nil, err
	}

	var rows []Row
	for i, record := range records[1:] {
		row, err := buildRow(headers, record, i+2)
		if err != nil {
			return nil, err
		}
		if row != nil {
			rows = append(rows, *row)
		}
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no data rows", ErrEmptyFile)
	}
	return &Dataset{Headers: headers, Rows: rows}, nil
}

// normalizeHeaders trims header names and rejects blank or repeated ones,
// since either would make column mapping ambiguous.
func normalizeHeaders(raw []string) ([]string, error) {
	headers := make([]string, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			return nil, fmt.Errorf("invalid csv: header column %d is blank", i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("invalid csv: duplicate header %q", h)
		}
		seen[h] = true
		headers[i] = h
	}
	return headers, nil
}

// buildRow aligns a record with the header. Rows longer than the header are
// rejected; shorter rows are padded. Returns nil for rows whose fields are
// all empty; whitespace counts as content.
func buildRow(headers, record []string, line int) (*Row, error) {
	blank := true
	for _, v := range record {
		if v != "" {
			blank = false
			break
		}
	}
	if blank {
		return nil, nil
	}
	if len(record) > len(headers) {
		return nil, fmt.Errorf("invalid csv: row %d has %d fields, header has %d", line, len(record), len(headers))
	}

	values := make([]string, len(headers))
	copy(values, record)
	return &Row{Headers: headers, Values: values}, nil
}

func csvError(err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return fmt.Errorf("invalid csv: line %d: %w", pe.Line, pe.Err)
	}
	return fmt.Errorf("invalid csv: %w", err)
}
