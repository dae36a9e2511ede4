// Package xlsx streams rows out of an uploaded spreadsheet. Repurposed
// from the teacher's internal/email/email.go interface-plus-implementation
// shape (Sender.Send -> SheetReader.Rows), fronting excelize instead of
// SES since this system has no notification channel.
package xlsx

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

// ErrEmptySheet is returned when the first sheet has a header but zero
// data rows, or no sheet at all — spec.md §4.3 step 4's file-level
// failure case.
var ErrEmptySheet = fmt.Errorf("workbook has no data rows on the first sheet")

// Row is one 1-indexed data row (row 2 is the first row after the
// header), as raw cell strings keyed by header name.
type Row struct {
	Index  int
	Values map[string]string
}

// SheetReader is the seam the processor depends on, so tests can supply an
// in-memory fake instead of a real workbook.
type SheetReader interface {
	Rows(r io.Reader) ([]Row, error)
}

// ExcelizeReader is the production SheetReader.
type ExcelizeReader struct{}

// Rows decodes r as an XLSX workbook, extracts the first sheet, and
// returns its data rows keyed by the header row's column names.
func (ExcelizeReader) Rows(r io.Reader) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmptySheet
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rowsFromRaw(raw)
}

// rowsFromRaw turns raw sheet cells (header row first) into indexed Rows.
// Split out from Rows so the row-numbering and empty-sheet rules are unit
// testable without constructing a real workbook.
func rowsFromRaw(raw [][]string) ([]Row, error) {
	if len(raw) < 2 {
		return nil, ErrEmptySheet
	}
	header := raw[0]
	rows := make([]Row, 0, len(raw)-1)
	for i, cells := range raw[1:] {
		values := make(map[string]string, len(header))
		for col, name := range header {
			if col < len(cells) {
				values[name] = cells[col]
			} else {
				values[name] = ""
			}
		}
		// i is 0-indexed over data rows; row 1 is the header, so the
		// first data row is reported as row 2 (spec.md §4.3 step 5).
		rows = append(rows, Row{Index: i + 2, Values: values})
	}
	return rows, nil
}
