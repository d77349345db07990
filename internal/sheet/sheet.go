// Package sheet reads teacher submissions from workbooks and writes the
// template and aggregated workbooks.
package sheet

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmpty indicates a workbook without a header row.
var ErrEmpty = errors.New("workbook has no header row")

// ContentType is the MIME type of generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Table is the first sheet of a workbook: a trimmed header row and the data rows below it.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Read parses the first sheet of an xlsx workbook.
func Read(data []byte) (*Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, ErrEmpty
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(h)
	}

	body := make([][]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		body = append(body, row)
	}

	return &Table{Headers: headers, Rows: body}, nil
}

// Record is one data row keyed by the requested field names.
type Record struct {
	Values  map[string]string
	Present map[string]bool
	Matched int
}

// Extract maps the first data row onto fields by header name. Fields without
// a matching column are absent from Present. A table without data rows yields
// empty values for matched columns.
func (t *Table) Extract(fields []string) Record {
	index := make(map[string]int, len(t.Headers))
	for i, h := range t.Headers {
		if _, dup := index[h]; !dup && h != "" {
			index[h] = i
		}
	}

	var row []string
	if len(t.Rows) > 0 {
		row = t.Rows[0]
	}

	rec := Record{
		Values:  make(map[string]string, len(fields)),
		Present: make(map[string]bool, len(fields)),
	}
	for _, f := range fields {
		col, ok := index[strings.TrimSpace(f)]
		if !ok {
			continue
		}
		rec.Present[f] = true
		rec.Matched++
		if col < len(row) {
			rec.Values[f] = strings.TrimSpace(row[col])
		}
	}
	return rec
}

// HasHeaders reports whether every field appears in the header row.
func (t *Table) HasHeaders(fields []string) bool {
	if len(fields) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(t.Headers))
	for _, h := range t.Headers {
		set[h] = struct{}{}
	}
	for _, f := range fields {
		if _, ok := set[strings.TrimSpace(f)]; !ok {
			return false
		}
	}
	return true
}

func blank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
