package sheet

import (
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	SheetAggregated = "Aggregated"
	SheetValidation = "Validation"

	flagColor = "FFE699"
)

// Template renders a header-only workbook teachers fill in and send back.
func Template(fields []string) ([]byte, error) {
	return Workbook(fields)
}

// Workbook renders a single-sheet workbook with a bold header row followed by rows.
func Workbook(headers []string, rows ...[]string) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	name := f.GetSheetName(0)
	if err := writeHeader(f, name, headers); err != nil {
		return nil, err
	}
	for i, r := range rows {
		line := make([]any, len(r))
		for j, v := range r {
			line[j] = v
		}
		if err := setRow(f, name, i+2, line); err != nil {
			return nil, err
		}
	}
	return encode(f)
}

// Row is one teacher's line in the aggregated sheet.
type Row struct {
	TeacherID   string
	TeacherName string
	Values      []string
	Flagged     bool
}

// Issue is one line of the validation sheet.
type Issue struct {
	TeacherID   string
	TeacherName string
	Message     string
}

// Summary is the merged workbook produced by an aggregation run.
type Summary struct {
	Fields []string
	Rows   []Row
	Issues []Issue
}

// Bytes renders the summary as an xlsx workbook with an aggregated sheet
// and a validation sheet. Flagged rows are filled.
func (s Summary) Bytes() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetAggregated); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	header := append([]string{"Teacher ID", "Teacher Name"}, s.Fields...)
	if err := writeHeader(f, SheetAggregated, header); err != nil {
		return nil, err
	}

	flag, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{flagColor}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("flag style: %w", err)
	}

	for i, r := range s.Rows {
		line := make([]any, 0, len(header))
		line = append(line, r.TeacherID, r.TeacherName)
		for _, v := range r.Values {
			line = append(line, v)
		}

		if err := setRow(f, SheetAggregated, i+2, line); err != nil {
			return nil, err
		}
		if r.Flagged {
			if err := styleRow(f, SheetAggregated, i+2, len(header), flag); err != nil {
				return nil, err
			}
		}
	}

	if _, err := f.NewSheet(SheetValidation); err != nil {
		return nil, fmt.Errorf("add validation sheet: %w", err)
	}
	if err := writeHeader(f, SheetValidation, []string{"Teacher ID", "Teacher Name", "Issue"}); err != nil {
		return nil, err
	}
	for i, is := range s.Issues {
		if err := setRow(f, SheetValidation, i+2, []any{is.TeacherID, is.TeacherName, is.Message}); err != nil {
			return nil, err
		}
	}

	return encode(f)
}

func writeHeader(f *excelize.File, sheet string, cols []string) error {
	line := make([]any, len(cols))
	for i, c := range cols {
		line[i] = c
	}
	if err := setRow(f, sheet, 1, line); err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := styleRow(f, sheet, 1, len(cols), bold); err != nil {
		return err
	}

	last, err := excelize.ColumnNumberToName(len(cols))
	if err != nil {
		return fmt.Errorf("header width: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", last, 16); err != nil {
		return fmt.Errorf("header width: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("row %d: %w", row, err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func styleRow(f *excelize.File, sheet string, row, width, style int) error {
	from, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	to, err := excelize.CoordinatesToCellName(max(width, 1), row)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, from, to, style); err != nil {
		return fmt.Errorf("style %s row %d: %w", sheet, row, err)
	}
	return nil
}

func encode(f *excelize.File) ([]byte, error) {
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("encode workbook: %w", err)
	}
	return buf.Bytes(), nil
}
