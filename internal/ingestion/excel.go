package ingestion

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned when a spreadsheet cannot be read.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// isSpreadsheet reports whether fileName names an .xlsx export.
func isSpreadsheet(fileName string) bool {
	return strings.EqualFold(filepath.Ext(fileName), ".xlsx")
}

// spreadsheetLines renders the first sheet as separator-joined lines so the
// regular pipeline can classify and build them. Cells are read raw; date and
// time formatted cells are rendered in the export's own layouts.
func spreadsheetLines(payload []byte, sep string) ([]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open xlsx: %v", ErrUnsupportedFormat, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: excel file has no sheets", ErrUnsupportedFormat)
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	cells := newCellRenderer(f, sheet)
	lines := make([]string, len(rows))
	for i, row := range rows {
		fields := make([]string, len(row))
		for j, raw := range row {
			fields[j] = strings.ReplaceAll(cells.render(j+1, i+1, raw), sep, " ")
		}
		lines[i] = strings.Join(fields, sep)
	}
	return lines, nil
}

const (
	layoutNone = ""
	layoutDate = "02.01.2006"
	layoutTime = "15:04:05"
)

// Built-in number formats that display a date or a time of day.
var builtinTemporalFormats = map[int]string{
	14: layoutDate, 15: layoutDate, 16: layoutDate, 17: layoutDate, 22: layoutDate,
	27: layoutDate, 28: layoutDate, 29: layoutDate, 30: layoutDate, 31: layoutDate,
	34: layoutDate, 35: layoutDate, 36: layoutDate,
	50: layoutDate, 51: layoutDate, 52: layoutDate, 53: layoutDate, 54: layoutDate,
	55: layoutDate, 56: layoutDate, 57: layoutDate, 58: layoutDate,
	18: layoutTime, 19: layoutTime, 20: layoutTime, 21: layoutTime,
	32: layoutTime, 33: layoutTime, 45: layoutTime, 46: layoutTime, 47: layoutTime,
}

type cellRenderer struct {
	f        *excelize.File
	sheet    string
	date1904 bool
	layouts  map[int]string
}

func newCellRenderer(f *excelize.File, sheet string) *cellRenderer {
	r := &cellRenderer{f: f, sheet: sheet, layouts: map[int]string{}}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		r.date1904 = *props.Date1904
	}
	return r
}

// render converts a raw serial in a date or time formatted cell; every other
// value is returned unchanged.
func (r *cellRenderer) render(col, row int, raw string) string {
	if raw == "" {
		return raw
	}
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	layout := r.layoutAt(col, row)
	if layout == layoutNone {
		return raw
	}
	t, err := excelize.ExcelDateToTime(serial, r.date1904)
	if err != nil {
		return raw
	}
	return t.Round(time.Second).Format(layout)
}

func (r *cellRenderer) layoutAt(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return layoutNone
	}
	styleID, err := r.f.GetCellStyle(r.sheet, name)
	if err != nil || styleID == 0 {
		return layoutNone
	}
	if layout, ok := r.layouts[styleID]; ok {
		return layout
	}

	layout := layoutNone
	if style, err := r.f.GetStyle(styleID); err == nil && style != nil {
		if style.CustomNumFmt != nil {
			layout = customFormatLayout(*style.CustomNumFmt)
		} else {
			layout = builtinTemporalFormats[style.NumFmt]
		}
	}
	r.layouts[styleID] = layout
	return layout
}

// customFormatLayout classifies a custom number format. Quoted literals and
// bracketed sections are ignored; a bare "m" is ambiguous and does not count.
func customFormatLayout(format string) string {
	var b strings.Builder
	inQuote, inBracket := false, false
	for _, c := range strings.ToLower(format) {
		switch {
		case c == '"':
			inQuote = !inQuote
		case inQuote:
		case c == '[':
			inBracket = true
		case c == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(c)
		}
	}
	code := b.String()
	switch {
	case strings.ContainsAny(code, "dy"):
		return layoutDate
	case strings.ContainsAny(code, "hs"):
		return layoutTime
	}
	return layoutNone
}

// ParseSpreadsheet runs the pipeline over the first sheet of an .xlsx export.
func (p *Parser) ParseSpreadsheet(payload []byte) (Result, error) {
	lines, err := spreadsheetLines(payload, p.opts.Separator)
	if err != nil {
		return Result{}, err
	}
	return p.ParseLines(lines), nil
}
