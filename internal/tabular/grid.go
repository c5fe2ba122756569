// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tabular

import (
	"bytes"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"

	"github.com/bcem/leaveintake/internal/failure"
)

const isoDate = "2006-01-02"

// xlsxReader walks the first worksheet of an Office Open XML workbook.
type xlsxReader struct {
	f      *excelize.File
	sheet  string
	rows   *excelize.Rows
	rowNum int
	header []string
	dates  map[int]bool // style ID -> date formatted
}

func newXLSXReader(data []byte) (*xlsxReader, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, failure.Wrap(failure.KindAttachmentRead, err, "open workbook")
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, failure.New(failure.KindEmptySource, "workbook has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, failure.Wrap(failure.KindAttachmentRead, err, "read sheet %q", sheets[0])
	}

	x := &xlsxReader{f: f, sheet: sheets[0], rows: rows, dates: make(map[int]bool)}
	for {
		cells, err := x.Next()
		if err == io.EOF {
			x.Close()
			return nil, failure.New(failure.KindEmptySource, "sheet %q has no header row", x.sheet)
		}
		if err != nil {
			x.Close()
			return nil, err
		}
		if !IsBlank(cells) {
			x.header = cells
			return x, nil
		}
	}
}

func (x *xlsxReader) Header() []string { return x.header }

func (x *xlsxReader) Next() ([]string, error) {
	if !x.rows.Next() {
		if err := x.rows.Error(); err != nil {
			return nil, failure.Wrap(failure.KindAttachmentRead, err, "read sheet %q", x.sheet)
		}
		return nil, io.EOF
	}
	x.rowNum++

	raw, err := x.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, failure.Wrap(failure.KindAttachmentRead, err, "read row %d", x.rowNum)
	}

	cells := make([]string, len(raw), max(len(raw), len(x.header)))
	for i, v := range raw {
		cells[i] = x.stringify(i+1, v)
	}
	return padRow(cells, len(x.header)), nil
}

// stringify renders a raw cell value. Numbers lose trailing fractional
// zeros and date-formatted numbers become ISO dates.
func (x *xlsxReader) stringify(col int, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	axis, err := excelize.CoordinatesToCellName(col, x.rowNum)
	if err != nil {
		return raw
	}

	typ, err := x.f.GetCellType(x.sheet, axis)
	if err != nil {
		return raw
	}

	switch typ {
	case excelize.CellTypeDate:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.Format(isoDate)
		}
		return dateOnly(raw)
	case excelize.CellTypeNumber, excelize.CellTypeUnset:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return raw
		}
		if x.isDateStyled(axis) {
			if t, err := excelize.ExcelDateToTime(v, false); err == nil {
				return t.Format(isoDate)
			}
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return raw
}

func (x *xlsxReader) isDateStyled(axis string) bool {
	styleID, err := x.f.GetCellStyle(x.sheet, axis)
	if err != nil {
		return false
	}
	if isDate, ok := x.dates[styleID]; ok {
		return isDate
	}

	isDate := false
	if style, err := x.f.GetStyle(styleID); err == nil && style != nil {
		isDate = builtinDateFormats[style.NumFmt]
		if style.CustomNumFmt != nil {
			isDate = isDateLayout(*style.CustomNumFmt)
		}
	}
	x.dates[styleID] = isDate
	return isDate
}

func (x *xlsxReader) Close() error {
	if x.rows != nil {
		x.rows.Close()
	}
	return x.f.Close()
}

// builtinDateFormats lists the built-in number format IDs that render a
// serial number as a calendar date.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true,
	32: true, 33: true, 34: true, 35: true, 36: true,
	50: true, 51: true, 52: true, 53: true, 54: true,
	55: true, 56: true, 57: true, 58: true,
}

var (
	quotedLiteral = regexp.MustCompile(`"[^"]*"|\[[^\]]*\]`)
	dateToken     = regexp.MustCompile(`y|d{1,4}|m{3,}`)
)

// isDateLayout reports whether a custom number format renders a date.
func isDateLayout(layout string) bool {
	layout = strings.ToLower(quotedLiteral.ReplaceAllString(layout, ""))
	return dateToken.MatchString(layout)
}

// xlsReader walks the first worksheet of a legacy BIFF workbook.
type xlsReader struct {
	sheet  *xls.WorkSheet
	next   int
	header []string
}

func newXLSReader(data []byte) (*xlsReader, error) {
	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, failure.Wrap(failure.KindAttachmentRead, err, "open workbook")
	}
	if wb.NumSheets() == 0 {
		return nil, failure.New(failure.KindEmptySource, "workbook has no sheets")
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, failure.New(failure.KindEmptySource, "workbook has no sheets")
	}

	x := &xlsReader{sheet: sheet}
	for {
		cells, err := x.Next()
		if err == io.EOF {
			return nil, failure.New(failure.KindEmptySource, "sheet %q has no header row", sheet.Name)
		}
		if !IsBlank(cells) {
			x.header = cells
			return x, nil
		}
	}
}

func (x *xlsReader) Header() []string { return x.header }

func (x *xlsReader) Next() ([]string, error) {
	if x.next > int(x.sheet.MaxRow) {
		return nil, io.EOF
	}
	i := x.next
	x.next++

	row := x.sheet.Row(i)
	if row == nil {
		return padRow(nil, len(x.header)), nil
	}

	cells := make([]string, row.LastCol())
	for c := row.FirstCol(); c < row.LastCol(); c++ {
		cells[c] = normalizeXLSCell(row.Col(c))
	}
	return padRow(cells, len(x.header)), nil
}

func (x *xlsReader) Close() error { return nil }

// padRow extends cells with empty strings up to width. Workbooks do not
// store trailing blank cells, so grid rows can be shorter than the header.
func padRow(cells []string, width int) []string {
	for len(cells) < width {
		cells = append(cells, "")
	}
	if cells == nil {
		cells = []string{}
	}
	return cells
}

// normalizeXLSCell trims the library's rendering of a cell. Dates come back
// as timestamps and are cut down to the calendar day.
func normalizeXLSCell(s string) string {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Format(isoDate)
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil && strings.Contains(s, ".") {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return s
}

// dateOnly keeps the yyyy-mm-dd prefix of an ISO timestamp.
func dateOnly(s string) string {
	if len(s) >= len(isoDate) {
		if _, err := time.Parse(isoDate, s[:len(isoDate)]); err == nil {
			return s[:len(isoDate)]
		}
	}
	return s
}
