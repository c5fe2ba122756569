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

package leave

import (
	"strconv"
	"strings"
	"time"

	"github.com/bcem/leaveintake/internal/failure"
	"github.com/bcem/leaveintake/internal/schema"
)

// dateLayouts are the accepted spellings of a calendar date. Only the date
// part is kept.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02",
}

// Mapper converts raw rows into records. It does lexical and type parsing
// only; business rules are checked separately.
type Mapper struct {
	cols        schema.Columns
	variant     schema.Variant
	minWidth    int
	hoursPerDay int
}

// NewMapper builds a mapper for a validated header. In superset mode only
// the mapped columns must be present in a row; in exact mode every header
// column must be.
func NewMapper(header []string, cols schema.Columns, variant schema.Variant, mode schema.Mode, hoursPerDay int) *Mapper {
	if hoursPerDay <= 0 {
		hoursPerDay = DefaultHoursPerDay
	}
	width := len(header)
	if mode == schema.SupersetAnyOrder {
		width = cols.Width()
	}
	return &Mapper{
		cols:        cols,
		variant:     variant,
		minWidth:    width,
		hoursPerDay: hoursPerDay,
	}
}

// Map converts one row. ok is false for rows with no content at all, which
// are formatting artefacts rather than errors.
func (m *Mapper) Map(row []string) (rec Record, ok bool, err error) {
	if isBlank(row) {
		return Record{}, false, nil
	}
	if len(row) < m.minWidth {
		return Record{}, false, failure.New(failure.KindIncompleteRow,
			"row data is incomplete: %d of %d values", len(row), m.minWidth)
	}

	get := func(name string) string {
		i, ok := m.cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	for _, name := range schema.Required(schema.VariantStandard) {
		if get(name) == "" {
			return Record{}, false, failure.Field(failure.KindIncompleteRow, name, "value is missing")
		}
	}

	id, err := strconv.Atoi(get(schema.EmployeeID))
	if err != nil {
		return Record{}, false, failure.Field(failure.KindFieldParse, schema.EmployeeID,
			"not a whole number: %q", get(schema.EmployeeID))
	}

	hours, err := ParseDuration(get(schema.NoOfHours), m.hoursPerDay)
	if err != nil {
		return Record{}, false, failure.Field(failure.KindFieldParse, schema.NoOfHours, "%v", err)
	}

	start, err := ParseDate(get(schema.StartDate))
	if err != nil {
		return Record{}, false, failure.Field(failure.KindFieldParse, schema.StartDate,
			"not a date: %q", get(schema.StartDate))
	}
	end, err := ParseDate(get(schema.EndDate))
	if err != nil {
		return Record{}, false, failure.Field(failure.KindFieldParse, schema.EndDate,
			"not a date: %q", get(schema.EndDate))
	}

	name := get(schema.EmployeeName)
	first, last := SplitName(name)

	rec = Record{
		EmployeeID:    id,
		EmployeeName:  name,
		FirstName:     first,
		LastName:      last,
		Manager:       get(schema.Manager),
		StartDate:     start,
		EndDate:       end,
		DurationHours: hours,
	}
	if m.variant == schema.VariantTyped {
		rec.Type = get(schema.Type)
	}
	return rec, true, nil
}

// ParseDate reads a calendar date and returns it at UTC midnight.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
