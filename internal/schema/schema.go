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

// Package schema checks an attachment header against the required leave
// columns and resolves each required column to its position.
package schema

import (
	"fmt"
	"strings"

	"github.com/bcem/leaveintake/internal/failure"
)

// Column names.
const (
	EmployeeID   = "employee_id"
	EmployeeName = "employee_name"
	Manager      = "manager"
	StartDate    = "start_date"
	EndDate      = "end_date"
	NoOfHours    = "no_of_hours"
	Type         = "type"
)

// Variant selects the required column set. The zero value is invalid and
// must be set explicitly.
type Variant int

const (
	VariantUnset Variant = iota
	// VariantStandard is the six-column layout.
	VariantStandard
	// VariantTyped adds a leave type column.
	VariantTyped
)

// ParseVariant parses "standard" or "typed".
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard":
		return VariantStandard, nil
	case "typed":
		return VariantTyped, nil
	}
	return VariantUnset, fmt.Errorf("unknown schema variant %q (want standard or typed)", s)
}

func (v Variant) String() string {
	switch v {
	case VariantStandard:
		return "standard"
	case VariantTyped:
		return "typed"
	}
	return "unset"
}

// Mode selects how strictly the header must match. The zero value is
// invalid and must be set explicitly.
type Mode int

const (
	ModeUnset Mode = iota
	// ExactOrder requires the header to equal the required list position
	// for position.
	ExactOrder
	// SupersetAnyOrder requires every required column somewhere in the
	// header; extra columns are ignored.
	SupersetAnyOrder
)

// ParseMode parses "exact_order" or "superset_any_order".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "exact_order", "exact":
		return ExactOrder, nil
	case "superset_any_order", "superset":
		return SupersetAnyOrder, nil
	}
	return ModeUnset, fmt.Errorf("unknown header mode %q (want exact_order or superset_any_order)", s)
}

func (m Mode) String() string {
	switch m {
	case ExactOrder:
		return "exact_order"
	case SupersetAnyOrder:
		return "superset_any_order"
	}
	return "unset"
}

// Required returns the ordered required columns for a variant.
func Required(v Variant) []string {
	cols := []string{EmployeeID, EmployeeName, Manager, StartDate, EndDate, NoOfHours}
	if v == VariantTyped {
		cols = append(cols, Type)
	}
	return cols
}

// Columns maps a required column name to its index in the header.
type Columns map[string]int

// Width is the smallest row length that holds every mapped column.
func (c Columns) Width() int {
	w := 0
	for _, i := range c {
		if i+1 > w {
			w = i + 1
		}
	}
	return w
}

// Validate checks header against required under mode and returns the
// resolved column positions. Matching is case-sensitive.
func Validate(header, required []string, mode Mode) (Columns, error) {
	switch mode {
	case ExactOrder:
		return exact(header, required)
	case SupersetAnyOrder:
		return superset(header, required)
	}
	return nil, fmt.Errorf("header mode not configured")
}

func exact(header, required []string) (Columns, error) {
	var misplaced []string
	for i, name := range required {
		if i >= len(header) || header[i] != name {
			misplaced = append(misplaced, name)
		}
	}
	if len(misplaced) > 0 || len(header) != len(required) {
		return nil, failure.New(failure.KindSchemaMismatch,
			"invalid header format: want %s, got %s (missing or misordered: %s)",
			strings.Join(required, ","), strings.Join(header, ","), strings.Join(misplaced, ","))
	}

	cols := make(Columns, len(required))
	for i, name := range required {
		cols[name] = i
	}
	return cols, nil
}

func superset(header, required []string) (Columns, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := index[name]; !dup {
			index[name] = i // first occurrence wins
		}
	}

	cols := make(Columns, len(required))
	var missing []string
	for _, name := range required {
		i, ok := index[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		cols[name] = i
	}
	if len(missing) > 0 {
		return nil, failure.New(failure.KindSchemaMismatch,
			"invalid header format: missing columns: %s", strings.Join(missing, ","))
	}
	return cols, nil
}
