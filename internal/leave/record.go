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

// Package leave turns validated attachment rows into leave records and
// enforces the cross-field rules a request must satisfy.
package leave

import (
	"strings"
	"time"
)

// DefaultHoursPerDay is the length of one leave day in hours.
const DefaultHoursPerDay = 8

// Record is one leave request taken from an attachment row.
type Record struct {
	EmployeeID    int
	EmployeeName  string
	FirstName     string
	LastName      string
	Manager       string
	StartDate     time.Time // UTC midnight
	EndDate       time.Time // UTC midnight
	DurationHours int
	Type          string
}

// SpanDays is the inclusive number of calendar days between start and end.
func (r Record) SpanDays() int {
	return int(r.EndDate.Sub(r.StartDate).Hours()/24) + 1
}

// SplitName returns the first token and, when there is more than one
// token, the last one.
func SplitName(full string) (first, last string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], parts[len(parts)-1]
}
