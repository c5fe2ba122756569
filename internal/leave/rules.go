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
	"time"

	"github.com/bcem/leaveintake/internal/failure"
	"github.com/bcem/leaveintake/internal/schema"
)

// Rules holds the cross-field checks applied to every mapped record.
type Rules struct {
	HoursPerDay int
}

// Check validates r against the processing day. Rules run in a fixed order
// and the first violation is returned; r is never modified.
func (rl Rules) Check(r Record, today time.Time) error {
	hpd := rl.HoursPerDay
	if hpd <= 0 {
		hpd = DefaultHoursPerDay
	}

	year, month, _ := today.Date()
	if !sameMonth(r.StartDate, year, month) {
		return failure.Field(failure.KindDateRange, schema.StartDate,
			"%s is outside %d-%02d", r.StartDate.Format("2006-01-02"), year, month)
	}
	if !sameMonth(r.EndDate, year, month) {
		return failure.Field(failure.KindDateRange, schema.EndDate,
			"%s is outside %d-%02d", r.EndDate.Format("2006-01-02"), year, month)
	}

	if r.EndDate.Before(r.StartDate) {
		return failure.Field(failure.KindDateOrder, schema.EndDate,
			"%s is before start_date %s", r.EndDate.Format("2006-01-02"), r.StartDate.Format("2006-01-02"))
	}

	if r.DurationHours <= 0 {
		return failure.Field(failure.KindDurationMismatch, schema.NoOfHours,
			"duration must be greater than zero")
	}

	if r.DurationHours <= hpd && !r.StartDate.Equal(r.EndDate) {
		return failure.Field(failure.KindDurationMismatch, schema.NoOfHours,
			"%d hours must start and end on the same day", r.DurationHours)
	}

	if r.DurationHours > hpd && r.SpanDays() < 1 {
		return failure.Field(failure.KindDurationMismatch, schema.NoOfHours,
			"%d hours over a span of %d days", r.DurationHours, r.SpanDays())
	}

	return nil
}

func sameMonth(t time.Time, year int, month time.Month) bool {
	y, m, _ := t.Date()
	return y == year && m == month
}
