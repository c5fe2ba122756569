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
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// durationToken matches "NdMh" tokens such as 2D4H, 1D or 6H. A bare
// number is read as hours.
var durationToken = regexp.MustCompile(`^(?:(\d+)[Dd])?\s*(?:(\d+)[Hh]?)?$`)

// MaxDurationHours bounds a parsed duration. Larger tokens are rejected
// rather than wrapped.
const MaxDurationHours = 1_000_000

// ParseDuration converts a composite day/hour token to total hours. An empty
// or unrecognised token yields zero, which the business rules reject as a
// duration mismatch. A token whose total exceeds MaxDurationHours is an error.
func ParseDuration(token string, hoursPerDay int) (int, error) {
	if hoursPerDay <= 0 {
		hoursPerDay = DefaultHoursPerDay
	}
	m := durationToken.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return 0, nil
	}

	total := 0
	if m[1] != "" {
		days, err := strconv.Atoi(m[1])
		if err != nil || days > MaxDurationHours/hoursPerDay {
			return 0, fmt.Errorf("day count in %q exceeds %d hours", token, MaxDurationHours)
		}
		total = days * hoursPerDay
	}
	if m[2] != "" {
		hours, err := strconv.Atoi(m[2])
		if err != nil || hours > MaxDurationHours-total {
			return 0, fmt.Errorf("hour count in %q exceeds %d hours", token, MaxDurationHours)
		}
		total += hours
	}
	return total, nil
}

// FormatDuration renders total hours as a composite token. It is the
// inverse of ParseDuration.
func FormatDuration(hours, hoursPerDay int) string {
	days, rem := hours/hoursPerDay, hours%hoursPerDay
	switch {
	case days == 0:
		return fmt.Sprintf("%dH", rem)
	case rem == 0:
		return fmt.Sprintf("%dD", days)
	}
	return fmt.Sprintf("%dD%dH", days, rem)
}
