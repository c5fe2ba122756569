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

// Package quota limits how many leave submissions a sender may make per
// calendar month, and only during the closing days of that month.
//
// Counters live behind the Store interface. MemoryStore is process-local;
// RedisStore and PostgresStore survive restarts and are shared between
// service replicas.
package quota

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bcem/leaveintake/internal/failure"
)

const (
	// DefaultLimit is the number of accepted submissions per sender per month.
	DefaultLimit = 4

	// DefaultWindowDays is how many days at the end of each month accept
	// submissions.
	DefaultWindowDays = 10
)

// Bucket identifies one sender's counter for one calendar month.
type Bucket struct {
	Sender string
	Year   int
	Month  time.Month
}

// BucketFor returns the bucket of sender for the month containing day.
func BucketFor(sender string, day time.Time) Bucket {
	y, m, _ := day.Date()
	return Bucket{Sender: strings.ToLower(strings.TrimSpace(sender)), Year: y, Month: m}
}

// Key is the bucket's stable string form, sender-year-month.
func (b Bucket) Key() string {
	return fmt.Sprintf("%s-%d-%d", b.Sender, b.Year, int(b.Month))
}

// End is the first instant after the bucket's month.
func (b Bucket) End() time.Time {
	return time.Date(b.Year, b.Month+1, 1, 0, 0, 0, 0, time.UTC)
}

// Store holds submission counters. Implementations must make TryConsume
// atomic per bucket: concurrent callers never push a counter past limit.
type Store interface {
	// Count returns the current value of a bucket, zero if unseen.
	Count(ctx context.Context, b Bucket) (int, error)

	// TryConsume increments the bucket if it is below limit. It returns the
	// resulting count and whether the increment happened.
	TryConsume(ctx context.Context, b Bucket, limit int) (int, bool, error)

	// Release gives back one unit of a bucket. It never goes below zero.
	Release(ctx context.Context, b Bucket) error
}

// Tracker applies the submission window and the monthly limit.
type Tracker struct {
	store      Store
	limit      int
	windowDays int
}

// NewTracker creates a tracker over store. Non-positive limit or windowDays
// fall back to the defaults.
func NewTracker(store Store, limit, windowDays int) *Tracker {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	return &Tracker{store: store, limit: limit, windowDays: windowDays}
}

// Limit returns the monthly submission limit.
func (t *Tracker) Limit() int { return t.limit }

// WindowOpens returns the first day of day's month that accepts submissions.
func (t *Tracker) WindowOpens(day time.Time) int {
	y, m, _ := day.Date()
	last := time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
	first := last - t.windowDays + 1
	if first < 1 {
		first = 1
	}
	return first
}

// InWindow reports whether day falls within the last windowDays of its month.
func (t *Tracker) InWindow(day time.Time) bool {
	return day.Day() >= t.WindowOpens(day)
}

// Check rejects a submission that is outside the window or whose sender has
// already used the monthly limit. It does not consume quota.
func (t *Tracker) Check(ctx context.Context, sender string, day time.Time) error {
	if err := t.checkWindow(day); err != nil {
		return err
	}

	b := BucketFor(sender, day)
	n, err := t.store.Count(ctx, b)
	if err != nil {
		return fmt.Errorf("quota count %s: %w", b.Key(), err)
	}
	if n >= t.limit {
		return t.exceeded(b, n)
	}
	return nil
}

// Consume charges one submission to the sender. Call it only after the
// submission has passed every other validation.
func (t *Tracker) Consume(ctx context.Context, sender string, day time.Time) (int, error) {
	if err := t.checkWindow(day); err != nil {
		return 0, err
	}

	b := BucketFor(sender, day)
	n, ok, err := t.store.TryConsume(ctx, b, t.limit)
	if err != nil {
		return 0, fmt.Errorf("quota consume %s: %w", b.Key(), err)
	}
	if !ok {
		return n, t.exceeded(b, n)
	}
	return n, nil
}

// Release refunds one submission charged by Consume, for a submission that
// was accepted but could not be delivered.
func (t *Tracker) Release(ctx context.Context, sender string, day time.Time) error {
	b := BucketFor(sender, day)
	if err := t.store.Release(ctx, b); err != nil {
		return fmt.Errorf("quota release %s: %w", b.Key(), err)
	}
	return nil
}

func (t *Tracker) checkWindow(day time.Time) error {
	if t.InWindow(day) {
		return nil
	}
	return failure.New(failure.KindSubmissionWindow,
		"%s is outside the submission window, which opens on day %d of the month",
		day.Format("2006-01-02"), t.WindowOpens(day))
}

func (t *Tracker) exceeded(b Bucket, n int) error {
	return failure.New(failure.KindQuotaExceeded,
		"%s has used %d of %d submissions for %d-%02d", b.Sender, n, t.limit, b.Year, int(b.Month))
}
