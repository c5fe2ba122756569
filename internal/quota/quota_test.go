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

package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bcem/leaveintake/internal/failure"
)

// failingStore implements Store and always errors.
type failingStore struct{}

func (failingStore) Count(context.Context, Bucket) (int, error) {
	return 0, errors.New("connection refused")
}

func (failingStore) TryConsume(context.Context, Bucket, int) (int, bool, error) {
	return 0, false, errors.New("connection refused")
}

func (failingStore) Release(context.Context, Bucket) error {
	return errors.New("connection refused")
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

// TestBucket_Key verifies the sender-year-month key.
func TestBucket_Key(t *testing.T) {
	b := BucketFor(" Jane@Example.com ", day(2024, 6, 25))
	if got := b.Key(); got != "jane@example.com-2024-6" {
		t.Errorf("Key = %q", got)
	}
	if got := b.End(); !got.Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("End = %v", got)
	}
}

// TestTracker_Window verifies the last-N-days submission window.
func TestTracker_Window(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 4, 10)

	tests := []struct {
		day  time.Time
		want bool
	}{
		{day(2024, 6, 20), false},
		{day(2024, 6, 21), true},
		{day(2024, 6, 30), true},
		{day(2024, 2, 19), false},
		{day(2024, 2, 20), true}, // leap year: 29 days
		{day(2024, 1, 22), true},
		{day(2024, 1, 1), false},
	}
	for _, tt := range tests {
		if got := tr.InWindow(tt.day); got != tt.want {
			t.Errorf("InWindow(%s) = %v, want %v", tt.day.Format("2006-01-02"), got, tt.want)
		}
	}

	err := tr.Check(context.Background(), "a@example.com", day(2024, 6, 5))
	if !errors.Is(err, failure.ErrSubmissionWindow) {
		t.Errorf("Check outside window = %v, want submission window error", err)
	}
	if _, err := tr.Consume(context.Background(), "a@example.com", day(2024, 6, 5)); !errors.Is(err, failure.ErrSubmissionWindow) {
		t.Errorf("Consume outside window = %v, want submission window error", err)
	}
}

// TestTracker_MonthlyLimit verifies the fifth submission is rejected and the
// next month starts over.
func TestTracker_MonthlyLimit(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(NewMemoryStore(), 4, 10)
	june := day(2024, 6, 25)

	for i := 1; i <= 4; i++ {
		if err := tr.Check(ctx, "jane@example.com", june); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		n, err := tr.Consume(ctx, "jane@example.com", june)
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if n != i {
			t.Errorf("count after consume %d = %d", i, n)
		}
	}

	if err := tr.Check(ctx, "jane@example.com", june); !errors.Is(err, failure.ErrQuotaExceeded) {
		t.Errorf("5th check = %v, want quota exceeded", err)
	}
	if _, err := tr.Consume(ctx, "JANE@example.com", june); !errors.Is(err, failure.ErrQuotaExceeded) {
		t.Errorf("5th consume = %v, want quota exceeded", err)
	}

	// Another sender is unaffected.
	if _, err := tr.Consume(ctx, "bob@example.com", june); err != nil {
		t.Errorf("other sender: %v", err)
	}

	n, err := tr.Consume(ctx, "jane@example.com", day(2024, 7, 28))
	if err != nil {
		t.Fatalf("next month: %v", err)
	}
	if n != 1 {
		t.Errorf("next month count = %d, want 1", n)
	}
}

// TestTracker_Defaults verifies non-positive settings fall back to defaults.
func TestTracker_Defaults(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 0, -1)
	if tr.Limit() != DefaultLimit {
		t.Errorf("limit = %d, want %d", tr.Limit(), DefaultLimit)
	}
	if tr.windowDays != DefaultWindowDays {
		t.Errorf("windowDays = %d, want %d", tr.windowDays, DefaultWindowDays)
	}
}

// TestTracker_StoreErrors verifies infrastructure errors are not reported as
// rejections.
func TestTracker_StoreErrors(t *testing.T) {
	tr := NewTracker(failingStore{}, 4, 10)
	err := tr.Check(context.Background(), "a@example.com", day(2024, 6, 25))
	if err == nil {
		t.Fatal("expected error")
	}
	if failure.KindOf(err) != failure.KindUnknown {
		t.Errorf("kind = %v, want unknown", failure.KindOf(err))
	}
}

// TestMemoryStore_Concurrent verifies concurrent consumers never exceed the
// limit and never lose increments.
func TestMemoryStore_Concurrent(t *testing.T) {
	s := NewMemoryStore()
	b := BucketFor("busy@example.com", day(2024, 6, 25))

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok, _ := s.TryConsume(context.Background(), b, 4); ok {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 4 {
		t.Errorf("accepted = %d, want 4", accepted.Load())
	}
	if n, _ := s.Count(context.Background(), b); n != 4 {
		t.Errorf("count = %d, want 4", n)
	}
}

// TestMemoryStore_Reset verifies Reset clears every bucket.
func TestMemoryStore_Reset(t *testing.T) {
	s := NewMemoryStore()
	b := BucketFor("a@example.com", day(2024, 6, 25))
	s.TryConsume(context.Background(), b, 4)
	s.Reset()
	if n, _ := s.Count(context.Background(), b); n != 0 {
		t.Errorf("count after reset = %d, want 0", n)
	}
}

// TestMemoryStore_Release verifies a refund never drops below zero.
func TestMemoryStore_Release(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	b := BucketFor("a@example.com", day(2024, 6, 25))

	if err := s.Release(ctx, b); err != nil {
		t.Fatalf("Release(unseen): %v", err)
	}
	s.TryConsume(ctx, b, 4)
	s.TryConsume(ctx, b, 4)

	for _, want := range []int{1, 0, 0} {
		if err := s.Release(ctx, b); err != nil {
			t.Fatal(err)
		}
		if n, _ := s.Count(ctx, b); n != want {
			t.Errorf("count = %d, want %d", n, want)
		}
	}
}

// TestTracker_ReleaseReopensQuota verifies a refunded unit can be consumed
// again once the limit was reached.
func TestTracker_ReleaseReopensQuota(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), 1, 10)
	ctx := context.Background()
	now := day(2024, 6, 25)

	if _, err := tr.Consume(ctx, "a@example.com", now); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Consume(ctx, "a@example.com", now); !errors.Is(err, failure.ErrQuotaExceeded) {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
	if err := tr.Release(ctx, "a@example.com", now); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Consume(ctx, "a@example.com", now); err != nil {
		t.Errorf("consume after release: %v", err)
	}
}
