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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newRedisStore starts an in-process Redis whose clock reads now.
func newRedisStore(t *testing.T, now time.Time) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(now)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisStore(rdb), mr
}

// TestRedisStore_TryConsume verifies the limit reply once the bucket is full.
func TestRedisStore_TryConsume(t *testing.T) {
	now := day(2024, 6, 25)
	s, _ := newRedisStore(t, now)
	ctx := context.Background()
	b := BucketFor("jane@example.com", now)

	for i := 1; i <= 4; i++ {
		n, ok, err := s.TryConsume(ctx, b, 4)
		if err != nil || !ok || n != i {
			t.Fatalf("consume %d = %d, %v, %v", i, n, ok, err)
		}
	}

	n, ok, err := s.TryConsume(ctx, b, 4)
	if err != nil {
		t.Fatalf("5th consume: %v", err)
	}
	if ok || n != 4 {
		t.Errorf("5th consume = %d, %v, want 4, false", n, ok)
	}
	if got, err := s.Count(ctx, b); err != nil || got != 4 {
		t.Errorf("Count = %d, %v, want 4", got, err)
	}
}

// TestRedisStore_Count verifies an untouched bucket reads as zero and buckets
// are keyed per sender and month.
func TestRedisStore_Count(t *testing.T) {
	now := day(2024, 6, 25)
	s, _ := newRedisStore(t, now)
	ctx := context.Background()

	june := BucketFor("jane@example.com", now)
	if n, err := s.Count(ctx, june); err != nil || n != 0 {
		t.Fatalf("Count(empty) = %d, %v", n, err)
	}
	if _, _, err := s.TryConsume(ctx, june, 4); err != nil {
		t.Fatal(err)
	}

	others := []Bucket{
		BucketFor("sam@example.com", now),
		BucketFor("jane@example.com", day(2024, 7, 2)),
	}
	for _, b := range others {
		if n, _ := s.Count(ctx, b); n != 0 {
			t.Errorf("Count(%s) = %d, want 0", b.Key(), n)
		}
	}
}

// TestRedisStore_Expiry verifies the counter expires a day after month end.
func TestRedisStore_Expiry(t *testing.T) {
	now := day(2024, 6, 25)
	s, mr := newRedisStore(t, now)
	b := BucketFor("jane@example.com", now)

	if _, _, err := s.TryConsume(context.Background(), b, 4); err != nil {
		t.Fatal(err)
	}
	key := redisKey(b)
	want := b.End().Add(expirySlack).Sub(now)
	if got := mr.TTL(key); got != want {
		t.Errorf("TTL = %v, want %v", got, want)
	}

	// A later increment keeps the first expiry.
	mr.SetTime(now.Add(time.Hour))
	if _, _, err := s.TryConsume(context.Background(), b, 4); err != nil {
		t.Fatal(err)
	}
	if got := mr.TTL(key); got != want {
		t.Errorf("TTL after second consume = %v, want %v", got, want)
	}

	mr.FastForward(want + time.Second)
	if mr.Exists(key) {
		t.Error("counter still present after expiry")
	}
}

// TestRedisStore_Release verifies a refund keeps the expiry and stops at
// zero.
func TestRedisStore_Release(t *testing.T) {
	now := day(2024, 6, 25)
	s, mr := newRedisStore(t, now)
	ctx := context.Background()
	b := BucketFor("jane@example.com", now)

	if err := s.Release(ctx, b); err != nil {
		t.Fatalf("Release(unseen): %v", err)
	}
	if mr.Exists(redisKey(b)) {
		t.Error("release created a counter")
	}

	s.TryConsume(ctx, b, 4)
	s.TryConsume(ctx, b, 4)
	ttl := mr.TTL(redisKey(b))

	for _, want := range []int{1, 0, 0} {
		if err := s.Release(ctx, b); err != nil {
			t.Fatal(err)
		}
		if n, _ := s.Count(ctx, b); n != want {
			t.Errorf("count = %d, want %d", n, want)
		}
	}
	if got := mr.TTL(redisKey(b)); got != ttl {
		t.Errorf("TTL = %v after release, want %v", got, ttl)
	}
}

// TestRedisStore_Concurrent verifies concurrent consumers never exceed the
// limit.
func TestRedisStore_Concurrent(t *testing.T) {
	now := day(2024, 6, 25)
	s, _ := newRedisStore(t, now)
	b := BucketFor("busy@example.com", now)

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.TryConsume(context.Background(), b, 4)
			if err != nil {
				t.Errorf("TryConsume: %v", err)
				return
			}
			if ok {
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

// TestRedisStore_Tracker verifies the tracker rejects the fifth submission
// through the Redis backend.
func TestRedisStore_Tracker(t *testing.T) {
	now := day(2024, 6, 25)
	s, _ := newRedisStore(t, now)
	tr := NewTracker(s, 4, 10)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := tr.Consume(ctx, "jane@example.com", now); err != nil {
			t.Fatalf("consume %d: %v", i+1, err)
		}
	}
	if err := tr.Check(ctx, "jane@example.com", now); err == nil {
		t.Error("expected quota exceeded on check")
	}
	if _, err := tr.Consume(ctx, "jane@example.com", now); err == nil {
		t.Error("expected quota exceeded on consume")
	}
}
