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
)

// MemoryStore keeps counters in process memory. Counts are lost on restart.
// Each bucket is an independent atomic counter.
type MemoryStore struct {
	buckets sync.Map // key -> *atomic.Int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) counter(b Bucket) *atomic.Int64 {
	v, _ := m.buckets.LoadOrStore(b.Key(), new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Count implements Store.
func (m *MemoryStore) Count(_ context.Context, b Bucket) (int, error) {
	v, ok := m.buckets.Load(b.Key())
	if !ok {
		return 0, nil
	}
	return int(v.(*atomic.Int64).Load()), nil
}

// TryConsume implements Store with a compare-and-swap loop.
func (m *MemoryStore) TryConsume(_ context.Context, b Bucket, limit int) (int, bool, error) {
	c := m.counter(b)
	for {
		cur := c.Load()
		if cur >= int64(limit) {
			return int(cur), false, nil
		}
		if c.CompareAndSwap(cur, cur+1) {
			return int(cur + 1), true, nil
		}
	}
}

// Release implements Store.
func (m *MemoryStore) Release(_ context.Context, b Bucket) error {
	v, ok := m.buckets.Load(b.Key())
	if !ok {
		return nil
	}
	c := v.(*atomic.Int64)
	for {
		cur := c.Load()
		if cur <= 0 || c.CompareAndSwap(cur, cur-1) {
			return nil
		}
	}
}

// Reset forgets every counter.
func (m *MemoryStore) Reset() {
	m.buckets.Range(func(k, _ any) bool {
		m.buckets.Delete(k)
		return true
	})
}
