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
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces quota counters in Redis.
const redisKeyPrefix = "leave:quota:"

// expirySlack keeps a counter around briefly after its month ends so late
// reads near midnight still see it.
const expirySlack = 24 * time.Hour

// consumeScript increments KEYS[1] only while it is below ARGV[1] and pins
// its expiry to ARGV[2] (unix millis) on first use. Redis runs scripts
// atomically, so the check and the increment cannot interleave.
var consumeScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= tonumber(ARGV[1]) then
	return {n, 0}
end
n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIREAT', KEYS[1], ARGV[2])
end
return {n, 1}
`)

// releaseScript decrements KEYS[1] while it is above zero.
var releaseScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n <= 0 then
	return 0
end
return redis.call('DECR', KEYS[1])
`)

// RedisStore keeps counters in Redis with a TTL at the end of each month.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore creates a quota store backed by Redis.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func redisKey(b Bucket) string {
	return redisKeyPrefix + b.Key()
}

// Count implements Store.
func (s *RedisStore) Count(ctx context.Context, b Bucket) (int, error) {
	n, err := s.rdb.Get(ctx, redisKey(b)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis GET: %w", err)
	}
	return n, nil
}

// TryConsume implements Store.
func (s *RedisStore) TryConsume(ctx context.Context, b Bucket, limit int) (int, bool, error) {
	expireAt := b.End().Add(expirySlack).UnixMilli()

	res, err := consumeScript.Run(ctx, s.rdb, []string{redisKey(b)}, limit, expireAt).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis quota script: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis quota script: unexpected reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}

// Release implements Store. The key keeps its month-end expiry.
func (s *RedisStore) Release(ctx context.Context, b Bucket) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{redisKey(b)}).Err(); err != nil {
		return fmt.Errorf("redis quota release: %w", err)
	}
	return nil
}
