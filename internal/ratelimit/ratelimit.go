// Package ratelimit throttles synthesis submissions per client, matching the
// service's per-minute request budget.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request from key is allowed right now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// TokenBucket is a distributed limiter backed by Redis, for running several
// mock service instances against one budget. Capacity is the per-minute
// request allowance; tokens refill continuously at capacity/60 per second.
type TokenBucket struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewTokenBucket constructs a bucket allowing perMinute requests per key.
func NewTokenBucket(client *redis.Client, perMinute int) *TokenBucket {
	return &TokenBucket{
		client:   client,
		capacity: perMinute,
		refill:   float64(perMinute) / 60.0,
		ttl:      time.Hour,
	}
}

// Allow consumes a single token for the given key if 1 is available.
func (b *TokenBucket) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now().UnixMilli()
	res, err := bucketScript.Run(ctx, b.client, []string{key}, b.capacity, b.refill, now, b.ttl.Milliseconds()).Result()
	if err != nil {
		return false, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 1 {
		return false, nil
	}
	allowed, _ := arr[0].(int64)
	return allowed == 1, nil
}

var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(data[1])
local last = tonumber(data[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local delta = math.max(0, now - last)
local add = delta / 1000 * refill
tokens = math.min(capacity, tokens + add)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)

// SlidingWindow is the in-process fallback: a per-key list of request times
// inside the trailing minute, pruned on each call.
type SlidingWindow struct {
	mu        sync.Mutex
	perMinute int
	history   map[string][]time.Time
}

// NewSlidingWindow constructs an in-memory limiter allowing perMinute
// requests per key.
func NewSlidingWindow(perMinute int) *SlidingWindow {
	return &SlidingWindow{
		perMinute: perMinute,
		history:   make(map[string][]time.Time),
	}
}

// Allow records the request unless the trailing-minute budget is exhausted.
func (w *SlidingWindow) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	cutoff := now.Add(-time.Minute)

	w.mu.Lock()
	defer w.mu.Unlock()

	kept := w.history[key][:0]
	for _, ts := range w.history[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= w.perMinute {
		w.history[key] = kept
		return false, nil
	}
	w.history[key] = append(kept, now)
	return true, nil
}
