// Package ratelimit paces job submissions per client so one caller cannot
// flood the work queue (and, indirectly, the upstream media site).
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// SubmissionLimiter is a token bucket per client key, kept in Redis so the
// pacing survives service restarts and is shared across replicas.
type SubmissionLimiter struct {
	client   *redis.Client
	capacity int
	refill   float64 // tokens per second
	ttl      time.Duration
}

// NewSubmissionLimiter constructs a limiter with the given burst capacity
// and refill rate.
func NewSubmissionLimiter(client *redis.Client, capacity int, refillPerSecond float64, ttl time.Duration) *SubmissionLimiter {
	return &SubmissionLimiter{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
	}
}

// Allow consumes one token for the client if available. It returns whether
// the submission may proceed and the remaining token count.
func (l *SubmissionLimiter) Allow(ctx context.Context, clientKey string) (bool, float64, error) {
	now := time.Now().UnixMilli()
	res, err := refillScript.Run(ctx, l.client, []string{"submit:" + clientKey},
		l.capacity, l.refill, now, l.ttl.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}
	arr, ok := res.([]interface{})
	if !ok || len(arr) < 2 {
		return false, 0, err
	}
	allowed := arr[0].(int64) == 1
	var tokens float64
	switch v := arr[1].(type) {
	case int64:
		tokens = float64(v)
	case float64:
		tokens = v
	}
	return allowed, tokens, nil
}

// refillScript lazily refills the bucket from the elapsed time, then takes
// one token if any remain. Runs atomically inside Redis.
var refillScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2]) -- tokens per second
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'last_ms')
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then tokens = capacity end
if last == nil then last = now end

local elapsed = math.max(0, now - last)
tokens = math.min(capacity, tokens + elapsed / 1000 * refill)

local allowed = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
end

redis.call('HMSET', key, 'tokens', tokens, 'last_ms', now)
if ttl > 0 then redis.call('PEXPIRE', key, ttl) end
return {allowed, tokens}
`)
