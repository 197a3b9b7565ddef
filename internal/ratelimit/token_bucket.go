// Package ratelimit meters API requests with per-subject token buckets kept in redis,
// so every API replica draws from the same budget.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "imagekit:ratelimit"

var ErrCostExceedsCapacity = errors.New("cost exceeds bucket capacity")

type Config struct {
	// Capacity is both the burst size and the number of tokens refilled per Window.
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// takeTokens refills the bucket for the elapsed time, then takes ARGV[4] tokens if
// enough are present. Returns {allowed, floor(remaining), retry_after_ms}.
var takeTokens = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local per_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
tokens = math.min(capacity, tokens + math.max(0, now - at) * per_ms)

local allowed, wait = 0, 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  wait = math.ceil((cost - tokens) / per_ms)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "at", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {allowed, math.floor(tokens), wait}
`)

type Bucket struct {
	client   redis.UniversalClient
	capacity int64
	perMS    float64
	ttl      time.Duration
	prefix   string
	now      func() time.Time
}

func New(client redis.UniversalClient, cfg Config) (*Bucket, error) {
	switch {
	case client == nil:
		return nil, errors.New("ratelimit: redis client is required")
	case cfg.Capacity <= 0:
		return nil, fmt.Errorf("ratelimit: capacity must be positive, got %d", cfg.Capacity)
	case cfg.Window <= 0:
		return nil, fmt.Errorf("ratelimit: window must be positive, got %s", cfg.Window)
	}

	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Bucket{
		client:   client,
		capacity: int64(cfg.Capacity),
		perMS:    float64(cfg.Capacity) / float64(max(1, cfg.Window.Milliseconds())),
		ttl:      2 * cfg.Window,
		prefix:   prefix,
		now:      time.Now,
	}, nil
}

func (b *Bucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return b.AllowN(ctx, subject, 1)
}

// AllowN takes cost tokens in one step. Costs above capacity can never succeed and are rejected.
func (b *Bucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	cost = max(1, cost)
	if int64(cost) > b.capacity {
		return Decision{}, fmt.Errorf("%w: cost=%d capacity=%d", ErrCostExceedsCapacity, cost, b.capacity)
	}

	out, err := takeTokens.Run(ctx, b.client,
		[]string{b.key(subject)},
		b.capacity, b.perMS, b.now().UTC().UnixMilli(), cost, b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: take tokens: %w", err)
	}
	if len(out) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: script returned %d values", len(out))
	}
	return Decision{
		Allowed:    out[0] == 1,
		Remaining:  out[1],
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}

func (b *Bucket) key(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}
	return b.prefix + ":" + subject
}
