// Package usage tracks per-identity consumption against tier quotas.
//
// Counting uses fixed windows keyed in Redis so enforcement stays correct
// across any number of request-handling processes. The check-and-increment
// runs as a single Lua script, which is Redis's serialization point: two
// concurrent calls can never both be admitted for the last unit of quota,
// and a denied call never increments the counter.
package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tierguard/tierguard/pkg/tiers"
)

// ErrUnavailable indicates the usage store could not be reached or timed
// out. Enforcement fails closed on it; quota is a security control.
var ErrUnavailable = errors.New("usage store unavailable")

// IsUnavailable checks if an error is a store-availability failure
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// Decision is the outcome of a checked call
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is the time until the current window expires
	RetryAfter time.Duration
}

// Accountant tests and increments windowed usage counters
type Accountant interface {
	// CheckAndIncrement admits the call and consumes one unit of quota,
	// or denies it without consuming anything.
	CheckAndIncrement(ctx context.Context, identityID string, limit *tiers.Limit) (*Decision, error)
	// Peek reports remaining quota in the current window without
	// consuming any.
	Peek(ctx context.Context, identityID string, limit *tiers.Limit) (*Decision, error)
}

// checkAndIncrScript admits and increments atomically. The counter is only
// incremented when one more unit fits under the ceiling, and the key
// expires with its window so rolled-over windows start from zero.
var checkAndIncrScript = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
local max = tonumber(ARGV[1])
if count + 1 > max then
	return {0, 0}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return {1, max - count}
`)

// RedisAccountant implements Accountant over a shared Redis instance
type RedisAccountant struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisAccountant creates a Redis-backed accountant
func NewRedisAccountant(client *redis.Client, prefix string) *RedisAccountant {
	if prefix == "" {
		prefix = "usage"
	}
	return &RedisAccountant{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

// CheckAndIncrement implements Accountant
func (a *RedisAccountant) CheckAndIncrement(ctx context.Context, identityID string, limit *tiers.Limit) (*Decision, error) {
	key, retryAfter := a.windowKey(identityID, limit)
	windowSeconds := int(limit.WindowDuration / time.Second)

	res, err := checkAndIncrScript.Run(ctx, a.client, []string{key},
		limit.MaxRequestsPerWindow, windowSeconds).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return nil, fmt.Errorf("%w: unexpected script result %v", ErrUnavailable, res)
	}
	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)

	return &Decision{
		Allowed:    allowed == 1,
		Remaining:  int(remaining),
		RetryAfter: retryAfter,
	}, nil
}

// Peek implements Accountant
func (a *RedisAccountant) Peek(ctx context.Context, identityID string, limit *tiers.Limit) (*Decision, error) {
	key, retryAfter := a.windowKey(identityID, limit)

	count, err := a.client.Get(ctx, key).Int()
	if err == redis.Nil {
		count = 0
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	remaining := limit.MaxRequestsPerWindow - count
	if remaining < 0 {
		remaining = 0
	}
	return &Decision{
		Allowed:    remaining > 0,
		Remaining:  remaining,
		RetryAfter: retryAfter,
	}, nil
}

// windowKey derives the fixed-window key for the identity and the time
// left until that window ends
func (a *RedisAccountant) windowKey(identityID string, limit *tiers.Limit) (string, time.Duration) {
	windowSeconds := int64(limit.WindowDuration / time.Second)
	if windowSeconds <= 0 {
		windowSeconds = 1
	}
	now := a.now().Unix()
	window := now / windowSeconds
	retryAfter := time.Duration((window+1)*windowSeconds-now) * time.Second
	return fmt.Sprintf("%s:%s:%d", a.prefix, identityID, window), retryAfter
}
