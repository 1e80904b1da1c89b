// Package ratelimit provides an atomic, multi-window admission control
// limiter backed by Redis. All windows are checked and updated in a single
// Lua script invocation so a request is either admitted under every window
// or denied outright — there is no partial credit.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Errors returned by Limiter.Acquire.
var (
	ErrBackend = errors.New("rate limiter backend error")
)

// Window describes one rolling-window budget: at most Limit admitted
// requests in any trailing Duration.
type Window struct {
	Name     string
	Limit    int64
	Duration time.Duration
}

// Limiter grants or denies admission under a set of rolling windows.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// script implements the atomic decision described in the multi-window
// admission algorithm: prune each window's sorted set, deny if any window
// is at capacity, otherwise admit by adding the request to every window
// with an expiry derived from the window's own duration.
const script = `
local now = redis.call('TIME')
local now_ms = tonumber(now[1]) * 1000 + math.floor(tonumber(now[2]) / 1000)

local n = #KEYS
for i = 1, n do
	local dur_ms = tonumber(ARGV[i])
	redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', '(' .. (now_ms - dur_ms))
end

for i = 1, n do
	local limit = tonumber(ARGV[n + i])
	if redis.call('ZCARD', KEYS[i]) >= limit then
		return 0
	end
end

local member = ARGV[2 * n + 1]
for i = 1, n do
	local dur_ms = tonumber(ARGV[i])
	redis.call('ZADD', KEYS[i], now_ms, member)
	redis.call('PEXPIRE', KEYS[i], dur_ms + 1000)
end
return 1
`

// RedisLimiter is the reference Limiter implementation. Default windows
// match the historical-data provider's published rate-limit regime: a
// long window (60 req / 600s), a per-contract window (6 req / 2s), and a
// duplicate-request window (1 req / 15s).
type RedisLimiter struct {
	rdb     *redis.Client
	account string
	windows []Window

	retryInterval time.Duration
}

// DefaultAccountID is the rate-limit namespace used when no account is
// configured.
const DefaultAccountID = "U12345"

// DefaultWindows returns the historical-data provider's published
// rate-limit regime.
func DefaultWindows() []Window {
	return []Window{
		{Name: "long", Limit: 60, Duration: 600 * time.Second},
		{Name: "contract", Limit: 6, Duration: 2 * time.Second},
		{Name: "duplicate", Limit: 1, Duration: 15 * time.Second},
	}
}

// NewRedisLimiter constructs a RedisLimiter scoped to account, enforcing
// windows simultaneously against shared Redis state.
func NewRedisLimiter(rdb *redis.Client, account string, windows []Window) *RedisLimiter {
	return &RedisLimiter{
		rdb:           rdb,
		account:       account,
		windows:       windows,
		retryInterval: 200 * time.Millisecond,
	}
}

var _ Limiter = (*RedisLimiter)(nil)

func (l *RedisLimiter) keys() []string {
	keys := make([]string, len(l.windows))
	for i, w := range l.windows {
		keys[i] = fmt.Sprintf("rate_limit:ib:historical:%s:%ds", l.account, int64(w.Duration.Seconds()))
	}
	return keys
}

// Acquire blocks until admission is granted under every configured window,
// the context is cancelled, or the backend fails.
func (l *RedisLimiter) Acquire(ctx context.Context) error {
	keys := l.keys()
	argv := make([]interface{}, 0, 2*len(l.windows)+1)
	for _, w := range l.windows {
		argv = append(argv, w.Duration.Milliseconds())
	}
	for _, w := range l.windows {
		argv = append(argv, w.Limit)
	}

	for {
		requestID := uuid.NewString()
		args := append(append([]interface{}{}, argv...), requestID)

		res, err := l.rdb.Eval(ctx, script, keys, args...).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackend, err)
		}

		admitted, ok := res.(int64)
		if !ok {
			return fmt.Errorf("%w: unexpected script result %T", ErrBackend, res)
		}
		if admitted == 1 {
			return nil
		}

		jitter := time.Duration(rand.Int63n(int64(l.retryInterval)))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval + jitter/2):
		}
	}
}
