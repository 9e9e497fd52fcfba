package ratelimiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Scope partitions sliding-window counters by the identity they track.
type Scope string

const (
	ScopeIP          Scope = "ip"
	ScopeFingerprint Scope = "fp"
	ScopeSite        Scope = "site"
)

// SlidingWindow counts events per (scope, identifier) over a trailing window
// using a Redis sorted set. The whole check-and-record step runs as one Lua
// script so concurrent requests for the same key cannot lose updates.
type SlidingWindow struct {
	client      *redis.Client
	allowScript *redis.Script
	countScript *redis.Script
}

const allowLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
local count = redis.call("ZCARD", key)

redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window)

if count >= limit then
    return {0, count + 1}
end
return {1, count + 1}
`

const countLua = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call("ZREMRANGEBYSCORE", key, 0, now - window)
return redis.call("ZCARD", key)
`

func New(client *redis.Client) *SlidingWindow {
	return &SlidingWindow{
		client:      client,
		allowScript: redis.NewScript(allowLua),
		countScript: redis.NewScript(countLua),
	}
}

// NewFromAddr dials Redis directly; used by main wiring.
func NewFromAddr(addr, password string, db int) *SlidingWindow {
	return New(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

func key(scope Scope, identifier string) string {
	return fmt.Sprintf("rate:%s:%s", scope, identifier)
}

// Allow records one event and reports whether the key stayed within limit
// for the window. Every event is recorded, allowed or not, so sustained
// flooding keeps the window saturated. Returns the post-increment count.
func (w *SlidingWindow) Allow(ctx context.Context, scope Scope, identifier string, limit int, window time.Duration) (bool, int, error) {
	now := time.Now().UnixMilli()
	member := strconv.FormatInt(now, 10) + ":" + strconv.FormatInt(time.Now().UnixNano(), 10)
	res, err := w.allowScript.Run(ctx, w.client,
		[]string{key(scope, identifier)},
		now, window.Milliseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return false, 0, err
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("ratelimiter: unexpected script reply %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}

// Count returns the current event count for a key without recording one.
func (w *SlidingWindow) Count(ctx context.Context, scope Scope, identifier string, window time.Duration) (int, error) {
	now := time.Now().UnixMilli()
	n, err := w.countScript.Run(ctx, w.client,
		[]string{key(scope, identifier)},
		now, window.Milliseconds(),
	).Int()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Reset clears the window for a key.
func (w *SlidingWindow) Reset(ctx context.Context, scope Scope, identifier string) error {
	return w.client.Del(ctx, key(scope, identifier)).Err()
}

func (w *SlidingWindow) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

func (w *SlidingWindow) Close() error {
	return w.client.Close()
}
