// Package backplane is the minimal external pub/sub + key/value contract
// the rest of the server depends on (§4.A). Two implementations are
// provided: a Redis-backed one for a real multi-instance deployment, and an
// in-process one for local development and tests. Callers depend only on
// the Backplane interface, never on a concrete client.
package backplane

import (
	"context"
	"time"
)

// Backplane is the contract every room-fabric component is built on.
// Writes on an unreachable backplane are best-effort no-ops; reads return
// empty results. Connected reports the last-observed reachability so
// higher layers can log degraded operation without failing requests.
type Backplane interface {
	Connected() bool

	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	ListPushFrontTrim(ctx context.Context, key string, item []byte, maxLen int) error
	ListRange(ctx context.Context, key string, start, stop int64) ([][]byte, error)

	SetAdd(ctx context.Context, key, member string) error
	SetRemove(ctx context.Context, key, member string) error
	SetMembers(ctx context.Context, key string) ([]string, error)
	SetCard(ctx context.Context, key string) (int64, error)

	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, key string) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// Subscription yields payloads published on one channel. Close cancels
// delivery; it is always safe to call more than once.
type Subscription interface {
	Channel() <-chan []byte
	Close() error
}

// AtomicRateLimiter is an optional capability: a backplane that can run the
// token-bucket read-modify-write as a single atomic operation (e.g. a Redis
// Lua script) implements this. The room store prefers it when available
// (§4.B, §9 open question on rate-limit atomicity) and falls back to a
// non-atomic read/then/write otherwise.
type AtomicRateLimiter interface {
	// TakeToken applies one step of the token-bucket algorithm for key at
	// time now (unix seconds) with the given capacity and refill rate
	// (tokens per second), atomically. It returns whether the request is
	// allowed and the token count left in the bucket afterwards; the bucket
	// is stored under key with the given ttl.
	TakeToken(ctx context.Context, key string, now int64, capacity, refillPerSec float64, ttl time.Duration) (allowed bool, tokensLeft float64, err error)
}
