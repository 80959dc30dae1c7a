// Package roomstore implements room-scoped state on top of a backplane:
// bounded message history, presence, typing indicators, and per-user rate
// limiting (§4.B). It holds no in-process state of its own beyond the
// backplane handle, so any number of server instances can share one store.
package roomstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agora/server/internal/backplane"
	"agora/server/internal/protocol"
)

const (
	// HistoryMaxLen is the maximum number of messages retained per room.
	HistoryMaxLen = 50
	// HistoryTTL bounds how long a room's history key survives without
	// activity; each append refreshes it.
	HistoryTTL = 24 * time.Hour
	// PresenceTTL bounds how long a presence entry survives without a
	// heartbeat re-join.
	PresenceTTL = time.Hour
	// TypingTTL bounds how long a typing indicator stays active without a
	// fresh typing frame.
	TypingTTL = 5 * time.Second

	// RateLimitCapacity is the token-bucket capacity per (room, user).
	RateLimitCapacity = 5
	// RateLimitRefillPerSec is the refill rate in tokens per second.
	RateLimitRefillPerSec = 1
	// RateLimitKeyTTL bounds how long an idle bucket's key survives.
	RateLimitKeyTTL = 10 * time.Second
)

// Store is room-scoped state backed by a Backplane.
type Store struct {
	bp backplane.Backplane
}

// New returns a Store backed by bp.
func New(bp backplane.Backplane) *Store {
	return &Store{bp: bp}
}

func historyKey(room string) string  { return "ws:rooms:" + room + ":history" }
func presenceKey(room string) string { return "ws:rooms:" + room + ":online" }
func typingKey(room, userID string) string {
	return fmt.Sprintf("ws:rooms:%s:typing:%s", room, userID)
}
func typingPrefix(room string) string { return fmt.Sprintf("ws:rooms:%s:typing:", room) }
func rateLimitKey(room, userID string) string {
	return fmt.Sprintf("ratelimit:%s:%s", room, userID)
}

// AppendHistory records msg in room's bounded history, trimming to
// HistoryMaxLen and refreshing HistoryTTL.
func (s *Store) AppendHistory(ctx context.Context, room string, msg protocol.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	key := historyKey(room)
	if err := s.bp.ListPushFrontTrim(ctx, key, payload, HistoryMaxLen); err != nil {
		return fmt.Errorf("push history: %w", err)
	}
	return s.bp.Expire(ctx, key, HistoryTTL)
}

// History returns the room's retained messages, oldest first.
func (s *Store) History(ctx context.Context, room string) ([]protocol.Message, error) {
	raw, err := s.bp.ListRange(ctx, historyKey(room), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("range history: %w", err)
	}
	out := make([]protocol.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg protocol.Message
		if err := json.Unmarshal(raw[i], &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Join adds userID to room's presence set and returns the resulting member
// count.
func (s *Store) Join(ctx context.Context, room, userID string) (int64, error) {
	key := presenceKey(room)
	if err := s.bp.SetAdd(ctx, key, userID); err != nil {
		return 0, fmt.Errorf("presence add: %w", err)
	}
	if err := s.bp.Expire(ctx, key, PresenceTTL); err != nil {
		return 0, fmt.Errorf("presence expire: %w", err)
	}
	return s.bp.SetCard(ctx, key)
}

// Leave removes userID from room's presence set and returns the resulting
// member count.
func (s *Store) Leave(ctx context.Context, room, userID string) (int64, error) {
	key := presenceKey(room)
	if err := s.bp.SetRemove(ctx, key, userID); err != nil {
		return 0, fmt.Errorf("presence remove: %w", err)
	}
	return s.bp.SetCard(ctx, key)
}

// Presence returns the current members of room.
func (s *Store) Presence(ctx context.Context, room string) ([]string, error) {
	members, err := s.bp.SetMembers(ctx, presenceKey(room))
	if err != nil {
		return nil, fmt.Errorf("presence members: %w", err)
	}
	return members, nil
}

// SetTyping records that userID (displaying as userName) is typing in room,
// refreshed for TypingTTL.
func (s *Store) SetTyping(ctx context.Context, room, userID, userName string) error {
	return s.bp.SetWithTTL(ctx, typingKey(room, userID), userName, TypingTTL)
}

// TypingUsers returns the display names currently flagged as typing in room.
// Because membership is expressed via TTL'd keys rather than a set, this
// scans the room's typing key namespace.
func (s *Store) TypingUsers(ctx context.Context, room string) ([]string, error) {
	prefix := typingPrefix(room)
	keys, err := s.bp.Keys(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("typing keys: %w", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if len(k) <= len(prefix) {
			continue
		}
		userID := k[len(prefix):]
		if name, ok, err := s.bp.Get(ctx, k); err == nil && ok {
			out = append(out, name)
		} else {
			out = append(out, userID)
		}
	}
	return out, nil
}

// Allow applies the per-(room,user) token-bucket rate limit and reports
// whether the request should proceed. When the backplane implements
// backplane.AtomicRateLimiter the whole bucket update runs as one atomic
// operation; otherwise Allow falls back to a non-atomic read/then/write
// that is adequate for a single-instance deployment but can race under
// concurrent multi-instance load on a plain key/value backplane.
func (s *Store) Allow(ctx context.Context, room, userID string, now time.Time) (allowed bool, retryAfter time.Duration, err error) {
	key := rateLimitKey(room, userID)
	nowUnix := now.Unix()

	if limiter, ok := s.bp.(backplane.AtomicRateLimiter); ok {
		ok, tokens, err := limiter.TakeToken(ctx, key, nowUnix, RateLimitCapacity, RateLimitRefillPerSec, RateLimitKeyTTL)
		if err != nil {
			return false, 0, fmt.Errorf("take token: %w", err)
		}
		if ok {
			return true, 0, nil
		}
		return false, retryAfterFor(tokens), nil
	}

	return s.allowNonAtomic(ctx, key, nowUnix)
}

func (s *Store) allowNonAtomic(ctx context.Context, key string, nowUnix int64) (bool, time.Duration, error) {
	tokens := float64(RateLimitCapacity)
	lastRefill := nowUnix
	if raw, ok, err := s.bp.Get(ctx, key); err != nil {
		return false, 0, fmt.Errorf("get bucket: %w", err)
	} else if ok {
		var t float64
		var lr int64
		if _, scanErr := fmt.Sscanf(raw, "%f:%d", &t, &lr); scanErr == nil {
			tokens, lastRefill = t, lr
		}
	}

	if elapsed := nowUnix - lastRefill; elapsed > 0 {
		tokens += float64(elapsed) * RateLimitRefillPerSec
		if tokens > RateLimitCapacity {
			tokens = RateLimitCapacity
		}
	}

	allowed := tokens >= 1
	if allowed {
		tokens -= 1
	}

	value := fmt.Sprintf("%f:%d", tokens, nowUnix)
	if err := s.bp.SetWithTTL(ctx, key, value, RateLimitKeyTTL); err != nil {
		return false, 0, fmt.Errorf("set bucket: %w", err)
	}
	if allowed {
		return true, 0, nil
	}
	return false, retryAfterFor(tokens), nil
}

func retryAfterFor(tokensLeft float64) time.Duration {
	deficit := 1 - tokensLeft
	if deficit <= 0 {
		return 0
	}
	return time.Duration(deficit/RateLimitRefillPerSec*1000) * time.Millisecond
}
