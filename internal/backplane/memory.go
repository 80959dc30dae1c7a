package backplane

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Backplane for local development and tests. It
// never reports disconnection and has no cross-instance effect; a process
// running with Memory is, by definition, the only instance sharing its
// rooms.
type Memory struct {
	mu      sync.Mutex
	lists   map[string][][]byte
	sets    map[string]map[string]struct{}
	kv      map[string]memEntry
	subs    map[string][]*memSub
	closeCh chan struct{}
}

type memEntry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

type memSub struct {
	ch     chan []byte
	once   sync.Once
	parent *Memory
	topic  string
}

func (s *memSub) Channel() <-chan []byte { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		s.parent.mu.Lock()
		defer s.parent.mu.Unlock()
		subs := s.parent.subs[s.topic]
		for i, sub := range subs {
			if sub == s {
				s.parent.subs[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	})
	return nil
}

// NewMemory returns a ready-to-use in-process backplane.
func NewMemory() *Memory {
	return &Memory{
		lists: make(map[string][][]byte),
		sets:  make(map[string]map[string]struct{}),
		kv:    make(map[string]memEntry),
		subs:  make(map[string][]*memSub),
	}
}

func (m *Memory) Connected() bool { return true }

func (m *Memory) Publish(_ context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs[channel] {
		cp := make([]byte, len(payload))
		copy(cp, payload)
		select {
		case s.ch <- cp:
		default:
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &memSub{ch: make(chan []byte, 64), parent: m, topic: channel}
	m.subs[channel] = append(m.subs[channel], s)
	return s, nil
}

func (m *Memory) ListPushFrontTrim(_ context.Context, key string, item []byte, maxLen int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(item))
	copy(cp, item)
	list := append([][]byte{cp}, m.lists[key]...)
	if len(list) > maxLen {
		list = list[:maxLen]
	}
	m.lists[key] = list
	return nil
}

func (m *Memory) ListRange(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	n := int64(len(list))
	if n == 0 {
		return nil, nil
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start < 0 {
		start = 0
	}
	if start > stop {
		return nil, nil
	}
	out := make([][]byte, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		out = append(out, list[i])
	}
	return out, nil
}

func (m *Memory) SetAdd(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[key] == nil {
		m.sets[key] = make(map[string]struct{})
	}
	m.sets[key][member] = struct{}{}
	return nil
}

func (m *Memory) SetRemove(_ context.Context, key, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets[key], member)
	return nil
}

func (m *Memory) SetMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sets[key]))
	for member := range m.sets[key] {
		out = append(out, member)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) SetCard(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[key])), nil
}

func (m *Memory) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.hasTTL = true
		e.expires = time.Now().Add(ttl)
	}
	m.kv[key] = e
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return "", false, nil
	}
	return e.value, true, nil
}

// get returns the live entry for key, evicting it first if its TTL has
// elapsed. Caller must hold m.mu.
func (m *Memory) get(key string) (memEntry, bool) {
	e, ok := m.kv[key]
	if !ok {
		return memEntry{}, false
	}
	if e.hasTTL && time.Now().After(e.expires) {
		delete(m.kv, key)
		return memEntry{}, false
	}
	return e, true
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	delete(m.sets, key)
	delete(m.lists, key)
	return nil
}

func (m *Memory) TTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok || !e.hasTTL {
		return 0, nil
	}
	return time.Until(e.expires), nil
}

func (m *Memory) Keys(_ context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	out := []string{}
	for k := range m.kv {
		if strings.HasPrefix(k, prefix) {
			if _, ok := m.get(k); ok {
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.kv[key]
	if !ok {
		return nil
	}
	e.hasTTL = true
	e.expires = time.Now().Add(ttl)
	m.kv[key] = e
	return nil
}

// TakeToken implements AtomicRateLimiter for Memory. The whole method runs
// under m.mu so the read-modify-write is atomic with respect to other
// Memory callers in the same process, matching what the Redis Lua script
// gives callers across processes.
func (m *Memory) TakeToken(_ context.Context, key string, now int64, capacity, refillPerSec float64, ttl time.Duration) (bool, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tokens := capacity
	lastRefill := now
	if e, ok := m.get(key); ok {
		parts := strings.SplitN(e.value, ":", 2)
		if len(parts) == 2 {
			if t, err := strconv.ParseFloat(parts[0], 64); err == nil {
				tokens = t
			}
			if lr, err := strconv.ParseInt(parts[1], 10, 64); err == nil {
				lastRefill = lr
			}
		}
	}

	if elapsed := now - lastRefill; elapsed > 0 {
		tokens += float64(elapsed) * refillPerSec
		if tokens > capacity {
			tokens = capacity
		}
	}

	allowed := tokens >= 1
	if allowed {
		tokens -= 1
	}

	m.kv[key] = memEntry{
		value:   strconv.FormatFloat(tokens, 'f', -1, 64) + ":" + strconv.FormatInt(now, 10),
		hasTTL:  true,
		expires: time.Now().Add(ttl),
	}
	return allowed, tokens, nil
}
