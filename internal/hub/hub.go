// Package hub fans inbound room messages out to the local websocket
// sessions subscribed to that room, and bridges each room to the backplane
// so messages published by other server instances reach local sessions too
// (§4.C). It holds no domain logic about message content; it only knows
// how to register, remove, and broadcast to sessions.
package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"agora/server/internal/backplane"
	"agora/server/internal/protocol"
)

// SendTimeout bounds how long a write to one session's outbound channel may
// block before the session is treated as slow and the message dropped for
// it specifically.
const SendTimeout = 50 * time.Millisecond

// SendBufferSize is the default capacity of a session's outbound channel.
const SendBufferSize = 64

// Session is one connected websocket client, scoped to a single room.
type Session struct {
	ID     string
	Room   string
	UserID string
	Send   chan protocol.Message
}

// Hub is the local, in-process fan-out registry for one server instance. A
// Hub is shared by every room; it multiplexes on a room key internally.
type Hub struct {
	bp  backplane.Backplane
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]map[string]*Session // room -> sessionID -> session
	subs     map[string]backplane.Subscription

	nextID uint64
	idMu   sync.Mutex
}

// New returns a Hub that bridges room traffic through bp.
func New(bp backplane.Backplane, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		bp:       bp,
		log:      log,
		sessions: make(map[string]map[string]*Session),
		subs:     make(map[string]backplane.Subscription),
	}
}

func backplaneChannel(room string) string { return "ws:rooms:" + room + ":stream" }

// Join registers a new session in room and, if this is the room's first
// local session, subscribes the hub to that room's backplane channel so
// messages from other instances are relayed locally.
func (h *Hub) Join(ctx context.Context, room, userID string) *Session {
	h.idMu.Lock()
	h.nextID++
	id := h.nextID
	h.idMu.Unlock()

	s := &Session{
		ID:     sessionID(id),
		Room:   room,
		UserID: userID,
		Send:   make(chan protocol.Message, SendBufferSize),
	}

	h.mu.Lock()
	if h.sessions[room] == nil {
		h.sessions[room] = make(map[string]*Session)
	}
	h.sessions[room][s.ID] = s
	needsSub := h.subs[room] == nil
	h.mu.Unlock()

	if needsSub {
		h.subscribeRoom(ctx, room)
	}

	h.log.Info("session joined", "room", room, "user_id", userID, "session_id", s.ID)
	return s
}

// Leave removes a session from its room. When the room has no sessions left
// locally, the hub unsubscribes from its backplane channel.
func (h *Hub) Leave(s *Session) {
	h.mu.Lock()
	members := h.sessions[s.Room]
	if members != nil {
		delete(members, s.ID)
	}
	empty := len(members) == 0
	var sub backplane.Subscription
	if empty {
		sub = h.subs[s.Room]
		delete(h.subs, s.Room)
		delete(h.sessions, s.Room)
	}
	h.mu.Unlock()

	close(s.Send)
	if sub != nil {
		_ = sub.Close()
	}
	h.log.Info("session left", "room", s.Room, "user_id", s.UserID, "session_id", s.ID)
}

// RoomSize returns the number of locally-connected sessions for room. It
// does not reflect sessions on other instances; callers wanting global
// presence counts should use roomstore.Presence instead.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[room])
}

// Rooms returns the rooms with at least one locally-connected session, for
// metrics reporting.
func (h *Hub) Rooms() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.sessions))
	for room := range h.sessions {
		out = append(out, room)
	}
	return out
}

// TotalSessions returns the number of locally-connected sessions across all
// rooms.
func (h *Hub) TotalSessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, members := range h.sessions {
		total += len(members)
	}
	return total
}

// Publish fans msg out on the backplane. Every instance subscribed to
// msg.Room, this one included, delivers it once to each of its local
// sessions through the room's subscription, so the sender receives its own
// frame back like any other member. exceptSessionID is not consulted:
// backplane delivery reaches every local session in the room.
func (h *Hub) Publish(ctx context.Context, msg protocol.Message, exceptSessionID string) error {
	payload, err := encode(msg)
	if err != nil {
		return err
	}
	return h.bp.Publish(ctx, backplaneChannel(msg.Room), payload)
}

// BroadcastLocalOnly delivers msg to local sessions in msg.Room without
// touching the backplane, for frames that are inherently instance-local
// (e.g. typing indicators already broadcast by every instance that sees the
// originating publish).
func (h *Hub) BroadcastLocalOnly(msg protocol.Message, exceptSessionID string) {
	h.broadcastLocal(msg, exceptSessionID)
}

func (h *Hub) broadcastLocal(msg protocol.Message, exceptSessionID string) {
	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions[msg.Room]))
	for id, s := range h.sessions[msg.Room] {
		if id == exceptSessionID {
			continue
		}
		targets = append(targets, s)
	}
	h.mu.RUnlock()

	sent := 0
	for _, s := range targets {
		if trySend(s.Send, msg) {
			sent++
		}
	}
	h.log.Debug("broadcast", "room", msg.Room, "type", msg.Type, "recipients", sent, "total", len(targets))
}

func (h *Hub) subscribeRoom(ctx context.Context, room string) {
	sub, err := h.bp.Subscribe(ctx, backplaneChannel(room))
	if err != nil {
		h.log.Warn("failed to subscribe room to backplane", "room", room, "error", err)
		return
	}

	h.mu.Lock()
	h.subs[room] = sub
	h.mu.Unlock()

	go func() {
		for payload := range sub.Channel() {
			msg, err := decode(payload)
			if err != nil {
				h.log.Warn("dropping malformed backplane payload", "room", room, "error", err)
				continue
			}
			h.broadcastLocal(msg, "")
		}
	}()
}

// trySend delivers msg to ch without blocking longer than SendTimeout. It
// recovers from a send on a closed channel so a session racing Leave cannot
// crash the broadcaster.
func trySend(ch chan protocol.Message, msg protocol.Message) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case ch <- msg:
		return true
	case <-time.After(SendTimeout):
		return false
	}
}

func sessionID(n uint64) string {
	const hexDigits = "0123456789abcdef"
	if n == 0 {
		return "s0"
	}
	buf := make([]byte, 0, 20)
	buf = append(buf, 's')
	start := len(buf)
	for n > 0 {
		buf = append(buf, hexDigits[n&0xf])
		n >>= 4
	}
	for i, j := start, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}
