// Package router turns a validated inbound frame from one websocket session
// into the side effects it implies: persisting and fanning out a chat
// message, refreshing a typing indicator, or handing a debate control frame
// to the debate orchestrator (§4.D).
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agora/server/internal/hub"
	"agora/server/internal/protocol"
	"agora/server/internal/roomstore"
	"agora/server/internal/sanitize"
)

// DebateController is the subset of the debate orchestrator the router
// needs. It is declared here, not imported from the debate package, so the
// router has no compile-time dependency on debate internals.
type DebateController interface {
	Start(ctx context.Context, room string, startedBy protocol.User) (debateID string, err error)
	Stop(ctx context.Context, debateID string, reason string) error
}

// Router wires one websocket session's inbound frames into room state.
type Router struct {
	store   *roomstore.Store
	hub     *hub.Hub
	debates DebateController
	log     *slog.Logger
	clock   func() time.Time
}

// New returns a Router. debates may be nil, in which case debate control
// frames are rejected with CodeDebateStartFailed.
func New(store *roomstore.Store, h *hub.Hub, debates DebateController, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{store: store, hub: h, debates: debates, log: log, clock: time.Now}
}

// Route validates, sanitizes, and dispatches one inbound frame from
// session. It returns an error-typed protocol.Message to send back to the
// originating session when the frame is rejected, or nil when it was
// accepted (acceptance does not imply delivery succeeded to every peer).
func (r *Router) Route(ctx context.Context, s *hub.Session, in protocol.Message) *protocol.Message {
	if in.Room != "" && in.Room != s.Room {
		return errorFrame(protocol.CodeInvalidPayload, "frame room does not match session room")
	}
	in.Room = s.Room

	if err := in.Validate(); err != nil {
		return errorFrame(protocol.CodeInvalidPayload, err.Error())
	}

	switch in.Type {
	case protocol.TypeMessage:
		return r.routeMessage(ctx, s, in)
	case protocol.TypeTyping:
		return r.routeTyping(ctx, s, in)
	case protocol.TypeSystem:
		return r.routeSystem(ctx, s, in)
	default:
		return errorFrame(protocol.CodeUnknownType, fmt.Sprintf("type %q is not accepted from clients", in.Type))
	}
}

func (r *Router) routeMessage(ctx context.Context, s *hub.Session, in protocol.Message) *protocol.Message {
	if len(in.Content) > protocol.MaxContentLen {
		return errorFrame(protocol.CodeMessageTooLong, fmt.Sprintf("content exceeds %d characters", protocol.MaxContentLen))
	}

	allowed, retryAfter, err := r.store.Allow(ctx, s.Room, s.UserID, r.clock())
	if err != nil {
		r.log.Warn("rate limit check failed", "room", s.Room, "user_id", s.UserID, "error", err)
	} else if !allowed {
		return rateLimitFrame(retryAfter)
	}

	in.Content = sanitize.Content(in.Content)
	in.TS = r.clock().UnixMilli()

	if err := r.store.AppendHistory(ctx, s.Room, in); err != nil {
		r.log.Error("append history failed", "room", s.Room, "error", err)
	}
	if err := r.hub.Publish(ctx, in, s.ID); err != nil {
		r.log.Error("publish failed", "room", s.Room, "error", err)
	}
	return nil
}

func (r *Router) routeTyping(ctx context.Context, s *hub.Session, in protocol.Message) *protocol.Message {
	if err := r.store.SetTyping(ctx, s.Room, s.UserID, in.User.Name); err != nil {
		r.log.Warn("set typing failed", "room", s.Room, "error", err)
	}

	users, err := r.store.TypingUsers(ctx, s.Room)
	if err != nil {
		r.log.Warn("typing users lookup failed", "room", s.Room, "error", err)
		users = nil
	}
	if in.Meta == nil {
		in.Meta = map[string]any{}
	}
	in.Meta[protocol.MetaUsers] = users
	in.TS = r.clock().UnixMilli()

	if err := r.hub.Publish(ctx, in, s.ID); err != nil {
		r.log.Warn("publish typing failed", "room", s.Room, "error", err)
	}
	return nil
}

func (r *Router) routeSystem(ctx context.Context, s *hub.Session, in protocol.Message) *protocol.Message {
	action := protocol.MetaString(in.Meta, protocol.MetaAction)
	switch action {
	case protocol.ActionDebateStart:
		return r.routeDebateStart(ctx, s, in)
	case protocol.ActionDebateStop:
		return r.routeDebateStop(ctx, s, in)
	default:
		return errorFrame(protocol.CodeInvalidPayload, fmt.Sprintf("unrecognized system action %q", action))
	}
}

func (r *Router) routeDebateStart(ctx context.Context, s *hub.Session, in protocol.Message) *protocol.Message {
	if r.debates == nil {
		return errorFrame(protocol.CodeDebateStartFailed, "debates are not enabled on this server")
	}
	debateID, err := r.debates.Start(ctx, s.Room, protocol.User{ID: s.UserID})
	if err != nil {
		return errorFrame(protocol.CodeDebateStartFailed, err.Error())
	}
	r.log.Info("debate started", "room", s.Room, "debate_id", debateID, "started_by", s.UserID)
	return nil
}

func (r *Router) routeDebateStop(ctx context.Context, s *hub.Session, in protocol.Message) *protocol.Message {
	if r.debates == nil {
		return errorFrame(protocol.CodeDebateStartFailed, "debates are not enabled on this server")
	}
	debateID := protocol.MetaString(in.Meta, protocol.MetaDebateID)
	if debateID == "" {
		return errorFrame(protocol.CodeInvalidPayload, "meta.debate_id is required")
	}
	if err := r.debates.Stop(ctx, debateID, "manual"); err != nil {
		return errorFrame(protocol.CodeDebateStartFailed, err.Error())
	}
	return nil
}

func errorFrame(code, reason string) *protocol.Message {
	return &protocol.Message{
		Type: protocol.TypeError,
		User: protocol.User{ID: protocol.SystemUserID},
		Meta: map[string]any{
			protocol.MetaCode:   code,
			protocol.MetaReason: reason,
		},
	}
}

func rateLimitFrame(retryAfter time.Duration) *protocol.Message {
	return &protocol.Message{
		Type: protocol.TypeError,
		User: protocol.User{ID: protocol.SystemUserID},
		Meta: map[string]any{
			protocol.MetaCode:    protocol.CodeRateLimited,
			protocol.MetaResetIn: retryAfter.Seconds(),
		},
	}
}
