// Package ws adapts the Hub/Router room fabric to websocket transport,
// following the same upgrade-then-serve-loop shape the rest of this
// codebase uses for any long-lived connection.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"agora/server/internal/hub"
	"agora/server/internal/protocol"
	"agora/server/internal/roomstore"
	"agora/server/internal/router"
)

const writeTimeout = 5 * time.Second

// Handler owns websocket transport for the chat room fabric.
type Handler struct {
	hub      *hub.Hub
	store    *roomstore.Store
	router   *router.Router
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler creates a websocket handler bound to h, wiring inbound frames
// through r and room state through store.
func NewHandler(h *hub.Hub, store *roomstore.Store, r *router.Router, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		hub:    h,
		store:  store,
		router: r,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Register binds websocket routes on an Echo router.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}

// HandleWebSocket upgrades one request and serves it until disconnect. The
// room, user id, and display name are carried as query parameters since the
// handshake itself is a plain HTTP GET.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	remoteAddr := c.RealIP()

	room := strings.TrimSpace(c.QueryParam("room"))
	userID := strings.TrimSpace(c.QueryParam("user_id"))
	userName := strings.TrimSpace(c.QueryParam("user_name"))
	if runes := []rune(userName); len(runes) > 50 {
		userName = string(runes[:50])
	}

	if !protocol.RoomPattern.MatchString(room) {
		return c.String(http.StatusBadRequest, "invalid or missing room")
	}
	if userID == "" || userName == "" {
		return c.String(http.StatusBadRequest, "user_id and user_name are required")
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.log.Error("ws upgrade failed", "remote", remoteAddr, "error", err)
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	h.serveConn(c.Request().Context(), conn, room, userID, userName, remoteAddr)
	return nil
}

func (h *Handler) serveConn(ctx context.Context, conn *websocket.Conn, room, userID, userName, remoteAddr string) {
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	session := h.hub.Join(ctx, room, userID)
	h.log.Info("ws connected", "room", room, "user_id", userID, "remote", remoteAddr)

	defer func() {
		h.hub.Leave(session)
		if _, err := h.store.Leave(context.Background(), room, userID); err != nil {
			h.log.Warn("presence leave failed", "room", room, "user_id", userID, "error", err)
		}
		h.publishSystemAndPresence(context.Background(), room, userID, userName, "left", "")
		h.log.Info("ws disconnected", "room", room, "user_id", userID, "remote", remoteAddr)
	}()

	h.sendHistory(ctx, conn, room)

	go h.writeLoop(conn, session)

	if _, err := h.store.Join(ctx, room, userID); err != nil {
		h.log.Warn("presence join failed", "room", room, "user_id", userID, "error", err)
	}
	h.publishSystemAndPresence(ctx, room, userID, userName, "joined", session.ID)

	h.readLoop(ctx, conn, session)
}

// publishSystemAndPresence emits the system join/leave frame and the
// resulting presence snapshot through the normal publish path (§4.C steps
// 1 and 2), appending both to history the same way a chat message is.
// exceptSessionID is passed through to hub.Publish, which delivers to every
// local session in the room, the triggering session included.
func (h *Handler) publishSystemAndPresence(ctx context.Context, room, userID, userName, action, exceptSessionID string) {
	now := time.Now().UnixMilli()

	systemMsg := protocol.Message{
		Type: protocol.TypeSystem,
		Room: room,
		User: protocol.User{ID: userID, Name: userName},
		TS:   now,
		Meta: map[string]any{protocol.MetaAction: action},
	}
	if err := h.store.AppendHistory(ctx, room, systemMsg); err != nil {
		h.log.Warn("append system history failed", "room", room, "error", err)
	}
	if err := h.hub.Publish(ctx, systemMsg, exceptSessionID); err != nil {
		h.log.Warn("publish system frame failed", "room", room, "error", err)
	}

	members, err := h.store.Presence(ctx, room)
	if err != nil {
		h.log.Warn("presence snapshot failed", "room", room, "error", err)
		members = nil
	}
	presenceMsg := protocol.Message{
		Type: protocol.TypePresence,
		Room: room,
		User: protocol.User{ID: userID, Name: userName},
		TS:   now,
		Meta: map[string]any{protocol.MetaAction: action, protocol.MetaUsers: members},
	}
	if err := h.store.AppendHistory(ctx, room, presenceMsg); err != nil {
		h.log.Warn("append presence history failed", "room", room, "error", err)
	}
	if err := h.hub.Publish(ctx, presenceMsg, exceptSessionID); err != nil {
		h.log.Warn("publish presence frame failed", "room", room, "error", err)
	}
}

func (h *Handler) writeLoop(conn *websocket.Conn, session *hub.Session) {
	for out := range session.Send {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(out); err != nil {
			h.log.Debug("ws write error", "user_id", session.UserID, "type", out.Type, "error", err)
			return
		}
	}
}

func (h *Handler) sendHistory(ctx context.Context, conn *websocket.Conn, room string) {
	history, err := h.store.History(ctx, room)
	if err != nil {
		h.log.Warn("history load failed", "room", room, "error", err)
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	for _, msg := range history {
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Debug("ws history write error", "room", room, "error", err)
			return
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, session *hub.Session) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug("ws unexpected close", "user_id", session.UserID, "error", err)
			}
			return
		}
		var in protocol.Message
		if err := json.Unmarshal(raw, &in); err != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteJSON(protocol.Message{
				Type: protocol.TypeError,
				User: protocol.User{ID: protocol.SystemUserID},
				Meta: map[string]any{protocol.MetaCode: protocol.CodeInvalidJSON, protocol.MetaReason: err.Error()},
			})
			continue
		}
		if errFrame := h.router.Route(ctx, session, in); errFrame != nil {
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = conn.WriteJSON(*errFrame)
		}
	}
}
