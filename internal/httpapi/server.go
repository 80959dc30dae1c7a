// Package httpapi serves the HTTP control plane alongside the /ws upgrade
// route: health, agent roster and availability, debate lifecycle, and a
// guest login endpoint for clients that have no existing identity.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"agora/server/internal/config"
	"agora/server/internal/debate"
	"agora/server/internal/hub"
	"agora/server/internal/protocol"
	"agora/server/internal/provider"
	"agora/server/internal/store"
	"agora/server/internal/ws"
)

// Orchestrator is the subset of *debate.Orchestrator the HTTP control plane
// drives. Declared here so this package has no compile-time dependency on
// debate internals beyond the types it actually exposes.
type Orchestrator interface {
	StartWithAgents(ctx context.Context, room, agentAID, agentBID, topic string) (string, error)
	Stop(ctx context.Context, debateID string, reason string) error
	Snapshot(debateID string) (debate.Snapshot, bool)
	Active() []debate.Snapshot
	Stats() *debate.Stats
}

// Server is the Echo application serving the control plane and the
// websocket upgrade route.
type Server struct {
	echo      *echo.Echo
	hub       *hub.Hub
	cfg       config.Config
	providers *provider.Registry
	debates   Orchestrator
	ledger    *store.DebateLedger
	jwtSecret []byte
}

// defaultJWTSecret is used when AGORA_JWT_SECRET is unset, matching this
// server's zero-setup posture elsewhere (e.g. config.Load falling back to
// mock agents). A real deployment sets AGORA_JWT_SECRET.
const defaultJWTSecret = "agora-dev-guest-secret-change-me"

// New constructs an Echo app with websocket + control-plane routes.
func New(h *hub.Hub, wsHandler *ws.Handler, cfg config.Config, providers *provider.Registry, debates Orchestrator, ledger *store.DebateLedger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	secret := os.Getenv("AGORA_JWT_SECRET")
	if secret == "" {
		secret = defaultJWTSecret
	}

	s := &Server{echo: e, hub: h, cfg: cfg, providers: providers, debates: debates, ledger: ledger, jwtSecret: []byte(secret)}
	s.registerRoutes(wsHandler)
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path

			if path == "/ws" || path == "/health" {
				slog.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				slog.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes(wsHandler *ws.Handler) {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/agents", s.handleAgents)
	s.echo.GET("/llm/status", s.handleLLMStatus)
	s.echo.POST("/debate/start", s.handleDebateStart)
	s.echo.POST("/debate/:id/stop", s.handleDebateStop)
	s.echo.POST("/auth/login", s.handleAuthLogin)
	wsHandler.Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		slog.Info("http server stopped")
		return nil
	}
}

type rootResponse struct {
	Service string `json:"service"`
	Status  string `json:"status"`
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, rootResponse{Service: "agora", Status: "ok"})
}

type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok"})
}

type agentResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
	Available bool   `json:"available"`
}

func (s *Server) handleAgents(c echo.Context) error {
	ids := make([]string, 0, len(s.cfg.Agents))
	for id := range s.cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]agentResponse, 0, len(ids))
	for _, id := range ids {
		agent := s.cfg.Agents[id]
		out = append(out, agentResponse{
			ID:        agent.ID,
			Name:      agent.Name,
			Provider:  agent.Provider,
			Model:     agent.Model,
			Available: s.cfg.IsAgentAvailable(agent),
		})
	}
	return c.JSON(http.StatusOK, out)
}

type llmStatusResponse struct {
	Agents           []agentResponse    `json:"agents"`
	ActiveDebates    []debate.Snapshot  `json:"active_debates"`
	CompletedDebates int                `json:"completed_debates"`
	TotalTokens      int                `json:"total_tokens"`
	AvgLatencySecs   map[string]float64 `json:"avg_latency_seconds_by_provider"`
	ErrorsByProvider map[string]int     `json:"errors_by_provider"`
}

func (s *Server) handleLLMStatus(c echo.Context) error {
	resp := llmStatusResponse{}

	ids := make([]string, 0, len(s.cfg.Agents))
	for id := range s.cfg.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		agent := s.cfg.Agents[id]
		resp.Agents = append(resp.Agents, agentResponse{
			ID:        agent.ID,
			Name:      agent.Name,
			Provider:  agent.Provider,
			Model:     agent.Model,
			Available: s.cfg.IsAgentAvailable(agent),
		})
	}

	if s.debates != nil {
		resp.ActiveDebates = s.debates.Active()
		stats := s.debates.Stats()
		resp.TotalTokens = stats.TotalTokens
		resp.AvgLatencySecs = stats.AvgLatencyByProvider()
		resp.ErrorsByProvider = stats.ErrorsByProvider
	}

	completed := 0
	if s.ledger != nil {
		n, err := s.ledger.CompletedCount(c.Request().Context())
		if err != nil {
			slog.Warn("read completed debate count failed", "error", err)
		} else {
			completed = n
		}
	} else if s.debates != nil {
		completed = s.debates.Stats().CompletedDebates
	}
	resp.CompletedDebates = completed

	return c.JSON(http.StatusOK, resp)
}

type debateStartRequest struct {
	Room   string `json:"room"`
	AgentA string `json:"agent_a_id"`
	AgentB string `json:"agent_b_id"`
	Topic  string `json:"topic"`
}

type debateStartResponse struct {
	DebateID string `json:"debate_id"`
}

func (s *Server) handleDebateStart(c echo.Context) error {
	if s.debates == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "debates are not enabled on this server")
	}

	var req debateStartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !protocol.RoomPattern.MatchString(req.Room) {
		return echo.NewHTTPError(http.StatusBadRequest, "room is required and must match the room pattern")
	}
	if req.AgentA == "" || req.AgentB == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_a_id and agent_b_id are required")
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		topic = "an open-ended topic of the agents' choosing"
	}

	debateID, err := s.debates.StartWithAgents(c.Request().Context(), req.Room, req.AgentA, req.AgentB, topic)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, debateStartResponse{DebateID: debateID})
}

func (s *Server) handleDebateStop(c echo.Context) error {
	if s.debates == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "debates are not enabled on this server")
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "debate id is required")
	}
	if err := s.debates.Stop(c.Request().Context(), id, debate.ReasonManual); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type authLoginRequest struct {
	Name string `json:"name"`
}

type authLoginResponse struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// handleAuthLogin mints a short-lived guest identity. The issued token is a
// real signed JWT, but it only asserts an ephemeral guest id minted here —
// it is not a substitute for verifying a caller's actual identity.
// Deployments that need verified identity terminate a genuine bearer scheme
// in front of this server and pass the resulting user id through as
// user_id on the /ws handshake instead.
func (s *Server) handleAuthLogin(c echo.Context) error {
	var req authLoginRequest
	_ = c.Bind(&req)

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "Guest"
	}

	userID := "guest:" + uuid.NewString()
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  userID,
		"name": name,
		"iat":  now.Unix(),
		"exp":  now.Add(24 * time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "mint guest token")
	}

	return c.JSON(http.StatusOK, authLoginResponse{
		UserID: userID,
		Name:   name,
		Token:  signed,
	})
}
