package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"

	"agora/server/internal/backplane"
	"agora/server/internal/config"
	"agora/server/internal/debate"
	"agora/server/internal/hub"
	"agora/server/internal/httpapi"
	"agora/server/internal/provider"
	"agora/server/internal/roomstore"
	"agora/server/internal/router"
	"agora/server/internal/store"
	"agora/server/internal/ws"
)

// Version is the server's release identifier, overridable at build time
// with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "agora.db", "agents.yaml") {
			return
		}
	}

	addr := flag.String("addr", ":8080", "HTTP/WebSocket listen address")
	dbPath := flag.String("db", "agora.db", "SQLite database path for settings and the debate ledger")
	agentsConfig := flag.String("agents-config", "agents.yaml", "path to the agents/providers YAML config (missing file falls back to mock agents)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the shared backplane (empty uses an in-process backplane, single instance only)")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis logical database index")
	disableDebates := flag.Bool("disable-debates", false, "disable the debate orchestrator and its /debate/* routes")
	flag.Parse()

	logger := slog.Default()

	st, err := store.New(*dbPath)
	if err != nil {
		log.Fatalf("[store] %v", err)
	}
	defer st.Close()

	cfg, err := config.Load(*agentsConfig)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	logAgentAvailability(cfg)

	var bp backplane.Backplane
	if *redisAddr != "" {
		bp = backplane.NewRedis(*redisAddr, *redisPassword, *redisDB, logger)
		log.Printf("[backplane] using redis at %s (db=%d)", *redisAddr, *redisDB)
	} else {
		bp = backplane.NewMemory()
		log.Println("[backplane] using in-process backplane (single instance only)")
	}

	roomStore := roomstore.New(bp)
	h := hub.New(bp, logger)
	providers := provider.NewRegistry(cfg)

	var orch *debate.Orchestrator
	var debateController router.DebateController
	var ledger *store.DebateLedger
	if !*disableDebates {
		ledger = store.NewDebateLedger(st)
		orch = debate.New(h, roomStore, providers, cfg, ledger, logger)
		debateController = orch
	}

	r := router.New(roomStore, h, debateController, logger)
	wsHandler := ws.NewHandler(h, roomStore, r, logger)

	api := httpapi.New(h, wsHandler, cfg, providers, orchestratorOrNil(orch), ledger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		if orch != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			for _, snap := range orch.Active() {
				if err := orch.Stop(stopCtx, snap.ID, debate.ReasonManual); err != nil {
					log.Printf("[server] stop debate %s: %v", snap.ID, err)
				}
			}
			stopCancel()
		}
		cancel()
	}()

	go RunMetrics(ctx, h, orch, metricsLogInterval)

	log.Printf("[server] listening on %s", *addr)
	if err := api.Run(ctx, *addr); err != nil {
		log.Fatalf("[server] %v", err)
	}
}

// orchestratorOrNil adapts a possibly-nil *debate.Orchestrator to the
// httpapi.Orchestrator interface without leaving a non-nil interface
// wrapping a nil pointer, which httpapi's nil checks rely on.
func orchestratorOrNil(o *debate.Orchestrator) httpapi.Orchestrator {
	if o == nil {
		return nil
	}
	return o
}

func logAgentAvailability(cfg config.Config) {
	for id, agent := range cfg.Agents {
		if !cfg.IsAgentAvailable(agent) {
			log.Printf("[config] agent %s (%s) has no usable credentials; debates dispatch it to the mock provider", id, agent.Provider)
		}
	}
}
