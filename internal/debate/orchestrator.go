// Package debate runs the turn-by-turn LLM debate state machine: it
// alternates turns between two configured agents, publishes each turn and
// round-marker as chat messages, and enforces the round/duration/timeout
// limits that bound a debate (§4.E).
package debate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"agora/server/internal/config"
	"agora/server/internal/hub"
	"agora/server/internal/protocol"
	"agora/server/internal/provider"
	"agora/server/internal/roomstore"
)

// Ledger persists debate metadata for later inspection. It is optional;
// a nil Ledger means debates are tracked in memory only for their lifetime.
type Ledger interface {
	RecordStart(ctx context.Context, s Snapshot) error
	RecordEnd(ctx context.Context, id string, reason string, endedAt time.Time) error
}

// Orchestrator owns every in-flight and recently-finished debate on this
// server instance.
type Orchestrator struct {
	hub       *hub.Hub
	store     *roomstore.Store
	providers *provider.Registry
	cfg       config.Config
	ledger    Ledger
	log       *slog.Logger
	stats     *Stats

	mu      sync.Mutex
	debates map[string]*Debate
}

// New returns an Orchestrator. ledger may be nil.
func New(h *hub.Hub, store *roomstore.Store, providers *provider.Registry, cfg config.Config, ledger Ledger, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		hub:       h,
		store:     store,
		providers: providers,
		cfg:       cfg,
		ledger:    ledger,
		log:       log,
		stats:     newStats(),
		debates:   make(map[string]*Debate),
	}
}

var errNoAgentsConfigured = errors.New("no agents configured")

// defaultAgentPair picks the two lowest-ID agents as a fallback when a
// caller does not name agents explicitly (the websocket control frame path,
// §4.D). The HTTP control-plane path uses StartWithAgents to name agents
// explicitly, mirroring the original config's agent_a_id/agent_b_id.
func (o *Orchestrator) defaultAgentPair() (config.AgentConfig, config.AgentConfig, error) {
	ids := make([]string, 0, len(o.cfg.Agents))
	for id := range o.cfg.Agents {
		ids = append(ids, id)
	}
	if len(ids) < 2 {
		return config.AgentConfig{}, config.AgentConfig{}, errNoAgentsConfigured
	}
	sort.Strings(ids)
	return o.cfg.Agents[ids[0]], o.cfg.Agents[ids[1]], nil
}

// Start begins a debate in room between the two default-configured agents.
// It satisfies router.DebateController.
func (o *Orchestrator) Start(ctx context.Context, room string, startedBy protocol.User) (string, error) {
	agentA, agentB, err := o.defaultAgentPair()
	if err != nil {
		return "", err
	}
	return o.StartWithAgents(ctx, room, agentA.ID, agentB.ID, "an open-ended topic of the agents' choosing")
}

// StartWithAgents begins a debate in room between the named agents on
// topic. It is the entry point the HTTP control plane uses, where a caller
// can name agents explicitly.
func (o *Orchestrator) StartWithAgents(ctx context.Context, room, agentAID, agentBID, topic string) (string, error) {
	agentA, ok := o.cfg.Agents[agentAID]
	if !ok {
		return "", fmt.Errorf("unknown agent: %s", agentAID)
	}
	agentB, ok := o.cfg.Agents[agentBID]
	if !ok {
		return "", fmt.Errorf("unknown agent: %s", agentBID)
	}
	settings := o.cfg.DebateSettings

	d := &Debate{
		ID:          uuid.NewString(),
		Room:        room,
		Topic:       topic,
		AgentA:      agentA,
		AgentB:      agentB,
		State:       StateCreating,
		MaxRounds:   settings.MaxRounds,
		MaxDuration: time.Duration(settings.MaxDuration) * time.Second,
		StartedAt:   time.Now(),
	}

	o.mu.Lock()
	o.debates[d.ID] = d
	o.mu.Unlock()

	o.stats.mu.Lock()
	o.stats.TotalDebates++
	o.stats.mu.Unlock()

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.State = StateRunning
	d.cancel = cancel
	d.mu.Unlock()

	if o.ledger != nil {
		if err := o.ledger.RecordStart(ctx, d.snapshot()); err != nil {
			o.log.Warn("debate ledger record start failed", "debate_id", d.ID, "error", err)
		}
	}

	startMsg := protocol.Message{
		Type: protocol.TypeSystem,
		Room: room,
		User: protocol.User{ID: protocol.SystemUserID, Name: "System"},
		Content: fmt.Sprintf("Debate started: %s vs %s", agentA.Name, agentB.Name),
		TS:      time.Now().UnixMilli(),
		Meta: map[string]any{
			protocol.MetaAction:      protocol.ActionStarted,
			protocol.MetaDebateID:    d.ID,
			protocol.MetaCurrentRound: 0,
			protocol.MetaTotalRounds: d.MaxRounds,
		},
	}
	o.publish(runCtx, startMsg)

	go o.run(runCtx, d)

	o.log.Info("debate started", "debate_id", d.ID, "room", room, "agent_a", agentA.ID, "agent_b", agentB.ID)
	return d.ID, nil
}

// Stop ends debate debateID with reason, idempotently: stopping an already
// ended debate is not an error.
func (o *Orchestrator) Stop(ctx context.Context, debateID string, reason string) error {
	o.mu.Lock()
	d, ok := o.debates[debateID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("debate not found: %s", debateID)
	}
	o.stop(ctx, d, reason)
	return nil
}

func (o *Orchestrator) stop(ctx context.Context, d *Debate, reason string) {
	d.mu.Lock()
	if d.State == StateEnded {
		d.mu.Unlock()
		return
	}
	d.State = StateEnded
	d.Reason = reason
	d.EndedAt = time.Now()
	round := d.CurrentRound
	cancel := d.cancel
	room := d.Room
	id := d.ID
	started := d.StartedAt
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	endMsg := protocol.Message{
		Type: protocol.TypeSystem,
		Room: room,
		User: protocol.User{ID: protocol.SystemUserID, Name: "System"},
		Content: fmt.Sprintf("Debate ended (%s)", reason),
		TS:      time.Now().UnixMilli(),
		Meta: map[string]any{
			protocol.MetaAction:      protocol.ActionStopped,
			protocol.MetaDebateID:    id,
			protocol.MetaReason:      reason,
			protocol.MetaTotalRounds: round,
		},
	}
	o.publish(context.Background(), endMsg)

	o.stats.mu.Lock()
	o.stats.CompletedDebates++
	o.stats.mu.Unlock()

	if o.ledger != nil {
		if err := o.ledger.RecordEnd(context.Background(), id, reason, time.Now()); err != nil {
			o.log.Warn("debate ledger record end failed", "debate_id", id, "error", err)
		}
	}

	o.log.Info("debate ended", "debate_id", id, "room", room, "reason", reason, "rounds", round, "duration", time.Since(started))
}

// run drives the turn loop for d until a limit is hit, a turn errors, or
// Stop is called.
func (o *Orchestrator) run(ctx context.Context, d *Debate) {
	currentPrompt := d.Topic

	for {
		d.mu.Lock()
		if d.State != StateRunning {
			d.mu.Unlock()
			return
		}
		if d.CurrentRound >= d.MaxRounds {
			d.mu.Unlock()
			o.stop(ctx, d, ReasonMaxRounds)
			return
		}
		if time.Since(d.StartedAt) >= d.MaxDuration {
			d.mu.Unlock()
			o.stop(ctx, d, ReasonMaxDuration)
			return
		}
		isAgentATurn := d.CurrentRound%2 == 0
		agent := d.AgentA
		if !isAgentATurn {
			agent = d.AgentB
		}
		history := toTurns(d.context)
		d.mu.Unlock()

		resp, latency, err := o.callAgent(ctx, agent, currentPrompt, history)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				o.stop(ctx, d, ReasonTurnTimeout)
				return
			}
			if errors.Is(err, context.Canceled) {
				return
			}
			o.stats.recordError(agent.Provider)
			o.stop(ctx, d, reasonLLMError(agent.Provider))
			return
		}
		o.stats.recordSuccess(agent.Provider, latency, resp.TokensUsed)

		d.mu.Lock()
		d.context = append(d.context, resp.Content)
		d.CurrentRound++
		round := d.CurrentRound
		maxRounds := d.MaxRounds
		room := d.Room
		debateID := d.ID
		d.mu.Unlock()

		agentMsg := protocol.Message{
			Type: protocol.TypeMessage,
			Room: room,
			User: protocol.User{
				ID:     protocol.AgentUserID(agent.Provider, agent.Model),
				Name:   agent.Name,
				Avatar: "🤖",
			},
			Content: resp.Content,
			TS:      time.Now().UnixMilli(),
			Meta: map[string]any{
				protocol.MetaAgent:        true,
				protocol.MetaProvider:     agent.Provider,
				protocol.MetaModel:        agent.Model,
				protocol.MetaDebateID:     debateID,
				protocol.MetaCurrentRound: round,
				protocol.MetaTotalRounds:  maxRounds,
				protocol.MetaTokensUsed:   resp.TokensUsed,
				protocol.MetaLatencyMS:    latency.Milliseconds(),
			},
		}
		if err := o.store.AppendHistory(ctx, room, agentMsg); err != nil {
			o.log.Warn("append debate history failed", "debate_id", debateID, "error", err)
		}
		o.publish(ctx, agentMsg)

		roundMsg := protocol.Message{
			Type: protocol.TypeSystem,
			Room: room,
			User: protocol.User{ID: protocol.SystemUserID, Name: "System"},
			Content: fmt.Sprintf("Round %d/%d", round, maxRounds),
			TS:      time.Now().UnixMilli(),
			Meta: map[string]any{
				protocol.MetaAction:       protocol.ActionRound,
				protocol.MetaDebateID:     debateID,
				protocol.MetaCurrentRound: round,
				protocol.MetaTotalRounds:  maxRounds,
				protocol.MetaAgent:        agent.ID,
			},
		}
		o.publish(ctx, roundMsg)

		currentPrompt = resp.Content

		select {
		case <-ctx.Done():
			return
		case <-time.After(InterTurnPause):
		}
	}
}

func (o *Orchestrator) callAgent(ctx context.Context, agent config.AgentConfig, prompt string, history []provider.Turn) (provider.Response, time.Duration, error) {
	turnCtx, cancel := context.WithTimeout(ctx, TurnTimeout)
	defer cancel()

	start := time.Now()
	resp, err := o.providers.For(agent.Provider).Generate(turnCtx, provider.Request{Agent: agent, Prompt: prompt, History: history})
	latency := time.Since(start)
	if err != nil {
		if turnCtx.Err() == context.DeadlineExceeded {
			return provider.Response{}, latency, context.DeadlineExceeded
		}
		return provider.Response{}, latency, err
	}
	return resp, latency, nil
}

func toTurns(priorResponses []string) []provider.Turn {
	turns := make([]provider.Turn, 0, len(priorResponses))
	for _, c := range priorResponses {
		turns = append(turns, provider.Turn{Role: "assistant", Content: c})
	}
	return turns
}

func (o *Orchestrator) publish(ctx context.Context, msg protocol.Message) {
	if err := o.hub.Publish(ctx, msg, ""); err != nil {
		o.log.Warn("publish debate message failed", "room", msg.Room, "error", err)
	}
}

// Snapshot returns the current observable state of debateID.
func (o *Orchestrator) Snapshot(debateID string) (Snapshot, bool) {
	o.mu.Lock()
	d, ok := o.debates[debateID]
	o.mu.Unlock()
	if !ok {
		return Snapshot{}, false
	}
	return d.snapshot(), true
}

// Active returns snapshots of every debate still running.
func (o *Orchestrator) Active() []Snapshot {
	o.mu.Lock()
	debates := make([]*Debate, 0, len(o.debates))
	for _, d := range o.debates {
		debates = append(debates, d)
	}
	o.mu.Unlock()

	out := make([]Snapshot, 0, len(debates))
	for _, d := range debates {
		snap := d.snapshot()
		if snap.State == StateRunning {
			out = append(out, snap)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Stats returns process-lifetime debate counters.
func (o *Orchestrator) Stats() *Stats { return o.stats }
