package debate

import (
	"context"
	"testing"
	"time"

	"agora/server/internal/backplane"
	"agora/server/internal/config"
	"agora/server/internal/hub"
	"agora/server/internal/protocol"
	"agora/server/internal/provider"
	"agora/server/internal/roomstore"
)

func newTestOrchestrator(t *testing.T, settings config.DebateSettings) (*Orchestrator, *hub.Hub, *hub.Session) {
	t.Helper()
	bp := backplane.NewMemory()
	h := hub.New(bp, nil)
	store := roomstore.New(bp)
	cfg := config.Config{
		Agents: map[string]config.AgentConfig{
			"mock-a": {ID: "mock-a", Name: "Mock Agent A", Provider: "mock", SystemPrompt: "Argue for."},
			"mock-b": {ID: "mock-b", Name: "Mock Agent B", Provider: "mock", SystemPrompt: "Argue against."},
		},
		DebateSettings: settings,
	}
	registry := provider.NewRegistry(cfg)
	o := New(h, store, registry, cfg, nil, nil)

	sess := h.Join(context.Background(), "general", "observer")
	t.Cleanup(func() { h.Leave(sess) })
	return o, h, sess
}

func TestStartWithAgentsPublishesStartFrame(t *testing.T) {
	o, _, sess := newTestOrchestrator(t, config.DebateSettings{MaxRounds: 1, MaxDuration: 90, TurnTimeout: 15})

	debateID, err := o.StartWithAgents(context.Background(), "general", "mock-a", "mock-b", "testing topic")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if debateID == "" {
		t.Fatal("expected a non-empty debate id")
	}

	select {
	case msg := <-sess.Send:
		if msg.Type != protocol.TypeSystem {
			t.Fatalf("expected a system frame, got %v", msg.Type)
		}
		if protocol.MetaString(msg.Meta, protocol.MetaAction) != protocol.ActionStarted {
			t.Fatalf("unexpected action: %+v", msg.Meta)
		}
	case <-time.After(time.Second):
		t.Fatal("did not receive debate-started frame")
	}

	o.Stop(context.Background(), debateID, ReasonManual)
}

func TestStartWithUnknownAgentFails(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, config.DebateSettings{MaxRounds: 6, MaxDuration: 90, TurnTimeout: 15})
	if _, err := o.StartWithAgents(context.Background(), "general", "nope", "mock-b", "topic"); err == nil {
		t.Fatal("expected error for unknown agent")
	}
}

func TestDebateStopsAtMaxRounds(t *testing.T) {
	o, _, sess := newTestOrchestrator(t, config.DebateSettings{MaxRounds: 1, MaxDuration: 90, TurnTimeout: 15})

	debateID, err := o.StartWithAgents(context.Background(), "general", "mock-a", "mock-b", "topic")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(6 * time.Second)
	var ended bool
	for !ended {
		select {
		case msg := <-sess.Send:
			if msg.Type == protocol.TypeSystem && protocol.MetaString(msg.Meta, protocol.MetaAction) == protocol.ActionStopped {
				ended = true
				if protocol.MetaString(msg.Meta, protocol.MetaReason) != ReasonMaxRounds {
					t.Fatalf("expected max_rounds reason, got %+v", msg.Meta)
				}
			}
		case <-deadline:
			t.Fatal("debate never reached max_rounds termination")
		}
	}

	snap, ok := o.Snapshot(debateID)
	if !ok {
		t.Fatal("expected a snapshot to exist after termination")
	}
	if snap.State != StateEnded {
		t.Fatalf("expected state=ended, got %v", snap.State)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, config.DebateSettings{MaxRounds: 6, MaxDuration: 90, TurnTimeout: 15})
	debateID, err := o.StartWithAgents(context.Background(), "general", "mock-a", "mock-b", "topic")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := o.Stop(context.Background(), debateID, ReasonManual); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := o.Stop(context.Background(), debateID, ReasonManual); err != nil {
		t.Fatalf("second stop should also succeed: %v", err)
	}
}

func TestStopUnknownDebateErrors(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, config.DebateSettings{MaxRounds: 6, MaxDuration: 90, TurnTimeout: 15})
	if err := o.Stop(context.Background(), "does-not-exist", ReasonManual); err == nil {
		t.Fatal("expected an error stopping an unknown debate")
	}
}
