package debate

import (
	"sync"
	"time"

	"agora/server/internal/config"
)

// State is the debate lifecycle (§4.E).
type State string

const (
	StateCreating State = "creating"
	StateRunning  State = "running"
	StateEnded    State = "ended"
)

// Termination reasons recorded when a debate stops.
const (
	ReasonManual      = "manual"
	ReasonMaxRounds   = "max_rounds"
	ReasonMaxDuration = "max_duration"
	ReasonTurnTimeout = "turn_timeout"
	ReasonError       = "error"
)

func reasonLLMError(provider string) string { return "llm_error_" + provider }

const (
	// TurnTimeout bounds a single agent call.
	TurnTimeout = 15 * time.Second
	// InterTurnPause is the pacing delay between successive turns.
	InterTurnPause = 2 * time.Second
)

// Debate is one running or finished debate. Its mutable fields are guarded
// by mu; callers outside this package should only observe it through
// Orchestrator's accessor methods, which take the lock.
type Debate struct {
	mu sync.Mutex

	ID      string
	Room    string
	Topic   string
	AgentA  config.AgentConfig
	AgentB  config.AgentConfig

	State        State
	CurrentRound int
	MaxRounds    int
	MaxDuration  time.Duration
	StartedAt    time.Time
	EndedAt      time.Time
	Reason       string

	context []string
	cancel  func()
}

// Snapshot is a read-only copy of a Debate's observable state, used by the
// control-plane HTTP surface.
type Snapshot struct {
	ID           string    `json:"id"`
	Room         string    `json:"room"`
	Topic        string    `json:"topic"`
	AgentA       string    `json:"agent_a"`
	AgentB       string    `json:"agent_b"`
	State        State     `json:"state"`
	CurrentRound int       `json:"current_round"`
	MaxRounds    int       `json:"max_rounds"`
	StartedAt    time.Time `json:"started_at"`
	DurationSecs float64   `json:"duration_seconds"`
	Reason       string    `json:"reason,omitempty"`
}

func (d *Debate) snapshot() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		ID:           d.ID,
		Room:         d.Room,
		Topic:        d.Topic,
		AgentA:       d.AgentA.ID,
		AgentB:       d.AgentB.ID,
		State:        d.State,
		CurrentRound: d.CurrentRound,
		MaxRounds:    d.MaxRounds,
		StartedAt:    d.StartedAt,
		DurationSecs: time.Since(d.StartedAt).Seconds(),
		Reason:       d.Reason,
	}
}

// Stats are process-lifetime debate counters, surfaced on /llm/status.
type Stats struct {
	mu                 sync.Mutex
	TotalDebates       int
	CompletedDebates   int
	TotalTokens        int
	ErrorsByProvider   map[string]int
	latencySumByProvider map[string]float64
	latencyCountByProvider map[string]int
}

func newStats() *Stats {
	return &Stats{
		ErrorsByProvider:       make(map[string]int),
		latencySumByProvider:   make(map[string]float64),
		latencyCountByProvider: make(map[string]int),
	}
}

func (s *Stats) recordSuccess(providerName string, latency time.Duration, tokens int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.TotalTokens += tokens
	s.latencySumByProvider[providerName] += latency.Seconds()
	s.latencyCountByProvider[providerName]++
}

func (s *Stats) recordError(providerName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ErrorsByProvider[providerName]++
}

// AvgLatencyByProvider returns mean turn latency in seconds per provider.
func (s *Stats) AvgLatencyByProvider() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.latencySumByProvider))
	for p, sum := range s.latencySumByProvider {
		out[p] = sum / float64(s.latencyCountByProvider[p])
	}
	return out
}
