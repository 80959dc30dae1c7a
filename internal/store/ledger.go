package store

import (
	"context"
	"time"

	"agora/server/internal/debate"
)

// DebateLedger records debate metadata in the debates table, implementing
// debate.Ledger.
type DebateLedger struct {
	store *Store
}

// NewDebateLedger returns a ledger backed by store.
func NewDebateLedger(s *Store) *DebateLedger {
	return &DebateLedger{store: s}
}

// RecordStart inserts a new debate row.
func (l *DebateLedger) RecordStart(ctx context.Context, s debate.Snapshot) error {
	_, err := l.store.db.ExecContext(ctx,
		`INSERT INTO debates(id, room, topic, agent_a, agent_b, max_rounds, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Room, s.Topic, s.AgentA, s.AgentB, s.MaxRounds, s.StartedAt.Unix(),
	)
	return err
}

// RecordEnd marks a debate row as finished.
func (l *DebateLedger) RecordEnd(ctx context.Context, id string, reason string, endedAt time.Time) error {
	_, err := l.store.db.ExecContext(ctx,
		`UPDATE debates SET ended_at = ?, reason = ? WHERE id = ?`,
		endedAt.Unix(), reason, id,
	)
	return err
}

// CompletedCount returns how many debates in the ledger have an ended_at
// timestamp. When a ledger is configured, /llm/status reports this count as
// completed_debates in place of the in-process counter.
func (l *DebateLedger) CompletedCount(ctx context.Context) (int, error) {
	var n int
	err := l.store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM debates WHERE ended_at IS NOT NULL`).Scan(&n)
	return n, err
}
