package store

import (
	"context"
	"testing"
	"time"

	"agora/server/internal/debate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	if _, ok, err := s.GetSetting("missing"); err != nil || ok {
		t.Fatalf("expected missing setting to be absent: ok=%v err=%v", ok, err)
	}
	if err := s.SetSetting("greeting", "hello"); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := s.GetSetting("greeting")
	if err != nil || !ok || val != "hello" {
		t.Fatalf("get: val=%q ok=%v err=%v", val, ok, err)
	}
	if err := s.SetSetting("greeting", "updated"); err != nil {
		t.Fatalf("update: %v", err)
	}
	val, _, _ = s.GetSetting("greeting")
	if val != "updated" {
		t.Fatalf("expected updated value, got %q", val)
	}
}

func TestDebateLedgerRecordsStartAndEnd(t *testing.T) {
	s := newTestStore(t)
	ledger := NewDebateLedger(s)
	ctx := context.Background()

	snap := debate.Snapshot{
		ID:        "debate-1",
		Room:      "general",
		Topic:     "testing",
		AgentA:    "mock-a",
		AgentB:    "mock-b",
		MaxRounds: 6,
		StartedAt: time.Now(),
	}
	if err := ledger.RecordStart(ctx, snap); err != nil {
		t.Fatalf("record start: %v", err)
	}

	n, err := ledger.CompletedCount(ctx)
	if err != nil || n != 0 {
		t.Fatalf("expected 0 completed before ending, got n=%d err=%v", n, err)
	}

	if err := ledger.RecordEnd(ctx, "debate-1", "max_rounds", time.Now()); err != nil {
		t.Fatalf("record end: %v", err)
	}
	n, err = ledger.CompletedCount(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 completed after ending, got n=%d err=%v", n, err)
	}
}
