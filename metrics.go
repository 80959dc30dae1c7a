package main

import (
	"context"
	"log"
	"time"

	"agora/server/internal/debate"
	"agora/server/internal/hub"
)

// RunMetrics logs hub occupancy and debate counters every interval until
// ctx is canceled.
func RunMetrics(ctx context.Context, h *hub.Hub, orch *debate.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			clients := h.TotalSessions()
			rooms := len(h.Rooms())

			active := 0
			stats := (*debate.Stats)(nil)
			if orch != nil {
				active = len(orch.Active())
				stats = orch.Stats()
			}

			if clients == 0 && active == 0 {
				continue
			}
			if stats != nil {
				log.Printf("[metrics] clients=%d rooms=%d active_debates=%d completed_debates=%d total_tokens=%d",
					clients, rooms, active, stats.CompletedDebates, stats.TotalTokens)
			} else {
				log.Printf("[metrics] clients=%d rooms=%d active_debates=%d", clients, rooms, active)
			}
		}
	}
}
