package main

import "time"

// Operational limits for the process-wiring layer. Concerns that belong to
// a specific package (history length, rate-limit capacity, debate round and
// duration caps) are defined as constants in that package instead —
// roomstore and debate, respectively — since those are the modules that
// actually enforce them.
const (
	// defaultShutdownTimeout bounds the context used to stop active debates
	// during graceful shutdown. The HTTP server's own drain timeout is set
	// separately in httpapi.Server.Run.
	defaultShutdownTimeout = 5 * time.Second

	// metricsLogInterval is how often RunMetrics logs a snapshot of hub
	// occupancy and debate counters.
	metricsLogInterval = 30 * time.Second
)
