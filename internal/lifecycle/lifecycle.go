package lifecycle

import "sync/atomic"

var draining atomic.Bool

// SetShuttingDown marks the process as draining. Call when
// SIGTERM/SIGINT is received; the health handler reports
// shutting-down with a 503 while set.
func SetShuttingDown(v bool) {
	draining.Store(v)
}

// IsShuttingDown reports whether the process is draining and should not
// receive new traffic.
func IsShuttingDown() bool {
	return draining.Load()
}
