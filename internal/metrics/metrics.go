package metrics

import (
	"sync"
	"sync/atomic"
)

// executionStats holds counters for finished rule executions. Kept
// simple/thread-safe for use from the engine and exposition.
type executionStats struct {
	total    uint64
	mu       sync.Mutex
	byStatus map[string]uint64
}

var exec executionStats

// IncExecution increments execution counters for the given terminal
// status.
func IncExecution(status string) {
	if status == "" {
		status = "unknown"
	}
	atomic.AddUint64(&exec.total, 1)
	exec.mu.Lock()
	if exec.byStatus == nil {
		exec.byStatus = make(map[string]uint64)
	}
	exec.byStatus[status]++
	exec.mu.Unlock()
}

// ExecutionSnapshot returns a copy of the current counters.
func ExecutionSnapshot() (total uint64, by map[string]uint64) {
	total = atomic.LoadUint64(&exec.total)
	exec.mu.Lock()
	defer exec.mu.Unlock()
	by = make(map[string]uint64, len(exec.byStatus))
	for k, v := range exec.byStatus {
		by[k] = v
	}
	return total, by
}
