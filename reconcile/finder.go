// Package reconcile converges execution state with the recovery service's
// authoritative job state. It is split into two stages: a Finder that cheaply
// lists candidate executions through the status index without writing
// anything, and a Poller that fetches job state and applies monotonic
// updates. The split keeps the scan path contention-free; only the poller
// ever writes.
package reconcile

import (
	"context"

	"github.com/ripcord-io/ripcord"
)

// Finder locates executions that may have in-flight recovery jobs. It reads
// the status secondary index only and performs no writes.
type Finder struct {
	executions ripcord.ExecutionStore
}

// NewFinder creates a Finder.
func NewFinder(executions ripcord.ExecutionStore) *Finder {
	return &Finder{executions: executions}
}

// Find returns the ids of executions eligible for reconciliation. Paused
// executions are included because waves launched before the pause checkpoint
// can still be converging.
func (f *Finder) Find(ctx context.Context) ([]string, error) {
	return f.executions.ListExecutionIDsByStatus(ctx,
		ripcord.ExecutionStatusRunning,
		ripcord.ExecutionStatusPaused,
	)
}
