// Package engine implements the Monte Carlo AMC valuation engine: the
// core simulation loop evaluating pre-built per-trade AMC calculators
// along simulated paths into a result cube, and the multi-threaded
// orchestrator running independent market/model/portfolio pipelines per
// worker.
package engine

import (
	"sync/atomic"
)

// ProgressCallback receives monotonically increasing progress ticks.
// Callbacks may be invoked from multiple worker threads concurrently;
// consumers must tolerate that.
type ProgressCallback func(completed, total int, message string)

// ProgressReporter is a thread-safe monotonic progress counter shared by
// all workers of a run.
type ProgressReporter struct {
	total     int64
	completed atomic.Int64
	callback  ProgressCallback
}

// NewProgressReporter creates a reporter for a known total tick count.
// A nil callback is allowed and makes Add a counter-only operation.
func NewProgressReporter(total int, callback ProgressCallback) *ProgressReporter {
	return &ProgressReporter{total: int64(total), callback: callback}
}

// Add advances the counter by n and reports the new position.
func (r *ProgressReporter) Add(n int, message string) {
	completed := r.completed.Add(int64(n))
	if r.callback != nil {
		r.callback(int(completed), int(r.total), message)
	}
}

// Report re-emits the current position without advancing, e.g. at phase
// boundaries.
func (r *ProgressReporter) Report(message string) {
	if r.callback != nil {
		r.callback(int(r.completed.Load()), int(r.total), message)
	}
}

// Completed returns the current counter value.
func (r *ProgressReporter) Completed() int {
	return int(r.completed.Load())
}

// Total returns the total tick count.
func (r *ProgressReporter) Total() int {
	return int(r.total)
}
