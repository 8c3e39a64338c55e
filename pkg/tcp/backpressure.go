package tcp

import (
	"sync/atomic"
)

// BackpressureController bounds in-flight connections at the normal capacity
// (queue + workers) and rejects overflow immediately instead of letting the
// kernel backlog grow.
type BackpressureController struct {
	normalCapacity int64
	currentLoad    atomic.Int64
	rejectedCount  atomic.Int64
}

// NewBackpressureController creates a new backpressure controller.
func NewBackpressureController(normalCapacity int) *BackpressureController {
	if normalCapacity < 1 {
		normalCapacity = 1
	}
	return &BackpressureController{normalCapacity: int64(normalCapacity)}
}

// TryAcquire reserves one unit of capacity.
// Returns false, and counts a rejection, when the controller is saturated.
func (bc *BackpressureController) TryAcquire() bool {
	for {
		cur := bc.currentLoad.Load()
		if cur >= bc.normalCapacity {
			bc.rejectedCount.Add(1)
			return false
		}
		if bc.currentLoad.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns one unit acquired with TryAcquire.
func (bc *BackpressureController) Release() {
	bc.currentLoad.Add(-1)
}

// GetMetrics returns current backpressure metrics.
func (bc *BackpressureController) GetMetrics() BackpressureMetrics {
	load := bc.currentLoad.Load()
	return BackpressureMetrics{
		NormalCapacity: bc.normalCapacity,
		CurrentLoad:    load,
		RejectedCount:  bc.rejectedCount.Load(),
		Utilization:    float64(load) / float64(bc.normalCapacity) * 100,
	}
}

// BackpressureMetrics provides backpressure statistics.
type BackpressureMetrics struct {
	NormalCapacity int64   // Normal capacity (queue + workers)
	CurrentLoad    int64   // Connections holding capacity
	RejectedCount  int64   // Total rejected connections
	Utilization    float64 // CurrentLoad as a percentage of NormalCapacity
}
