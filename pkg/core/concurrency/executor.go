package concurrency

import (
	"context"
	"time"
)

// ExecutorStats provides statistics about executor performance
type ExecutorStats struct {
	QueuedTasks      int64   // Current number of queued tasks
	ActiveWorkers    int     // Number of worker goroutines
	CompletedTasks   int64   // Total completed tasks
	FailedTasks      int64   // Tasks that returned an error or panicked
	RejectedTasks    int64   // Total rejected tasks (backpressure)
	QueueCapacity    int     // Maximum queue capacity
	QueueUtilization float64 // Queue utilization percentage
}

// Executor runs Tasks on a fixed set of goroutines fed by a bounded queue.
type Executor interface {
	// Submit queues a task for execution.
	// Returns ErrMailboxFull if the queue is full, ErrExecutorClosed after Shutdown.
	Submit(task Task) error

	// SubmitWithTimeout waits up to timeout for queue space.
	SubmitWithTimeout(task Task, timeout time.Duration) error

	// Shutdown stops accepting tasks, cancels the executor context and waits
	// for workers to return (up to ctx timeout).
	Shutdown(ctx context.Context) error

	// Stats returns current executor statistics
	Stats() ExecutorStats
}
