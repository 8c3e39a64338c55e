package concurrency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/pongworker/pkg/core"
)

var (
	// ErrExecutorClosed is returned by Submit after Shutdown.
	ErrExecutorClosed = errors.New("executor is closed")

	// ErrNilTask is returned when a nil task is submitted.
	ErrNilTask = errors.New("task cannot be nil")
)

// ExecutorConfig configures an Executor
type ExecutorConfig struct {
	Workers   int // Number of worker goroutines
	QueueSize int // Maximum queue size (bounded for backpressure)

	// Logger receives task failures. Defaults to core.NewDefaultLogger().
	Logger core.Logger
}

// DefaultExecutorConfig returns default executor configuration
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		Workers:   10,
		QueueSize: 1000,
	}
}

type defaultExecutor struct {
	taskChan  chan Task
	workers   int
	queueSize int
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	logger    core.Logger

	// mu guards closed and the send side of taskChan.
	mu     sync.RWMutex
	closed bool

	queuedTasks    int64
	completedTasks int64
	failedTasks    int64
	rejectedTasks  int64
}

// NewExecutor creates a new Executor and starts its workers.
func NewExecutor(ctx context.Context, config ExecutorConfig) Executor {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.QueueSize < 1 {
		config.QueueSize = 100
	}
	if config.Logger == nil {
		config.Logger = core.NewDefaultLogger()
	}

	ctx, cancel := context.WithCancel(ctx)

	e := &defaultExecutor{
		taskChan:  make(chan Task, config.QueueSize),
		workers:   config.Workers,
		queueSize: config.QueueSize,
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}

	e.wg.Add(e.workers)
	for i := 0; i < e.workers; i++ {
		go e.worker()
	}

	return e
}

func (e *defaultExecutor) worker() {
	defer e.wg.Done()

	for task := range e.taskChan {
		atomic.AddInt64(&e.queuedTasks, -1)
		e.run(task)
	}
}

// run executes one task, isolating panics so the worker survives.
func (e *defaultExecutor) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&e.failedTasks, 1)
			e.logger.Errorf("task %s panicked: %v", task.Name(), r)
		}
	}()

	if err := task.Execute(e.ctx); err != nil && !errors.Is(err, context.Canceled) {
		atomic.AddInt64(&e.failedTasks, 1)
		e.logger.Errorf("task %s failed: %v", task.Name(), err)
	}
	atomic.AddInt64(&e.completedTasks, 1)
}

func (e *defaultExecutor) Submit(task Task) error {
	if task == nil {
		return ErrNilTask
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}

	select {
	case e.taskChan <- task:
		atomic.AddInt64(&e.queuedTasks, 1)
		return nil
	default:
		atomic.AddInt64(&e.rejectedTasks, 1)
		return ErrMailboxFull
	}
}

func (e *defaultExecutor) SubmitWithTimeout(task Task, timeout time.Duration) error {
	if task == nil {
		return ErrNilTask
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrExecutorClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e.taskChan <- task:
		atomic.AddInt64(&e.queuedTasks, 1)
		return nil
	case <-timer.C:
		atomic.AddInt64(&e.rejectedTasks, 1)
		return fmt.Errorf("submit timeout after %v: %w", timeout, ErrMailboxFull)
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

func (e *defaultExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.taskChan)
	e.mu.Unlock()

	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (e *defaultExecutor) Stats() ExecutorStats {
	queued := atomic.LoadInt64(&e.queuedTasks)
	utilization := float64(queued) / float64(e.queueSize) * 100.0
	if utilization > 100.0 {
		utilization = 100.0
	}

	return ExecutorStats{
		QueuedTasks:      queued,
		ActiveWorkers:    e.workers,
		CompletedTasks:   atomic.LoadInt64(&e.completedTasks),
		FailedTasks:      atomic.LoadInt64(&e.failedTasks),
		RejectedTasks:    atomic.LoadInt64(&e.rejectedTasks),
		QueueCapacity:    e.queueSize,
		QueueUtilization: utilization,
	}
}
