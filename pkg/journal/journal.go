// Package journal records completed exchanges to durable sinks. A Journal is
// a worker.Observer: it copies each exchange into an Entry and hands it to a
// single background writer, so a slow or failing sink never stalls the loop.
// Sink errors are logged and counted, never returned to the session.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/core/concurrency"
	"github.com/fluxorio/pongworker/pkg/worker"
)

// Entry is the journaled form of one exchange.
type Entry struct {
	ID         string        `json:"id"`
	SessionID  string        `json:"session_id"`
	Transport  string        `json:"transport"`
	Remote     string        `json:"remote,omitempty"`
	Seq        uint64        `json:"seq"`
	Request    []byte        `json:"request"`
	Response   []byte        `json:"response"`
	ReceivedAt time.Time     `json:"received_at"`
	Duration   time.Duration `json:"duration"`
}

// NewEntry copies ex so the entry stays valid after the loop moves on.
func NewEntry(s worker.Session, ex worker.Exchange) Entry {
	return Entry{
		ID:         ex.ID,
		SessionID:  s.ID,
		Transport:  s.Transport,
		Remote:     s.Remote,
		Seq:        ex.Seq,
		Request:    append([]byte(nil), ex.Request...),
		Response:   append([]byte(nil), ex.Response...),
		ReceivedAt: ex.ReceivedAt,
		Duration:   ex.Duration,
	}
}

// Sink persists entries. Write is only ever called from one goroutine.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Close() error
}

// Pinger is implemented by sinks that can report their own health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tune the background writer.
type Options struct {
	// QueueSize bounds entries waiting for the sink. When full, new entries
	// are dropped and counted.
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	// WriteTimeout bounds one Sink.Write call.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultOptions returns the writer defaults.
func DefaultOptions() Options {
	return Options{
		QueueSize:    4096,
		WriteTimeout: 5 * time.Second,
	}
}

// Stats are the journal's counters.
type Stats struct {
	Written int64 `json:"written"`
	Failed  int64 `json:"failed"`
	Dropped int64 `json:"dropped"`
}

// Journal writes exchanges to a Sink in completion order.
type Journal struct {
	worker.BaseObserver

	sink    Sink
	exec    concurrency.Executor
	logger  core.Logger
	timeout time.Duration

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64
}

// New starts a journal over sink. Close must be called to flush it.
func New(sink Sink, opts Options, logger core.Logger) *Journal {
	if sink == nil {
		panic("journal: sink cannot be nil")
	}
	defaults := DefaultOptions()
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	logger = logger.WithFields(map[string]interface{}{"component": "journal"})

	// One worker keeps entries in completion order.
	exec := concurrency.NewExecutor(context.Background(), concurrency.ExecutorConfig{
		Workers:   1,
		QueueSize: opts.QueueSize,
		Logger:    logger,
	})

	return &Journal{
		sink:    sink,
		exec:    exec,
		logger:  logger,
		timeout: opts.WriteTimeout,
	}
}

// ExchangeCompleted queues the exchange for the sink without blocking.
func (j *Journal) ExchangeCompleted(s worker.Session, ex worker.Exchange) {
	e := NewEntry(s, ex)
	err := j.exec.Submit(concurrency.NewNamedTask("journal.write", func(ctx context.Context) error {
		return j.write(ctx, e)
	}))
	if err != nil {
		j.dropped.Add(1)
		j.logger.Warnf("journal entry %s dropped: %v", e.ID, err)
	}
}

func (j *Journal) write(ctx context.Context, e Entry) error {
	// Entries queued before Close are still written after the executor
	// context is cancelled.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.timeout)
	defer cancel()

	if err := j.sink.Write(wctx, e); err != nil {
		j.failed.Add(1)
		return fmt.Errorf("entry %s: %w", e.ID, err)
	}
	j.written.Add(1)
	return nil
}

// Health pings the sink when it supports it.
func (j *Journal) Health(ctx context.Context) error {
	if p, ok := j.sink.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Stats returns the journal counters.
func (j *Journal) Stats() Stats {
	return Stats{
		Written: j.written.Load(),
		Failed:  j.failed.Load(),
		Dropped: j.dropped.Load(),
	}
}

// Close waits for queued entries to be written (up to ctx) and closes the
// sink.
func (j *Journal) Close(ctx context.Context) error {
	return errors.Join(j.exec.Shutdown(ctx), j.sink.Close())
}

// MultiSink writes every entry to each sink in order.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// Ping pings every sink that supports it.
func (m MultiSink) Ping(ctx context.Context) error {
	var errs []error
	for _, s := range m {
		if p, ok := s.(Pinger); ok {
			errs = append(errs, p.Ping(ctx))
		}
	}
	return errors.Join(errs...)
}

var _ worker.Observer = (*Journal)(nil)
