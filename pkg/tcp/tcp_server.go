package tcp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/core/concurrency"
	"github.com/fluxorio/pongworker/pkg/core/failfast"
)

// ErrServerStopped is returned by Listen after Stop.
var ErrServerStopped = errors.New("tcp server stopped")

// TCPServer is a backpressured TCP server.
// Accepted connections go through a bounded mailbox to a fixed set of
// executor workers; overflow is closed immediately.
type TCPServer struct {
	addr   string
	config *TCPServerConfig
	logger core.Logger

	mu       sync.RWMutex
	listener net.Listener
	stopping atomic.Bool

	connMailbox concurrency.Mailbox[net.Conn]
	executor    concurrency.Executor
	workers     int
	maxQueue    int

	startWorkersOnce sync.Once
	stopOnce         sync.Once
	stopErr          error

	handler      ConnectionHandler
	backpressure *BackpressureController
	maxConns     int
	activeConns  atomic.Int64 // in-flight (queued + processing)

	queuedConnections   atomic.Int64
	rejectedConnections atomic.Int64
	totalAccepted       atomic.Int64
	handledConnections  atomic.Int64
	errorConnections    atomic.Int64
}

// TCPServerConfig configures the TCP server.
type TCPServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`

	// Backpressure: bounded queue + worker pool.
	MaxQueue int `yaml:"max_queue" json:"max_queue"`
	Workers  int `yaml:"workers" json:"workers"`
	// MaxConns bounds concurrent in-flight connections (queued + handling).
	// 0 means unlimited.
	MaxConns int `yaml:"max_conns" json:"max_conns"`

	// IdleTimeout closes a connection that sends nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	// WriteTimeout bounds each response write.
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// TLSConfig enables TLS when non-nil.
	TLSConfig *tls.Config `yaml:"-" json:"-"`
}

// DefaultTCPServerConfig returns a sensible default configuration.
func DefaultTCPServerConfig(addr string) *TCPServerConfig {
	if addr == "" {
		addr = ":9000"
	}
	return &TCPServerConfig{
		Addr:         addr,
		MaxQueue:     100,
		Workers:      16,
		MaxConns:     0,
		IdleTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Second,
	}
}

// NewTCPServer creates a new TCP server. handler and logger must not be nil.
func NewTCPServer(config *TCPServerConfig, handler ConnectionHandler, logger core.Logger) *TCPServer {
	failfast.NotNil(handler, "tcp handler")
	failfast.NotNil(logger, "logger")

	if config == nil {
		config = DefaultTCPServerConfig("")
	}
	if config.Addr == "" {
		config.Addr = ":9000"
	}
	if config.MaxQueue < 1 {
		config.MaxQueue = 100
	}
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.MaxConns < 0 {
		config.MaxConns = 0
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = 5 * time.Minute
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}

	logger = logger.WithFields(map[string]interface{}{"component": "tcp-server"})

	return &TCPServer{
		addr:        config.Addr,
		config:      config,
		logger:      logger,
		connMailbox: concurrency.NewBoundedMailbox[net.Conn](config.MaxQueue),
		executor: concurrency.NewExecutor(context.Background(), concurrency.ExecutorConfig{
			Workers:   config.Workers,
			QueueSize: config.Workers,
			Logger:    logger,
		}),
		workers:      config.Workers,
		maxQueue:     config.MaxQueue,
		maxConns:     config.MaxConns,
		backpressure: NewBackpressureController(config.MaxQueue + config.Workers),
		handler:      handler,
	}
}

// Config returns the effective configuration.
func (s *TCPServer) Config() TCPServerConfig {
	return *s.config
}

// Listen binds the listener without accepting. Start calls it when needed;
// calling it first lets the caller learn the bound address synchronously.
func (s *TCPServer) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping.Load() {
		return ErrServerStopped
	}
	if s.listener != nil {
		return nil
	}

	var (
		ln  net.Listener
		err error
	)
	if s.config.TLSConfig != nil {
		ln, err = tls.Listen("tcp", s.addr, s.config.TLSConfig)
	} else {
		ln, err = net.Listen("tcp", s.addr)
	}
	if err != nil {
		return fmt.Errorf("tcp listen %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// ListeningAddr returns the actual listening address (useful when Addr is ":0").
// Returns empty string if not currently listening.
func (s *TCPServer) ListeningAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start accepts connections until Stop is called. It blocks and returns nil
// after a clean stop.
func (s *TCPServer) Start() error {
	if err := s.Listen(); err != nil {
		if errors.Is(err, ErrServerStopped) {
			return nil
		}
		return err
	}
	s.startConnWorkers()

	s.mu.RLock()
	ln := s.listener
	s.mu.RUnlock()
	if ln == nil {
		return nil
	}

	s.logger.Infof("tcp server listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		s.totalAccepted.Add(1)
		if !s.tryAcquireConnSlot() {
			s.rejectedConnections.Add(1)
			_ = conn.Close()
			continue
		}
		s.enqueueConn(conn)
	}
}

// Stop closes the listener, drops queued connections and cancels running
// handlers, waiting up to 5 seconds for them to return.
func (s *TCPServer) Stop() error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)

		s.mu.Lock()
		ln := s.listener
		s.listener = nil
		s.mu.Unlock()

		if ln != nil {
			_ = ln.Close()
		}

		s.drainQueued()
		s.connMailbox.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.stopErr = s.executor.Shutdown(ctx)
	})
	return s.stopErr
}

// Metrics returns current server metrics.
func (s *TCPServer) Metrics() ServerMetrics {
	bp := s.backpressure.GetMetrics()

	queued := s.queuedConnections.Load()
	queueUtil := float64(queued) / float64(s.maxQueue) * 100
	if queueUtil > 100.0 {
		queueUtil = 100.0
	}

	return ServerMetrics{
		QueuedConnections:   queued,
		RejectedConnections: s.rejectedConnections.Load(),
		QueueCapacity:       s.maxQueue,
		Workers:             s.workers,
		QueueUtilization:    queueUtil,
		NormalCCU:           int(bp.NormalCapacity),
		CurrentCCU:          int(bp.CurrentLoad),
		CCUUtilization:      bp.Utilization,
		TotalAccepted:       s.totalAccepted.Load(),
		HandledConnections:  s.handledConnections.Load(),
		ErrorConnections:    s.errorConnections.Load(),
		ActiveConnections:   s.activeConns.Load(),
		MaxConns:            s.maxConns,
	}
}

func (s *TCPServer) tryAcquireConnSlot() bool {
	// Unlimited: track active for metrics only.
	if s.maxConns <= 0 {
		s.activeConns.Add(1)
		return true
	}
	for {
		cur := s.activeConns.Load()
		if int(cur) >= s.maxConns {
			return false
		}
		if s.activeConns.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (s *TCPServer) releaseConnSlot() {
	s.activeConns.Add(-1)
}

func (s *TCPServer) enqueueConn(conn net.Conn) {
	if !s.backpressure.TryAcquire() {
		s.rejectedConnections.Add(1)
		s.releaseConnSlot()
		_ = conn.Close()
		return
	}

	// Count before Send so a fast worker never sees the gauge go negative.
	s.queuedConnections.Add(1)
	if err := s.connMailbox.Send(conn); err != nil {
		s.queuedConnections.Add(-1)
		s.backpressure.Release()
		s.rejectedConnections.Add(1)
		s.releaseConnSlot()
		_ = conn.Close()
	}
}

// drainQueued closes connections that were accepted but never handled.
func (s *TCPServer) drainQueued() {
	for {
		conn, ok, _ := s.connMailbox.TryReceive()
		if !ok {
			return
		}
		s.queuedConnections.Add(-1)
		_ = conn.Close()
		s.backpressure.Release()
		s.releaseConnSlot()
	}
}

func (s *TCPServer) startConnWorkers() {
	s.startWorkersOnce.Do(func() {
		for i := 0; i < s.workers; i++ {
			task := concurrency.NewNamedTask(
				fmt.Sprintf("tcp-worker-%d", i),
				s.processConnFromMailbox,
			)
			if err := s.executor.Submit(task); err != nil {
				s.logger.Errorf("failed to start tcp worker %d: %v", i, err)
			}
		}
	})
}

func (s *TCPServer) processConnFromMailbox(ctx context.Context) error {
	for {
		conn, err := s.connMailbox.Receive(ctx)
		if err != nil {
			if errors.Is(err, concurrency.ErrMailboxClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.queuedConnections.Add(-1)
		s.serveConn(ctx, conn)
	}
}

func (s *TCPServer) serveConn(ctx context.Context, conn net.Conn) {
	defer func() {
		_ = conn.Close()
		s.backpressure.Release()
		s.releaseConnSlot()
	}()

	s.handledConnections.Add(1)

	// Panic isolation must be per-connection; otherwise a panic would terminate
	// the worker goroutine and stop future processing.
	defer func() {
		if r := recover(); r != nil {
			s.errorConnections.Add(1)
			s.logger.Errorf("panic in tcp handler (isolated): %v", r)
		}
	}()

	if err := s.handler(ctx, conn); err != nil {
		s.errorConnections.Add(1)
		s.logger.Warnf("tcp handler error from %s: %v", conn.RemoteAddr(), err)
	}
}
