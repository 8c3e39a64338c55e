// Package worker implements the pong worker loop: read a frame, answer it
// with the handler chain, write and flush the answer, repeat until the input
// ends or the context is cancelled.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/core/concurrency"
	"github.com/fluxorio/pongworker/pkg/core/failfast"
	"github.com/fluxorio/pongworker/pkg/framing"
)

var (
	// ErrReadFailed wraps an unrecoverable read error ending a session.
	ErrReadFailed = errors.New("worker: read failed")

	// ErrWriteFailed wraps a write or flush error ending a session.
	ErrWriteFailed = errors.New("worker: write failed")
)

// Worker runs sessions. One Worker may serve many sessions concurrently.
type Worker struct {
	cfg         Config
	codec       framing.Codec
	handler     Handler
	middlewares []Middleware
	observers   Observers
	logger      core.Logger
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger core.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

// WithHandler replaces the default prefix handler.
func WithHandler(h Handler) Option {
	return func(w *Worker) {
		w.handler = h
	}
}

// WithMiddleware appends middlewares around the handler.
func WithMiddleware(mw ...Middleware) Option {
	return func(w *Worker) {
		w.middlewares = append(w.middlewares, mw...)
	}
}

// WithObserver registers observers.
func WithObserver(obs ...Observer) Option {
	return func(w *Worker) {
		w.observers = append(w.observers, obs...)
	}
}

// New creates a Worker from cfg.
func New(cfg Config, opts ...Option) (*Worker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	cfg = cfg.withDefaults()

	codec, err := framing.New(cfg.Framing, cfg.ChunkSize, cfg.MaxMessageSize)
	if err != nil {
		return nil, err
	}

	w := &Worker{
		cfg:     cfg,
		codec:   codec,
		handler: PrefixHandler(cfg.Prefix),
		logger:  core.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(w)
	}
	failfast.NotNil(w.handler, "handler")
	failfast.NotNil(w.logger, "logger")

	w.handler = Chain(w.handler, w.middlewares...)
	return w, nil
}

// Config returns the effective configuration.
func (w *Worker) Config() Config {
	return w.cfg
}

// Codec returns the codec used by Serve.
func (w *Worker) Codec() framing.Codec {
	return w.codec
}

// Serve runs one session over r and w using the configured codec.
//
// It returns nil when r reaches end of stream, ctx.Err() when ctx is
// cancelled, and an error wrapping ErrReadFailed or ErrWriteFailed otherwise.
// With OnEOFRetry it only returns on cancellation or a write failure.
func (w *Worker) Serve(ctx context.Context, r io.Reader, wr io.Writer) error {
	failfast.NotNil(r, "reader")
	failfast.NotNil(wr, "writer")
	return w.ServeStream(ctx, framing.NewStream(w.codec, r, wr))
}

// ServeStream runs one session over an already framed stream.
// Peer information attached with WithPeer is reported to observers.
func (w *Worker) ServeStream(ctx context.Context, stream framing.Stream) error {
	failfast.NotNil(stream, "stream")

	peer := PeerFromContext(ctx)
	sess := Session{
		ID:        core.GenerateID(),
		Transport: peer.Transport,
		Remote:    peer.Addr,
		StartedAt: time.Now(),
	}
	ctx = core.WithSessionID(ctx, sess.ID)

	s := &session{
		Worker: w,
		info:   sess,
		stream: stream,
		logger: w.logger.WithContext(ctx).WithFields(map[string]interface{}{
			"transport": sess.Transport,
			"remote":    sess.Remote,
		}),
	}

	w.observers.SessionStarted(sess)
	s.logger.Debug("session started")

	err := s.run(ctx)

	w.observers.SessionEnded(sess, err)
	switch {
	case err == nil:
		s.logger.Debug("session ended: end of input")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.logger.Debugf("session ended: %v", err)
	default:
		s.logger.Errorf("session ended: %v", err)
	}
	return err
}

type readResult struct {
	msg []byte
	err error
	at  time.Time
}

type session struct {
	*Worker
	info   Session
	stream framing.Stream
	logger core.Logger
	seq    uint64
}

func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := concurrency.NewBoundedMailbox[readResult](s.cfg.QueueSize)
	defer frames.Close()

	go s.readLoop(ctx, frames)

	for {
		res, err := frames.Receive(ctx)
		if err != nil {
			s.flushQuietly()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		if res.err != nil {
			if done, err := s.handleReadError(res.err); done {
				return err
			}
			continue
		}

		if err := s.exchange(ctx, res); err != nil {
			return err
		}
	}
}

// readLoop blocks in ReadMessage and hands results to the loop. It exits
// when ctx ends or, in stop mode, after the first terminal read error.
// A goroutine blocked in Read is only released when the stream is closed.
func (s *session) readLoop(ctx context.Context, frames concurrency.Mailbox[readResult]) {
	retry := s.cfg.OnEOF == OnEOFRetry
	for {
		msg, err := s.stream.ReadMessage()
		switch {
		case err == nil, errors.Is(err, framing.ErrFrameTooLarge):
			if frames.SendContext(ctx, readResult{msg: msg, err: err, at: time.Now()}) != nil {
				return
			}
		case errors.Is(err, framing.ErrNoData):
			if !sleepContext(ctx, s.cfg.PollInterval) {
				return
			}
		default:
			if frames.SendContext(ctx, readResult{err: err, at: time.Now()}) != nil {
				return
			}
			if !retry {
				return
			}
			if !sleepContext(ctx, s.cfg.PollInterval) {
				return
			}
		}
	}
}

// handleReadError reports whether the session is over, and with which error.
func (s *session) handleReadError(err error) (bool, error) {
	var tooLarge *framing.FrameTooLargeError
	if errors.As(err, &tooLarge) {
		s.logger.Warnf("dropping frame of %d bytes (limit %d)", tooLarge.Size, tooLarge.Limit)
		s.observers.FrameDropped(s.info, DropTooLarge, err)
		return false, nil
	}

	if s.cfg.OnEOF == OnEOFRetry {
		s.observers.ReadRetried(s.info, err)
		return false, nil
	}

	if errors.Is(err, io.EOF) {
		if ferr := s.stream.Flush(); ferr != nil {
			return true, fmt.Errorf("%w: %w", ErrWriteFailed, ferr)
		}
		return true, nil
	}
	return true, fmt.Errorf("%w: %w", ErrReadFailed, err)
}

func (s *session) exchange(ctx context.Context, res readResult) error {
	s.seq++
	ex := Exchange{
		ID:         core.GenerateID(),
		SessionID:  s.info.ID,
		Transport:  s.info.Transport,
		Seq:        s.seq,
		Request:    res.msg,
		ReceivedAt: res.at,
	}

	msgCtx := core.WithMessageID(ctx, ex.ID)
	resp, err := s.handler(msgCtx, res.msg)
	if err != nil {
		s.logger.WithContext(msgCtx).Warnf("handler failed, frame dropped: %v", err)
		s.observers.FrameDropped(s.info, DropHandler, err)
		if sk, ok := s.stream.(framing.ReplySkipper); ok {
			sk.SkipReply()
		}
		return nil
	}

	if err := s.stream.WriteMessage(resp); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := s.stream.Flush(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	ex.Response = resp
	ex.Duration = time.Since(res.at)
	s.observers.ExchangeCompleted(s.info, ex)
	return nil
}

func (s *session) flushQuietly() {
	if err := s.stream.Flush(); err != nil {
		s.logger.Debugf("flush on shutdown failed: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
