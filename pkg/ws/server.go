package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/core/failfast"
	"github.com/fluxorio/pongworker/pkg/worker"
)

// ErrServerStopped is returned by Listen after Stop.
var ErrServerStopped = errors.New("ws: server stopped")

// Config configures the WebSocket transport.
type Config struct {
	Addr         string        `yaml:"addr" json:"addr"`
	Path         string        `yaml:"path" json:"path"`
	JWTSecret    string        `yaml:"jwt_secret" json:"jwt_secret"`
	JWTIssuer    string        `yaml:"jwt_issuer" json:"jwt_issuer"`
	ReadLimit    int64         `yaml:"read_limit" json:"read_limit"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// DefaultConfig returns a config serving /ws without authentication.
func DefaultConfig(addr string) Config {
	return Config{
		Addr:         addr,
		Path:         "/ws",
		ReadLimit:    16 << 20,
		IdleTimeout:  5 * time.Minute,
		WriteTimeout: 5 * time.Second,
	}
}

// Server upgrades HTTP requests on Config.Path and runs one worker session
// per connection.
type Server struct {
	cfg      Config
	worker   *worker.Worker
	auth     *Authenticator
	logger   core.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	http     *http.Server
	stopping bool
	sessions sync.WaitGroup
}

// NewServer creates a server for w. Authentication is enabled when
// cfg.JWTSecret is set.
func NewServer(cfg Config, w *worker.Worker, logger core.Logger) *Server {
	failfast.NotNil(w, "worker")
	failfast.NotNil(logger, "logger")
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:    cfg,
		worker: w,
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.JWTSecret != "" {
		s.auth = NewAuthenticator([]byte(cfg.JWTSecret), cfg.JWTIssuer, 30*time.Second)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, s)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// ServeHTTP authenticates and upgrades the request, then serves the session
// until the peer goes away or the server stops.
func (s *Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	logger := s.logger.WithFields(map[string]interface{}{"remote": r.RemoteAddr})

	var subject string
	if s.auth != nil {
		claims, err := s.auth.Authenticate(r)
		if err != nil {
			logger.Warnf("rejected websocket handshake: %v", err)
			rw.Header().Set("WWW-Authenticate", `Bearer realm="pongworker", error="invalid_token"`)
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}
		subject, _ = claims.GetSubject()
	}

	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		http.Error(rw, "server stopping", http.StatusServiceUnavailable)
		return
	}
	s.sessions.Add(1)
	s.mu.Unlock()
	defer s.sessions.Done()

	conn, err := s.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Debugf("websocket upgrade failed: %v", err)
		return
	}
	if s.cfg.ReadLimit > 0 {
		conn.SetReadLimit(s.cfg.ReadLimit)
	}

	stream := NewStream(conn, s.worker.Config().MaxMessageSize, s.cfg.IdleTimeout, s.cfg.WriteTimeout)
	ctx := worker.WithPeer(s.ctx, worker.Peer{Transport: worker.TransportWebSocket, Addr: r.RemoteAddr})

	// Closing the connection on stop releases the reader blocked in ReadMessage.
	stopWatch := context.AfterFunc(s.ctx, func() {
		_ = stream.Close(websocket.CloseGoingAway, "server stopping")
	})
	defer stopWatch()

	if subject != "" {
		logger = logger.WithFields(map[string]interface{}{"subject": subject})
	}
	err = s.worker.ServeStream(ctx, stream)
	switch {
	case err == nil:
		_ = stream.Close(websocket.CloseNormalClosure, "")
	case errors.Is(err, context.Canceled), s.ctx.Err() != nil:
	case errors.Is(err, os.ErrDeadlineExceeded):
		logger.Debug("websocket idle timeout")
		_ = stream.Close(websocket.CloseNormalClosure, "idle timeout")
	default:
		logger.Warnf("websocket session failed: %v", err)
		_ = stream.Close(websocket.CloseInternalServerErr, "")
	}
}

// Listen binds Config.Addr.
func (s *Server) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return ErrServerStopped
	}
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	return nil
}

// ListeningAddr returns the bound address, or "" before Listen.
func (s *Server) ListeningAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start serves until Stop. It calls Listen when needed.
func (s *Server) Start() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.listener
		s.mu.Unlock()
	}

	s.logger.Infof("websocket server listening on %s%s", ln.Addr(), s.cfg.Path)
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop cancels running sessions and waits for them until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.cancel()
	err := s.http.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}
