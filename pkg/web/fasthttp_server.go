package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/core/failfast"
)

// FastHTTPServer is a small fasthttp server with a router, request IDs and
// request counters.
type FastHTTPServer struct {
	router *fastRouter
	server *fasthttp.Server
	addr   string
	logger core.Logger

	// wrap decorates the raw fasthttp handler, e.g. with metrics.
	wrap []func(fasthttp.RequestHandler) fasthttp.RequestHandler

	mu       sync.Mutex
	listener net.Listener

	totalRequests      int64
	successfulRequests int64
	errorRequests      int64
}

// FastHTTPServerConfig configures the fasthttp server
type FastHTTPServerConfig struct {
	Addr          string        `yaml:"addr" json:"addr"`
	ReadTimeout   time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout" json:"write_timeout"`
	MaxConnsPerIP int           `yaml:"max_conns_per_ip" json:"max_conns_per_ip"`
}

// DefaultFastHTTPServerConfig returns timeouts suited to an admin endpoint.
func DefaultFastHTTPServerConfig(addr string) *FastHTTPServerConfig {
	return &FastHTTPServerConfig{
		Addr:          addr,
		ReadTimeout:   10 * time.Second,
		WriteTimeout:  10 * time.Second,
		MaxConnsPerIP: 64,
	}
}

// NewFastHTTPServer creates a server. Register routes on Router before Serve.
func NewFastHTTPServer(config *FastHTTPServerConfig, logger core.Logger) *FastHTTPServer {
	failfast.NotNil(logger, "logger")
	if config == nil {
		config = DefaultFastHTTPServerConfig(":8080")
	}

	s := &FastHTTPServer{
		router: newFastRouter(),
		addr:   config.Addr,
		logger: logger,
		server: &fasthttp.Server{
			ReadTimeout:           config.ReadTimeout,
			WriteTimeout:          config.WriteTimeout,
			MaxConnsPerIP:         config.MaxConnsPerIP,
			NoDefaultServerHeader: true,
			ReduceMemoryUsage:     true,
		},
	}
	s.server.Handler = s.handleRequest
	return s
}

// Router returns the router
func (s *FastHTTPServer) Router() *fastRouter {
	return s.router
}

// Wrap decorates the raw request handler. Wrappers apply in order, the first
// one outermost. Call before Serve.
func (s *FastHTTPServer) Wrap(wrappers ...func(fasthttp.RequestHandler) fasthttp.RequestHandler) {
	s.wrap = append(s.wrap, wrappers...)
	var h fasthttp.RequestHandler = s.handleRequest
	for i := len(s.wrap) - 1; i >= 0; i-- {
		h = s.wrap[i](h)
	}
	s.server.Handler = h
}

// Handler returns the full request handler, wrappers included.
func (s *FastHTTPServer) Handler() fasthttp.RequestHandler {
	return s.server.Handler
}

// Serve serves on ln until Stop.
func (s *FastHTTPServer) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	if err := s.server.Serve(ln); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Start listens on the configured address and serves until Stop.
func (s *FastHTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.logger.Infof("admin server listening on %s", ln.Addr())
	return s.Serve(ln)
}

// ListeningAddr returns the bound address, or "" before Serve.
func (s *FastHTTPServer) ListeningAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting for in-flight requests until ctx ends.
func (s *FastHTTPServer) Stop(ctx context.Context) error {
	return s.server.ShutdownWithContext(ctx)
}

// Metrics returns current server metrics
func (s *FastHTTPServer) Metrics() ServerMetrics {
	return ServerMetrics{
		TotalRequests:      atomic.LoadInt64(&s.totalRequests),
		SuccessfulRequests: atomic.LoadInt64(&s.successfulRequests),
		ErrorRequests:      atomic.LoadInt64(&s.errorRequests),
	}
}

// ServerMetrics provides server request counters
type ServerMetrics struct {
	TotalRequests      int64 `json:"total_requests"`
	SuccessfulRequests int64 `json:"successful_requests"` // 200-299
	ErrorRequests      int64 `json:"error_requests"`      // 500-599
}

func (s *FastHTTPServer) handleRequest(ctx *fasthttp.RequestCtx) {
	requestID := string(ctx.Request.Header.Peek("X-Request-ID"))
	if requestID == "" {
		requestID = core.GenerateID()
	}
	ctx.Response.Header.Set("X-Request-ID", requestID)

	reqCtx := &FastRequestContext{
		RequestCtx: ctx,
		Params:     make(map[string]string),
		requestID:  requestID,
	}

	atomic.AddInt64(&s.totalRequests, 1)

	s.router.ServeFastHTTP(reqCtx)

	statusCode := ctx.Response.StatusCode()
	if statusCode >= 200 && statusCode < 300 {
		atomic.AddInt64(&s.successfulRequests, 1)
	} else if statusCode >= 500 {
		atomic.AddInt64(&s.errorRequests, 1)
	}
}

// FastRequestContext wraps fasthttp RequestCtx with route params and a
// request ID.
type FastRequestContext struct {
	RequestCtx *fasthttp.RequestCtx
	Params     map[string]string
	requestID  string
	values     map[string]interface{}
}

// JSON writes JSON response - fail-fast
func (c *FastRequestContext) JSON(statusCode int, data interface{}) error {
	if statusCode < 100 || statusCode > 599 {
		return fmt.Errorf("invalid status code: %d", statusCode)
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}

	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("application/json")
	c.RequestCtx.Write(jsonData)
	return nil
}

// Text writes text response
func (c *FastRequestContext) Text(statusCode int, text string) error {
	c.RequestCtx.SetStatusCode(statusCode)
	c.RequestCtx.SetContentType("text/plain; charset=utf-8")
	c.RequestCtx.WriteString(text)
	return nil
}

// Query returns query parameter value
func (c *FastRequestContext) Query(key string) string {
	return string(c.RequestCtx.QueryArgs().Peek(key))
}

// Param returns path parameter value
func (c *FastRequestContext) Param(key string) string {
	return c.Params[key]
}

// Method returns HTTP method
func (c *FastRequestContext) Method() []byte {
	return c.RequestCtx.Method()
}

// Path returns request path
func (c *FastRequestContext) Path() []byte {
	return c.RequestCtx.Path()
}

// Error writes error response
func (c *FastRequestContext) Error(msg string, statusCode int) {
	c.RequestCtx.Error(msg, statusCode)
}

// RequestID returns the request ID for this request
func (c *FastRequestContext) RequestID() string {
	return c.requestID
}

// Set stores a request-scoped value, e.g. the authenticated user.
func (c *FastRequestContext) Set(key string, value interface{}) {
	if c.values == nil {
		c.values = make(map[string]interface{})
	}
	c.values[key] = value
}

// Get returns a value stored with Set, or nil.
func (c *FastRequestContext) Get(key string) interface{} {
	return c.values[key]
}

// Context returns a context with request ID
func (c *FastRequestContext) Context() context.Context {
	ctx := context.Background()
	if c.requestID != "" {
		ctx = core.WithRequestID(ctx, c.requestID)
	}
	return ctx
}
