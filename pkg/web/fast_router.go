package web

import (
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
)

// fastRouter matches method and path, with ":name" path parameters.
type fastRouter struct {
	routes     []*fastRoute
	middleware []FastMiddleware
	mu         sync.RWMutex
}

type fastRoute struct {
	method  string
	path    string
	handler FastRequestHandler
}

// FastRequestHandler handles fasthttp requests
type FastRequestHandler func(ctx *FastRequestContext) error

// FastMiddleware is middleware for fasthttp
type FastMiddleware func(handler FastRequestHandler) FastRequestHandler

func newFastRouter() *fastRouter {
	return &fastRouter{
		routes:     make([]*fastRoute, 0),
		middleware: make([]FastMiddleware, 0),
	}
}

// ServeFastHTTP dispatches ctx to the first matching route.
func (r *fastRouter) ServeFastHTTP(ctx *FastRequestContext) {
	r.mu.RLock()
	routes := r.routes
	middleware := r.middleware
	r.mu.RUnlock()

	method := string(ctx.Method())
	path := string(ctx.Path())

	var handler FastRequestHandler
	for _, route := range routes {
		if matchPath(route.path, path) {
			if route.method != method {
				if handler == nil {
					handler = methodNotAllowed
				}
				continue
			}
			extractParams(route.path, path, ctx.Params)
			handler = route.handler
			break
		}
	}
	if handler == nil {
		handler = notFound
	}

	// Middleware wraps every request, including 404s, so auth and
	// rate limits apply to unknown paths too.
	for i := len(middleware) - 1; i >= 0; i-- {
		handler = middleware[i](handler)
	}

	if err := handler(ctx); err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
	}
}

func (r *fastRouter) GET(path string, handler FastRequestHandler) {
	r.Route(fasthttp.MethodGet, path, handler)
}

func (r *fastRouter) POST(path string, handler FastRequestHandler) {
	r.Route(fasthttp.MethodPost, path, handler)
}

// Route registers handler for method and path.
func (r *fastRouter) Route(method, path string, handler FastRequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, &fastRoute{
		method:  method,
		path:    path,
		handler: handler,
	})
}

// Use appends router-wide middleware. The first one registered runs first.
func (r *fastRouter) Use(middleware ...FastMiddleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

func notFound(ctx *FastRequestContext) error {
	ctx.Error("Not Found", fasthttp.StatusNotFound)
	return nil
}

func methodNotAllowed(ctx *FastRequestContext) error {
	ctx.Error("Method Not Allowed", fasthttp.StatusMethodNotAllowed)
	return nil
}

func matchPath(pattern, path string) bool {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	if len(patternParts) != len(pathParts) {
		return false
	}

	for i, part := range patternParts {
		if strings.HasPrefix(part, ":") {
			continue // Parameter
		}
		if part != pathParts[i] {
			return false
		}
	}

	return true
}

func extractParams(pattern, path string, params map[string]string) {
	patternParts := strings.Split(pattern, "/")
	pathParts := strings.Split(path, "/")

	for i, part := range patternParts {
		if strings.HasPrefix(part, ":") && i < len(pathParts) {
			params[strings.TrimPrefix(part, ":")] = pathParts[i]
		}
	}
}
