package worker

import (
	"context"
	"fmt"
	"runtime/debug"
)

// Handler turns one request frame into one response frame.
// req is owned by the handler; the returned slice is written as-is.
type Handler func(ctx context.Context, req []byte) ([]byte, error)

// Middleware wraps a Handler.
type Middleware func(next Handler) Handler

// PrefixHandler returns prefix followed by the request bytes. The prefix is
// not escaped when it also occurs inside the payload.
func PrefixHandler(prefix string) Handler {
	return func(_ context.Context, req []byte) ([]byte, error) {
		resp := make([]byte, 0, len(prefix)+len(req))
		resp = append(resp, prefix...)
		return append(resp, req...), nil
	}
}

// Chain applies middlewares to h so that the first middleware is outermost.
func Chain(h Handler, middlewares ...Middleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// PanicError is returned by Recover when the handler panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

// Recover converts a handler panic into a *PanicError so one bad frame
// cannot take the session down.
func Recover() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp = nil
					err = &PanicError{Value: r, Stack: debug.Stack()}
				}
			}()
			return next(ctx, req)
		}
	}
}
