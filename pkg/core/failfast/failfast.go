// Package failfast turns programmer errors into immediate panics.
// It is for wiring mistakes (a nil handler, a nil stream), never for I/O
// failures, which are returned as errors.
package failfast

import (
	"errors"
	"fmt"
	"reflect"
	"runtime/debug"
)

// ErrFailFast is wrapped by every panic value raised in this package.
var ErrFailFast = errors.New("fail-fast")

// Err panics if err != nil, attaching the stack trace.
func Err(err error) {
	if err != nil {
		panic(fmt.Errorf("%w: %w\n%s", ErrFailFast, err, debug.Stack()))
	}
}

// If panics with a formatted message when condition is false.
func If(condition bool, message string, args ...interface{}) {
	if !condition {
		panic(fmt.Errorf("%w: %s", ErrFailFast, fmt.Sprintf(message, args...)))
	}
}

// NotNil panics if v is nil, including typed nil pointers, funcs, maps,
// chans and interfaces holding them.
func NotNil(v interface{}, name string) {
	if v == nil {
		panic(fmt.Errorf("%w: %s is nil", ErrFailFast, name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Func, reflect.Map, reflect.Chan, reflect.Interface, reflect.Slice:
		if rv.IsNil() {
			panic(fmt.Errorf("%w: %s is nil", ErrFailFast, name))
		}
	}
}

// Positive panics unless n > 0.
func Positive(n int, name string) {
	if n <= 0 {
		panic(fmt.Errorf("%w: %s must be positive, got %d", ErrFailFast, name, n))
	}
}
