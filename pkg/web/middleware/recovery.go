package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/fluxorio/pongworker/pkg/core"
	"github.com/fluxorio/pongworker/pkg/web"
)

// RecoveryConfig configures panic recovery middleware
type RecoveryConfig struct {
	// Logger receives the panic and stack (default: core.NewDefaultLogger())
	Logger core.Logger

	// StackTrace includes the panic value in the response body
	StackTrace bool
}

// DefaultRecoveryConfig returns a default recovery configuration
func DefaultRecoveryConfig() RecoveryConfig {
	return RecoveryConfig{
		Logger:     core.NewDefaultLogger(),
		StackTrace: false,
	}
}

// Recovery middleware recovers from panics and returns 500 error
func Recovery(config RecoveryConfig) web.FastMiddleware {
	logger := config.Logger
	if logger == nil {
		logger = core.NewDefaultLogger()
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.WithContext(ctx.Context()).WithFields(map[string]interface{}{
						"method": string(ctx.Method()),
						"path":   string(ctx.Path()),
						"stack":  string(debug.Stack()),
					}).Errorf("panic recovered: %v", r)

					message := "Internal Server Error"
					if config.StackTrace {
						message = fmt.Sprintf("panic: %v", r)
					}
					err = ctx.JSON(500, map[string]string{
						"error":      "internal_server_error",
						"message":    message,
						"request_id": ctx.RequestID(),
					})
				}
			}()

			return next(ctx)
		}
	}
}
