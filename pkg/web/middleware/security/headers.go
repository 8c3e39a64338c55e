// Package security provides response hardening and rate limiting middleware
// for the admin server.
package security

import (
	"github.com/fluxorio/pongworker/pkg/web"
)

// HeadersConfig configures security headers
type HeadersConfig struct {
	// CSP (Content Security Policy)
	CSP string

	// X-Frame-Options
	XFrameOptions string // DENY or SAMEORIGIN

	// X-Content-Type-Options
	XContentTypeOptions bool // nosniff

	// Referrer-Policy
	ReferrerPolicy string

	// Cache-Control, so counters and metrics are never served stale
	CacheControl string

	// Cross-Origin-Resource-Policy
	CrossOriginResourcePolicy string // e.g. "same-origin"

	// Custom headers
	CustomHeaders map[string]string
}

// DefaultHeadersConfig returns headers for a JSON and plain-text API.
func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		CSP:                       "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:             "DENY",
		XContentTypeOptions:       true,
		ReferrerPolicy:            "no-referrer",
		CacheControl:              "no-store",
		CrossOriginResourcePolicy: "same-origin",
		CustomHeaders:             make(map[string]string),
	}
}

// Headers middleware adds security headers to responses
func Headers(config HeadersConfig) web.FastMiddleware {
	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			h := &ctx.RequestCtx.Response.Header
			if config.CSP != "" {
				h.Set("Content-Security-Policy", config.CSP)
			}
			if config.XFrameOptions != "" {
				h.Set("X-Frame-Options", config.XFrameOptions)
			}
			if config.XContentTypeOptions {
				h.Set("X-Content-Type-Options", "nosniff")
			}
			if config.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", config.ReferrerPolicy)
			}
			if config.CacheControl != "" {
				h.Set("Cache-Control", config.CacheControl)
			}
			if config.CrossOriginResourcePolicy != "" {
				h.Set("Cross-Origin-Resource-Policy", config.CrossOriginResourcePolicy)
			}
			for key, value := range config.CustomHeaders {
				h.Set(key, value)
			}

			return next(ctx)
		}
	}
}
