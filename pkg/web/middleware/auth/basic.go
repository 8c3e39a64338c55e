// Package auth provides authentication middleware for the admin server.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/fluxorio/pongworker/pkg/web"
)

// BasicAuthConfig configures HTTP basic authentication
type BasicAuthConfig struct {
	// Username is the only accepted user name
	Username string

	// PasswordHash is a bcrypt hash of the password (see HashPassword)
	PasswordHash string

	// Realm is sent in WWW-Authenticate (default: "pongworker")
	Realm string

	// ClaimsKey is the key the user name is stored under in the request context
	ClaimsKey string

	// SkipPaths is a list of paths to skip authentication, e.g. /healthz
	SkipPaths []string
}

// DefaultBasicAuthConfig returns a basic auth configuration that leaves
// /healthz open for liveness probes.
func DefaultBasicAuthConfig(username, passwordHash string) BasicAuthConfig {
	return BasicAuthConfig{
		Username:     username,
		PasswordHash: passwordHash,
		Realm:        "pongworker",
		ClaimsKey:    "user",
		SkipPaths:    []string{"/healthz"},
	}
}

// BasicAuth middleware checks credentials against a bcrypt hash.
func BasicAuth(config BasicAuthConfig) web.FastMiddleware {
	if config.Username == "" || config.PasswordHash == "" {
		panic("BasicAuth: Username and PasswordHash must be provided")
	}
	if _, err := bcrypt.Cost([]byte(config.PasswordHash)); err != nil {
		panic(fmt.Sprintf("BasicAuth: PasswordHash is not a bcrypt hash: %v", err))
	}

	realm := config.Realm
	if realm == "" {
		realm = "pongworker"
	}
	claimsKey := config.ClaimsKey
	if claimsKey == "" {
		claimsKey = "user"
	}
	hash := []byte(config.PasswordHash)

	unauthorized := func(ctx *web.FastRequestContext) error {
		ctx.RequestCtx.Response.Header.Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
		return ctx.JSON(401, map[string]string{"error": "unauthorized"})
	}

	return func(next web.FastRequestHandler) web.FastRequestHandler {
		return func(ctx *web.FastRequestContext) error {
			path := string(ctx.Path())
			for _, skipPath := range config.SkipPaths {
				if path == skipPath {
					return next(ctx)
				}
			}

			user, password, ok := parseBasicAuth(string(ctx.RequestCtx.Request.Header.Peek("Authorization")))
			if !ok {
				return unauthorized(ctx)
			}
			// bcrypt runs for every attempt, matching user name or not.
			passErr := bcrypt.CompareHashAndPassword(hash, []byte(password))
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(config.Username)) == 1
			if !userOK || passErr != nil {
				return unauthorized(ctx)
			}

			ctx.Set(claimsKey, user)
			return next(ctx)
		}
	}
}

// HashPassword returns the bcrypt hash to put in BasicAuthConfig.PasswordHash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func parseBasicAuth(header string) (user, password string, ok bool) {
	scheme, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return "", "", false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", false
	}
	return strings.Cut(string(decoded), ":")
}
