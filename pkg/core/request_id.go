package core

import (
	"context"

	"github.com/google/uuid"
)

type sessionIDKey struct{}

type messageIDKey struct{}

type requestIDKey struct{}

// WithSessionID adds a session ID to the context
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, sessionID)
}

// GetSessionID retrieves the session ID from context
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithMessageID adds a message ID to the context
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey{}, messageID)
}

// GetMessageID retrieves the message ID from context
func GetMessageID(ctx context.Context) string {
	if id, ok := ctx.Value(messageIDKey{}).(string); ok {
		return id
	}
	return ""
}

// WithRequestID adds an admin HTTP request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateID generates a new random ID for sessions and messages
func GenerateID() string {
	return uuid.New().String()
}
