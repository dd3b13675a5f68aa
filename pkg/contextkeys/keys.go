// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here. This
// prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import (
	"context"

	"github.com/tierguard/tierguard/pkg/auth"
)

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.AuthContext
	// Set by: middleware.AuthMiddleware (pkg/middleware/middleware.go)
	// Required by: all protected endpoints and the diagnostic handlers
	AuthKey Key = "auth_context"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: observability request middleware
	// Used by: logger, structured error responses
	RequestIDKey Key = "request_id"
)

// WithAuth adds authentication context to the context
func WithAuth(ctx context.Context, ac *auth.AuthContext) context.Context {
	return context.WithValue(ctx, AuthKey, ac)
}

// AuthFrom retrieves the authentication context, or nil when the request
// passed through an auth-optional route without credentials
func AuthFrom(ctx context.Context) *auth.AuthContext {
	ac, _ := ctx.Value(AuthKey).(*auth.AuthContext)
	return ac
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// RequestIDFrom retrieves the request ID from context
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
