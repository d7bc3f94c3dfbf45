package auth

import (
	"context"

	"github.com/workway/mcp-gateway/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// callerContextKey is the context key for storing the resolved Caller.
	callerContextKey contextKey = "caller"
)

// ContextWithCaller adds the resolved Caller to the context.
func ContextWithCaller(ctx context.Context, caller *model.Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

// CallerFromContext retrieves the Caller from the context.
// Returns nil if not present.
func CallerFromContext(ctx context.Context) *model.Caller {
	caller, ok := ctx.Value(callerContextKey).(*model.Caller)
	if !ok {
		return nil
	}
	return caller
}

// UserIDFromContext is a convenience function to get the user ID from context.
// Returns empty string for anonymous callers.
func UserIDFromContext(ctx context.Context) string {
	caller := CallerFromContext(ctx)
	if caller.IsAnonymous() {
		return ""
	}
	return caller.User.ID
}
