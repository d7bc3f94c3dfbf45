package middleware

import (
	"log/slog"
	"net/http"

	"github.com/workway/mcp-gateway/internal/auth"
	"github.com/workway/mcp-gateway/internal/model"
)

// CallerResolver resolves the caller of a request. It never fails.
type CallerResolver interface {
	ResolveRequest(r *http.Request) *model.Caller
}

// Identify resolves the caller of every request and stores it in the
// request context. Unknown or unverifiable credentials leave the caller
// anonymous; requests are never rejected here.
func Identify(resolver CallerResolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := resolver.ResolveRequest(r)

			if caller.Credential != "" && caller.IsAnonymous() {
				logger.Debug("credential did not resolve to a user",
					slog.String("caller", caller.ID()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
			}

			ctx := auth.ContextWithCaller(r.Context(), caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
