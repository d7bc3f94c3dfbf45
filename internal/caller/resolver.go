// Package caller resolves inbound credentials to a caller identity.
package caller

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/workway/mcp-gateway/internal/auth"
	"github.com/workway/mcp-gateway/internal/model"
	"github.com/workway/mcp-gateway/internal/repository"
)

// CredentialValidator looks up issued API keys.
type CredentialValidator interface {
	Validate(ctx context.Context, key string) (*model.Identity, error)
}

// UserLookup loads persistent users.
type UserLookup interface {
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByAccessToken(ctx context.Context, token string) (*model.User, error)
}

// Resolver maps bearer tokens to callers. Lookups that fail for any reason
// leave the caller anonymous.
type Resolver struct {
	credentials CredentialValidator
	users       UserLookup
	logger      *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(credentials CredentialValidator, users UserLookup, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		credentials: credentials,
		users:       users,
		logger:      logger.With("component", "caller.resolver"),
	}
}

// ResolveRequest resolves the caller for an HTTP request using its
// Authorization header and connection fingerprint.
func (r *Resolver) ResolveRequest(req *http.Request) *model.Caller {
	return r.Resolve(req.Context(), req.Header.Get("Authorization"), auth.RequestFingerprint(req))
}

// Resolve returns the caller for an authorization value. It never fails;
// unknown or unresolvable tokens yield an anonymous caller.
func (r *Resolver) Resolve(ctx context.Context, authorization, fingerprint string) *model.Caller {
	token := BearerToken(authorization)
	caller := &model.Caller{Fingerprint: fingerprint, Credential: token}
	if token == "" {
		return caller
	}

	if auth.ValidateKeyFormat(token) {
		if resolved, ok := r.resolveAPIKey(ctx, token, caller); ok {
			return resolved
		}
	}

	if user := r.resolveAccessToken(ctx, token); user != nil {
		caller.User = user
	}
	return caller
}

// resolveAPIKey handles issued keys. Anonymous keys carry their own
// fingerprint, so usage follows the key rather than the connection.
func (r *Resolver) resolveAPIKey(ctx context.Context, key string, caller *model.Caller) (*model.Caller, bool) {
	identity, err := r.credentials.Validate(ctx, key)
	if err != nil {
		r.logger.Warn("api key lookup failed", "error", err)
		return nil, false
	}
	if identity == nil {
		return nil, false
	}

	if identity.IsAnonymous() {
		caller.Fingerprint = identity.Fingerprint
		return caller, true
	}

	user, err := r.users.GetUserByID(ctx, identity.UserID)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			r.logger.Warn("user lookup failed", "user_id", identity.UserID, "error", err)
		}
		return nil, false
	}
	caller.User = user
	return caller, true
}

func (r *Resolver) resolveAccessToken(ctx context.Context, token string) *model.User {
	user, err := r.users.GetUserByAccessToken(ctx, token)
	if err != nil {
		if !errors.Is(err, repository.ErrUserNotFound) {
			r.logger.Warn("access token lookup failed", "error", err)
		}
		return nil
	}
	return user
}

// BearerToken strips a "Bearer " scheme from an Authorization value.
func BearerToken(authorization string) string {
	value := strings.TrimSpace(authorization)
	if strings.EqualFold(value, "bearer") {
		return ""
	}
	if len(value) > 7 && strings.EqualFold(value[:7], "bearer ") {
		value = strings.TrimSpace(value[7:])
	}
	return value
}
