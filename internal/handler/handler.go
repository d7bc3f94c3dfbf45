// Package handler provides HTTP request handlers for the gateway.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/workway/mcp-gateway/internal/auth"
	"github.com/workway/mcp-gateway/internal/credential"
	"github.com/workway/mcp-gateway/internal/mcp"
	"github.com/workway/mcp-gateway/internal/model"
)

// UsageChecker reports a caller's current usage.
type UsageChecker interface {
	Check(ctx context.Context, caller *model.Caller) (*model.UsageResult, error)
}

// KeyManager issues and revokes API keys.
type KeyManager interface {
	Issue(ctx context.Context, caller *model.Caller) (*credential.IssuedKey, error)
	RevokeAll(ctx context.Context, caller *model.Caller) (*credential.RevokeResult, error)
	RevokeOne(ctx context.Context, key string, requester *model.Caller) error
}

// Config holds handler settings.
type Config struct {
	// BaseURL is the public URL used in advertised endpoints.
	BaseURL     string
	Description string
	// KeepAliveInterval is the SSE keep-alive period.
	KeepAliveInterval time.Duration
}

// Handler serves the gateway HTTP surface.
type Handler struct {
	dispatcher *mcp.Dispatcher
	usage      UsageChecker
	keys       KeyManager
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a new Handler instance.
func New(dispatcher *mcp.Dispatcher, usage UsageChecker, keys KeyManager, cfg Config, logger *slog.Logger) *Handler {
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 15 * time.Second
	}
	if cfg.Description == "" {
		cfg.Description = "Multi-tenant MCP tool gateway"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		dispatcher: dispatcher,
		usage:      usage,
		keys:       keys,
		cfg:        cfg,
		logger:     logger.With("component", "handler"),
		now:        time.Now,
	}
}

// InfoResponse describes the service.
type InfoResponse struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Description     string            `json:"description"`
	ProtocolVersion string            `json:"protocolVersion"`
	Endpoints       map[string]string `json:"endpoints"`
}

// Info returns the service identity and endpoint URLs.
// GET / and GET /mcp
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	info := h.dispatcher.ServerInfo()
	base := h.cfg.BaseURL

	endpoints := map[string]string{
		"mcp":     base + "/mcp",
		"sse":     base + "/sse",
		"message": base + "/message",
		"tools":   base + "/mcp/tools",
		"usage":   base + "/api/usage",
		"keys":    base + "/api/keys",
		"health":  base + "/health",
	}
	if h.dispatcher.HasResources() {
		endpoints["resources"] = base + "/mcp/resources"
	}

	writeJSON(w, http.StatusOK, InfoResponse{
		Name:            info.Name,
		Version:         info.Version,
		Description:     h.cfg.Description,
		ProtocolVersion: mcp.ProtocolVersion,
		Endpoints:       endpoints,
	})
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
}

// callerFor returns the caller injected by the identify middleware, or an
// anonymous caller keyed by the request fingerprint.
func callerFor(r *http.Request) *model.Caller {
	if c := auth.CallerFromContext(r.Context()); c != nil {
		return c
	}
	return &model.Caller{Fingerprint: auth.RequestFingerprint(r)}
}

// tooLarge reports whether a body read hit the MaxBodySize cap.
func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

// ErrorResponse is the REST error envelope.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a REST error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
