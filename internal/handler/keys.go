package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/workway/mcp-gateway/internal/credential"
)

// CreateKey issues a key for the resolved caller. Anonymous callers get an
// expiring key bound to their fingerprint. The plaintext key is only
// returned here.
//
// POST /api/keys
func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFor(r)

	issued, err := h.keys.Issue(r.Context(), caller)
	if err != nil {
		h.logger.Error("failed to issue API key",
			slog.String("caller", caller.ID()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue API key")
		return
	}
	writeJSON(w, http.StatusCreated, issued)
}

// RevokeKeys revokes every key of the resolved caller.
//
// DELETE /api/keys
func (h *Handler) RevokeKeys(w http.ResponseWriter, r *http.Request) {
	caller := callerFor(r)

	result, err := h.keys.RevokeAll(r.Context(), caller)
	if err != nil {
		h.logger.Error("failed to revoke API keys",
			slog.String("caller", caller.ID()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke API keys")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RevokeKey revokes one key owned by the resolved caller.
//
// DELETE /api/keys/{key}
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	caller := callerFor(r)
	key := chi.URLParam(r, "key")

	err := h.keys.RevokeOne(r.Context(), key, caller)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, credential.RevokeResult{Revoked: 1})
	case errors.Is(err, credential.ErrNotFound):
		writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found")
	case errors.Is(err, credential.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "API key belongs to another user")
	default:
		h.logger.Error("failed to revoke API key",
			slog.String("caller", caller.ID()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke API key")
	}
}
