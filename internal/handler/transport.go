package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/workway/mcp-gateway/internal/mcp"
)

// Message is the synchronous protocol channel: one JSON-RPC request in,
// one JSON-RPC response out. No session state is kept between calls.
//
// POST /mcp, POST /sse, POST /message
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req mcp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		writeJSON(w, http.StatusBadRequest, mcp.ParseErrorResponse(err.Error()))
		return
	}

	resp := h.dispatcher.Handle(r.Context(), &req, callerFor(r))
	writeJSON(w, http.StatusOK, resp)
}

// Stream opens the event stream. It announces the message endpoint, then
// writes a keep-alive comment every KeepAliveInterval until the client goes
// away. No protocol messages are sent on the stream.
//
// GET /sse
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)
	// The server write timeout would otherwise cut long-lived streams.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("clear stream write deadline", slog.String("error", err.Error()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := fmt.Fprintf(w, "event: endpoint\ndata: %s/message\n\n", h.cfg.BaseURL); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn("stream flush not supported", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.cfg.KeepAliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// Preflight answers bare OPTIONS requests on the transport routes.
//
// OPTIONS /sse, OPTIONS /message
func (h *Handler) Preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
