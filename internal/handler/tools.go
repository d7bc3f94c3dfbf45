package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/workway/mcp-gateway/internal/mcp"
)

// ListTools returns every registered tool with its schemas.
//
// GET /mcp/tools
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.ListTools())
}

// CallTool invokes one tool by name. The request body is the arguments
// object; an empty body means no arguments.
//
// POST /mcp/tools/{name}
func (h *Handler) CallTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := h.dispatcher.Registry().Get(name); !ok {
		writeError(w, http.StatusNotFound, "TOOL_NOT_FOUND", "Unknown tool: "+name)
		return
	}

	var args map[string]any
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		if tooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Request body must be a JSON object")
		return
	}

	result, err := h.dispatcher.CallTool(r.Context(), callerFor(r), name, args)
	if err != nil {
		h.writeToolError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeToolError(w http.ResponseWriter, name string, err error) {
	var quota *mcp.QuotaError
	switch {
	case errors.As(err, &quota):
		writeJSON(w, http.StatusPaymentRequired, ErrorResponse{Error: ErrorDetail{
			Code:    "QUOTA_EXCEEDED",
			Message: quota.Error(),
			Details: quota.Usage,
		}})
	case errors.Is(err, mcp.ErrUnknownTool):
		writeError(w, http.StatusNotFound, "TOOL_NOT_FOUND", "Unknown tool: "+name)
	case errors.Is(err, mcp.ErrToolTimeout):
		writeError(w, http.StatusGatewayTimeout, "TOOL_TIMEOUT", err.Error())
	default:
		h.logger.Error("tool call failed",
			slog.String("tool", name),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Tool call failed")
	}
}

// ListResources returns the resources of the configured provider.
//
// GET /mcp/resources
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.dispatcher.ListResources(r.Context())
	if err != nil {
		h.writeResourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mcp.ResourcesListResult{Resources: resources})
}

// ReadResource returns the contents of one resource.
//
// GET /mcp/resources/read?uri=
func (h *Handler) ReadResource(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	if uri == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "uri query parameter is required")
		return
	}

	contents, err := h.dispatcher.ReadResource(r.Context(), uri)
	if err != nil {
		h.writeResourceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mcp.ReadResourceResult{Contents: []mcp.ResourceContents{*contents}})
}

func (h *Handler) writeResourceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, mcp.ErrNoResourceProvider):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Resources are not supported")
	case errors.Is(err, mcp.ErrResourceNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		h.logger.Error("resource request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Resource request failed")
	}
}
