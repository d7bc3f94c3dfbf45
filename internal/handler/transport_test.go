package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/workway/mcp-gateway/internal/mcp"
	"github.com/workway/mcp-gateway/internal/model"
)

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *mcp.RPCError   `json:"error"`
}

func postRPC(t *testing.T, h *Handler, path, body string, c *model.Caller) (*httptest.ResponseRecorder, rpcResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if c != nil {
		req = withCaller(req, c)
	}
	rec := httptest.NewRecorder()

	h.Message(rec, req)

	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return rec, resp
}

func TestMessage_ParseError(t *testing.T) {
	env := newTestEnv(t, nil, false)

	for _, body := range []string{"{not json", "", `"just a string"`} {
		rec, resp := postRPC(t, env.handler, "/mcp", body, nil)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected status 400, got %d", body, rec.Code)
		}
		if resp.Error == nil || resp.Error.Code != mcp.CodeParseError {
			t.Errorf("body %q: expected code %d, got %+v", body, mcp.CodeParseError, resp.Error)
		}
		if string(resp.ID) != "null" {
			t.Errorf("body %q: expected null id, got %s", body, resp.ID)
		}
	}
}

func TestMessage_ToolsList(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec, resp := postRPC(t, env.handler, "/mcp", `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if string(resp.ID) != "1" {
		t.Errorf("id = %s", resp.ID)
	}

	var list struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		t.Fatalf("failed to decode tools: %v", err)
	}
	if len(list.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(list.Tools))
	}
	for _, tool := range list.Tools {
		if len(tool.InputSchema) == 0 {
			t.Errorf("tool %s has empty inputSchema", tool.Name)
		}
	}
}

func TestMessage_AllTransportPathsShareDispatcher(t *testing.T) {
	env := newTestEnv(t, nil, false)
	caller := &model.Caller{Fingerprint: "shared"}
	body := `{"jsonrpc":"2.0","id":"a","method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`

	for _, path := range []string{"/mcp", "/sse", "/message"} {
		rec, resp := postRPC(t, env.handler, path, body, caller)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected status 200, got %d", path, rec.Code)
		}
		if resp.Error != nil {
			t.Fatalf("%s: unexpected error %+v", path, resp.Error)
		}

		var result mcp.CallToolResult
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			t.Fatalf("%s: failed to decode result: %v", path, err)
		}
		if result.IsError || len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "hi") {
			t.Errorf("%s: unexpected result %+v", path, result)
		}
	}

	if got := env.meter.runs[caller.ID()]; got != 3 {
		t.Errorf("runs = %d, want 3", got)
	}
}

func TestMessage_ProtocolErrorsAreHTTP200(t *testing.T) {
	env := newTestEnv(t, nil, false)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"sampling/create"}`, mcp.CodeMethodNotFound},
		{"unknown tool", `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ghost"}}`, mcp.CodeInvalidParams},
		{"no resource provider", `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, mcp.CodeInvalidParams},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, mcp.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := postRPC(t, env.handler, "/mcp", tt.body, nil)
			if rec.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rec.Code)
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("expected code %d, got %+v", tt.code, resp.Error)
			}
		})
	}
}

func TestMessage_QuotaExceeded(t *testing.T) {
	env := newTestEnv(t, nil, false)
	caller := &model.Caller{Fingerprint: "heavy"}
	env.meter.runs[caller.ID()] = 50

	_, resp := postRPC(t, env.handler, "/mcp",
		`{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"echo","arguments":{"message":"x"}}}`, caller)

	if resp.Error == nil || resp.Error.Code != mcp.CodeQuotaExceeded {
		t.Fatalf("expected quota error, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "Sign up") {
		t.Errorf("unexpected message: %s", resp.Error.Message)
	}
}

func TestStream_EndpointThenKeepAlive(t *testing.T) {
	env := newTestEnv(t, nil, false)
	env.handler.cfg.KeepAliveInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		env.handler.Stream(rec, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not stop after client went away")
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %s", ct)
	}
	body := rec.Body.String()
	if !strings.HasPrefix(body, "event: endpoint\ndata: https://gw.example.com/message\n\n") {
		t.Errorf("stream must start with the endpoint event, got %q", body)
	}
	if !strings.Contains(body, ": keepalive\n\n") {
		t.Errorf("expected a keep-alive comment, got %q", body)
	}
	if !rec.Flushed {
		t.Error("expected stream to be flushed")
	}
}

func TestPreflight(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := httptest.NewRecorder()
	env.handler.Preflight(rec, httptest.NewRequest(http.MethodOptions, "/message", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", rec.Code)
	}
}

func TestMessage_BodyTooLarge(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Body = http.MaxBytesReader(rec, req.Body, 8)

	env.handler.Message(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected status 413, got %d", rec.Code)
	}
}
