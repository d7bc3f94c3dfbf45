package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/workway/mcp-gateway/internal/auth"
	"github.com/workway/mcp-gateway/internal/credential"
	"github.com/workway/mcp-gateway/internal/mcp"
	"github.com/workway/mcp-gateway/internal/model"
	"github.com/workway/mcp-gateway/internal/tools"
)

// fakeMeter counts runs per caller against a single limit.
type fakeMeter struct {
	mu       sync.Mutex
	limit    int64
	runs     map[string]int64
	checkErr error
}

func newFakeMeter(limit int64) *fakeMeter {
	return &fakeMeter{limit: limit, runs: map[string]int64{}}
}

func (f *fakeMeter) Check(_ context.Context, c *model.Caller) (*model.UsageResult, error) {
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	runs := f.runs[c.ID()]
	return &model.UsageResult{
		Exceeded: f.limit != model.Unlimited && runs >= f.limit,
		Runs:     runs,
		Limit:    f.limit,
		Tier:     c.Tier(),
	}, nil
}

func (f *fakeMeter) Increment(_ context.Context, c *model.Caller) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[c.ID()]++
	return nil
}

type testEnv struct {
	handler *Handler
	meter   *fakeMeter
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T, keys KeyManager, withResources bool) *testEnv {
	t.Helper()

	registry := mcp.NewRegistry()
	registry.MustRegister(tools.Builtin()...)

	meter := newFakeMeter(50)
	opts := mcp.Options{ServerName: "test-gateway", ServerVersion: "1.2.3", Logger: discardLogger()}
	if withResources {
		opts.Resources = tools.NewResources(registry, model.DefaultTierLimits())
	}
	dispatcher := mcp.NewDispatcher(registry, meter, opts)

	h := New(dispatcher, meter, keys, Config{BaseURL: "https://gw.example.com/"}, discardLogger())
	return &testEnv{handler: h, meter: meter}
}

// withURLParam sets a chi route parameter on the request.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withCaller(r *http.Request, c *model.Caller) *http.Request {
	return r.WithContext(auth.ContextWithCaller(r.Context(), c))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return resp.Error
}

func TestHandler_Info(t *testing.T) {
	env := newTestEnv(t, nil, true)

	for _, path := range []string{"/", "/mcp"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, path, nil)
			rec := httptest.NewRecorder()

			env.handler.Info(rec, req)

			if rec.Code != http.StatusOK {
				t.Errorf("expected status 200, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("expected Content-Type application/json, got %s", ct)
			}

			var info InfoResponse
			if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if info.Name != "test-gateway" || info.Version != "1.2.3" {
				t.Errorf("unexpected identity: %s %s", info.Name, info.Version)
			}
			if info.ProtocolVersion != mcp.ProtocolVersion {
				t.Errorf("protocolVersion = %s", info.ProtocolVersion)
			}
			if got := info.Endpoints["mcp"]; got != "https://gw.example.com/mcp" {
				t.Errorf("mcp endpoint = %s", got)
			}
			if _, ok := info.Endpoints["resources"]; !ok {
				t.Error("expected resources endpoint when a provider is configured")
			}
		})
	}
}

func TestHandler_Info_NoResources(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := httptest.NewRecorder()
	env.handler.Info(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var info InfoResponse
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := info.Endpoints["resources"]; ok {
		t.Error("resources endpoint advertised without a provider")
	}
}

func TestHandler_NotFound(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := httptest.NewRecorder()
	env.handler.NotFound(rec, httptest.NewRequest(http.MethodGet, "/nonexistent", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "NOT_FOUND" {
		t.Errorf("unexpected error code: %s", e.Code)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil, false)

	rec := httptest.NewRecorder()
	env.handler.MethodNotAllowed(rec, httptest.NewRequest(http.MethodPut, "/mcp", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", rec.Code)
	}
	if e := decodeError(t, rec); e.Code != "METHOD_NOT_ALLOWED" {
		t.Errorf("unexpected error code: %s", e.Code)
	}
}

func TestCallerFor_FallsBackToFingerprint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	req.Header.Set("User-Agent", "agent/1.0")

	c := callerFor(req)
	if !c.IsAnonymous() {
		t.Fatal("expected anonymous caller")
	}
	if c.Fingerprint != auth.RequestFingerprint(req) {
		t.Errorf("fingerprint = %s, want %s", c.Fingerprint, auth.RequestFingerprint(req))
	}

	user := &model.Caller{Fingerprint: "fp", User: &model.User{ID: "u1", Tier: model.TierPro}}
	if got := callerFor(withCaller(req, user)); got != user {
		t.Error("expected injected caller")
	}
}

func TestHandler_Usage(t *testing.T) {
	env := newTestEnv(t, nil, false)
	anon := &model.Caller{Fingerprint: "abc"}
	env.meter.runs[anon.ID()] = 12

	rec := httptest.NewRecorder()
	env.handler.Usage(rec, withCaller(httptest.NewRequest(http.MethodGet, "/api/usage", nil), anon))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var usage UsageResponse
	if err := json.NewDecoder(rec.Body).Decode(&usage); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if usage.Runs != 12 || usage.Limit != 50 || usage.Remaining != 38 {
		t.Errorf("unexpected usage: %+v", usage)
	}
	if usage.Tier != model.TierAnonymous {
		t.Errorf("tier = %s", usage.Tier)
	}
	if usage.ResetAt != nil {
		t.Error("anonymous usage should have no reset date")
	}
}

func TestHandler_Usage_ResetAt(t *testing.T) {
	days := 12
	meter := &stubUsage{result: &model.UsageResult{Runs: 3, Limit: 500, Tier: model.TierFree, UserID: "u1", DaysUntilReset: &days}}
	h := New(mcp.NewDispatcher(mcp.NewRegistry(), meter, mcp.Options{}), meter, nil, Config{}, discardLogger())

	rec := httptest.NewRecorder()
	h.Usage(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))

	var usage UsageResponse
	if err := json.NewDecoder(rec.Body).Decode(&usage); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if usage.ResetAt == nil {
		t.Fatal("expected resetAt")
	}
	if usage.Remaining != 497 {
		t.Errorf("remaining = %d", usage.Remaining)
	}
}

func TestHandler_Usage_StoreError(t *testing.T) {
	env := newTestEnv(t, nil, false)
	env.meter.checkErr = errors.New("redis down")

	rec := httptest.NewRecorder()
	env.handler.Usage(rec, httptest.NewRequest(http.MethodGet, "/api/usage", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", rec.Code)
	}
	if body := rec.Body.String(); strings.Contains(body, "redis down") {
		t.Errorf("internal error leaked: %s", body)
	}
}

type stubUsage struct {
	result *model.UsageResult
}

func (s *stubUsage) Check(context.Context, *model.Caller) (*model.UsageResult, error) {
	return s.result, nil
}

func (s *stubUsage) Increment(context.Context, *model.Caller) error { return nil }

var _ KeyManager = (*credential.Store)(nil)
