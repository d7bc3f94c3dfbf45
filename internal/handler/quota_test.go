package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/workway/mcp-gateway/internal/cache"
	"github.com/workway/mcp-gateway/internal/mcp"
	"github.com/workway/mcp-gateway/internal/model"
	"github.com/workway/mcp-gateway/internal/tools"
	"github.com/workway/mcp-gateway/internal/usage"
)

// newRedisMeteredHandler wires the real meter over a Redis-backed anonymous
// store so quota state lives where production keeps it.
func newRedisMeteredHandler(t *testing.T) (*Handler, *cache.Cache) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := cache.NewWithClient(client)

	registry := mcp.NewRegistry()
	registry.MustRegister(tools.Builtin()...)

	meter := usage.NewMeter(store, nil, model.DefaultTierLimits(), discardLogger())
	dispatcher := mcp.NewDispatcher(registry, meter, mcp.Options{Logger: discardLogger()})

	return New(dispatcher, meter, nil, Config{BaseURL: "https://gw.example.com"}, discardLogger()), store
}

func echoCall(id int) string {
	return fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"tools/call","params":{"name":"echo","arguments":{"message":"hi"}}}`, id)
}

func TestAnonymousQuota_RedisBacked(t *testing.T) {
	h, store := newRedisMeteredHandler(t)
	caller := &model.Caller{Fingerprint: "fp-redis"}

	for i := 1; i <= 50; i++ {
		rec, resp := postRPC(t, h, "/mcp", echoCall(i), caller)
		if rec.Code != http.StatusOK || resp.Error != nil {
			t.Fatalf("call %d: status %d, error %+v", i, rec.Code, resp.Error)
		}
	}

	rec, resp := postRPC(t, h, "/mcp", echoCall(51), caller)
	if rec.Code != http.StatusOK {
		t.Fatalf("call 51: expected status 200, got %d", rec.Code)
	}
	if resp.Error == nil || resp.Error.Code != mcp.CodeQuotaExceeded {
		t.Fatalf("call 51: expected code %d, got %+v", mcp.CodeQuotaExceeded, resp.Error)
	}

	stored, err := store.GetAnonymousUsage(context.Background(), "fp-redis")
	if err != nil {
		t.Fatalf("GetAnonymousUsage failed: %v", err)
	}
	if stored.Runs != 50 {
		t.Errorf("stored runs = %d, want 50", stored.Runs)
	}

	usageRec := httptest.NewRecorder()
	h.Usage(usageRec, withCaller(httptest.NewRequest(http.MethodGet, "/api/usage", nil), caller))
	var body UsageResponse
	if err := json.NewDecoder(usageRec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode usage: %v", err)
	}
	if body.Runs != 50 || body.Limit != 50 || !body.Exceeded || body.Remaining != 0 {
		t.Errorf("unexpected usage: %+v", body)
	}

	other := &model.Caller{Fingerprint: "fp-other"}
	if _, resp := postRPC(t, h, "/mcp", echoCall(52), other); resp.Error != nil {
		t.Errorf("a different fingerprint should still have quota, got %+v", resp.Error)
	}
}
