package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/workway/mcp-gateway/internal/metrics"
	"github.com/workway/mcp-gateway/internal/model"
)

// fakeMeter counts per caller in memory with a fixed limit.
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
		Exceeded: runs >= f.limit,
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

func (f *fakeMeter) count(c *model.Caller) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[c.ID()]
}

type fakeCalls struct {
	mu    sync.Mutex
	calls []*model.ToolCall
}

func (f *fakeCalls) RecordToolCall(_ context.Context, call *model.ToolCall) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func messageSchema() *openapi3.Schema {
	s := openapi3.NewObjectSchema().WithProperty("message", openapi3.NewStringSchema().WithMinLength(1))
	s.Required = []string{"message"}
	return s
}

func newEchoTool(executions *atomic.Int64) *Tool {
	return &Tool{
		Name:        "echo",
		Description: "Echo a message",
		InputSchema: messageSchema(),
		Execute: func(_ context.Context, args map[string]any, _ *Env) (*ToolResult, error) {
			executions.Add(1)
			return OK(map[string]any{"message": args["message"]}), nil
		},
	}
}

type testEnv struct {
	d          *Dispatcher
	meter      *fakeMeter
	calls      *fakeCalls
	recorder   *metrics.InMemoryRecorder
	executions *atomic.Int64
}

func newTestEnv(t *testing.T, limit int64, extra ...*Tool) *testEnv {
	t.Helper()
	executions := &atomic.Int64{}
	reg := NewRegistry()
	if err := reg.Register(newEchoTool(executions)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, tool := range extra {
		if err := reg.Register(tool); err != nil {
			t.Fatalf("Register %s: %v", tool.Name, err)
		}
	}

	meter := newFakeMeter(limit)
	calls := &fakeCalls{}
	recorder := metrics.NewInMemory()
	d := NewDispatcher(reg, meter, Options{
		ServerName:    "test-gateway",
		ServerVersion: "1.2.3",
		ToolTimeout:   200 * time.Millisecond,
		Calls:         calls,
		Metrics:       recorder,
	})
	return &testEnv{d: d, meter: meter, calls: calls, recorder: recorder, executions: executions}
}

func rpc(method string, params any) *Request {
	req := &Request{JSONRPC: "2.0", ID: json.RawMessage(`1`), Method: method}
	if params != nil {
		raw, _ := json.Marshal(params)
		req.Params = raw
	}
	return req
}

func callEcho(message any) *Request {
	return rpc(MethodToolsCall, map[string]any{
		"name":      "echo",
		"arguments": map[string]any{"message": message},
	})
}

func TestHandle_Initialize(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.d.Handle(context.Background(), rpc(MethodInitialize, nil), nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	res := resp.Result.(*InitializeResult)
	if res.ProtocolVersion != ProtocolVersion {
		t.Errorf("ProtocolVersion = %q", res.ProtocolVersion)
	}
	if res.ServerInfo.Name != "test-gateway" || res.ServerInfo.Version != "1.2.3" {
		t.Errorf("ServerInfo = %+v", res.ServerInfo)
	}
	if res.Capabilities.Resources != nil {
		t.Error("resources capability advertised without provider")
	}
	if string(resp.ID) != "1" {
		t.Errorf("ID = %s, want 1", resp.ID)
	}
}

func TestHandle_PingReturnsEmptyObject(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.d.Handle(context.Background(), rpc(MethodPing, nil), nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if string(raw) != "{}" {
		t.Errorf("ping result = %s, want {}", raw)
	}
}

func TestHandle_ToolsListReturnsEveryTool(t *testing.T) {
	second := &Tool{
		Name:        "second",
		Description: "Second tool",
		InputSchema: openapi3.NewObjectSchema(),
		Execute: func(context.Context, map[string]any, *Env) (*ToolResult, error) {
			return OK(nil), nil
		},
	}
	env := newTestEnv(t, 10, second)

	resp := env.d.Handle(context.Background(), rpc(MethodToolsList, nil), nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Result struct {
			Tools []struct {
				Name        string         `json:"name"`
				InputSchema map[string]any `json:"inputSchema"`
			} `json:"tools"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Result.Tools) != 2 {
		t.Fatalf("got %d tools, want 2", len(decoded.Result.Tools))
	}
	for _, tool := range decoded.Result.Tools {
		if len(tool.InputSchema) == 0 {
			t.Errorf("tool %s has empty inputSchema", tool.Name)
		}
		if tool.InputSchema["type"] != "object" {
			t.Errorf("tool %s schema type = %v", tool.Name, tool.InputSchema["type"])
		}
	}
	if decoded.Result.Tools[0].Name != "echo" || decoded.Result.Tools[1].Name != "second" {
		t.Error("tools should be listed in registration order")
	}
}

func TestHandle_ToolsCallSuccessIncrements(t *testing.T) {
	env := newTestEnv(t, 10)
	caller := &model.Caller{Fingerprint: "fp"}

	resp := env.d.Handle(context.Background(), callEcho("hi"), caller)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	res := resp.Result.(*CallToolResult)
	if res.IsError {
		t.Fatalf("unexpected isError: %+v", res)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("content = %+v", res.Content)
	}
	if !strings.Contains(res.Content[0].Text, `"hi"`) {
		t.Errorf("text = %q, want echoed message", res.Content[0].Text)
	}
	if got := env.meter.count(caller); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	if snap := env.recorder.Snapshot(); snap.ToolCalls[metrics.OutcomeSuccess] != 1 {
		t.Errorf("success calls = %d, want 1", snap.ToolCalls[metrics.OutcomeSuccess])
	}

	if len(env.calls.calls) != 1 {
		t.Fatalf("recorded %d calls, want 1", len(env.calls.calls))
	}
	rec := env.calls.calls[0]
	if rec.Tool != "echo" || rec.CallerID != "anon:fp" || rec.Tier != model.TierAnonymous || rec.Outcome != metrics.OutcomeSuccess {
		t.Errorf("record = %+v", rec)
	}
}

func TestHandle_ValidationFailureIsFree(t *testing.T) {
	env := newTestEnv(t, 10)
	caller := &model.Caller{Fingerprint: "fp"}

	resp := env.d.Handle(context.Background(), callEcho(""), caller)
	if resp.Error != nil {
		t.Fatalf("validation must not be a protocol error: %+v", resp.Error)
	}
	res := resp.Result.(*CallToolResult)
	if !res.IsError {
		t.Error("expected isError=true")
	}
	if env.executions.Load() != 0 {
		t.Error("tool must not execute with invalid args")
	}
	if got := env.meter.count(caller); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}

func TestHandle_QuotaRejectsBeforeExecution(t *testing.T) {
	env := newTestEnv(t, 50)
	caller := &model.Caller{Fingerprint: "fp"}
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		resp := env.d.Handle(ctx, callEcho("hi"), caller)
		if resp.Error != nil {
			t.Fatalf("call %d: %+v", i+1, resp.Error)
		}
	}

	resp := env.d.Handle(ctx, callEcho("hi"), caller)
	if resp.Error == nil {
		t.Fatal("51st call should fail")
	}
	if resp.Error.Code != CodeQuotaExceeded {
		t.Errorf("code = %d, want %d", resp.Error.Code, CodeQuotaExceeded)
	}
	if !strings.Contains(resp.Error.Message, "Sign up") {
		t.Errorf("anonymous quota message should point at signup: %q", resp.Error.Message)
	}
	if env.executions.Load() != 50 {
		t.Errorf("executions = %d, want 50", env.executions.Load())
	}
	if got := env.meter.count(caller); got != 50 {
		t.Errorf("runs = %d, want 50", got)
	}
	if env.recorder.Snapshot().QuotaExceeded != 1 {
		t.Error("quota rejection not recorded")
	}
}

func TestHandle_QuotaMessageForUser(t *testing.T) {
	env := newTestEnv(t, 0)
	caller := &model.Caller{Fingerprint: "fp", User: &model.User{ID: "u1", Tier: model.TierFree}}

	resp := env.d.Handle(context.Background(), callEcho("hi"), caller)
	if resp.Error == nil || resp.Error.Code != CodeQuotaExceeded {
		t.Fatalf("expected quota error, got %+v", resp.Error)
	}
	if !strings.Contains(resp.Error.Message, "0 runs") || !strings.Contains(resp.Error.Message, "free") {
		t.Errorf("message = %q, want numeric limit and tier", resp.Error.Message)
	}
}

func TestHandle_BusinessFailureCounts(t *testing.T) {
	failing := &Tool{
		Name:        "flaky",
		Description: "Always fails",
		InputSchema: openapi3.NewObjectSchema(),
		Execute: func(context.Context, map[string]any, *Env) (*ToolResult, error) {
			return Fail("upstream said %s", "no"), nil
		},
	}
	env := newTestEnv(t, 10, failing)
	caller := &model.Caller{Fingerprint: "fp"}

	resp := env.d.Handle(context.Background(), rpc(MethodToolsCall, map[string]any{"name": "flaky"}), caller)
	if resp.Error != nil {
		t.Fatalf("unexpected protocol error: %+v", resp.Error)
	}
	res := resp.Result.(*CallToolResult)
	if !res.IsError || !strings.Contains(res.Content[0].Text, "upstream said no") {
		t.Errorf("result = %+v", res)
	}
	if got := env.meter.count(caller); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}

func TestHandle_ToolErrorAndPanicAreNotCounted(t *testing.T) {
	erroring := &Tool{
		Name:        "erroring",
		InputSchema: openapi3.NewObjectSchema(),
		Execute: func(context.Context, map[string]any, *Env) (*ToolResult, error) {
			return nil, errors.New("boom")
		},
	}
	panicking := &Tool{
		Name:        "panicking",
		InputSchema: openapi3.NewObjectSchema(),
		Execute: func(context.Context, map[string]any, *Env) (*ToolResult, error) {
			panic("kaboom")
		},
	}
	env := newTestEnv(t, 10, erroring, panicking)
	caller := &model.Caller{Fingerprint: "fp"}

	for _, name := range []string{"erroring", "panicking"} {
		resp := env.d.Handle(context.Background(), rpc(MethodToolsCall, map[string]any{"name": name}), caller)
		if resp.Error != nil {
			t.Fatalf("%s: unexpected protocol error: %+v", name, resp.Error)
		}
		if res := resp.Result.(*CallToolResult); !res.IsError {
			t.Errorf("%s: expected isError", name)
		}
	}
	if got := env.meter.count(caller); got != 0 {
		t.Errorf("runs = %d, want 0", got)
	}
}

func TestHandle_ToolTimeout(t *testing.T) {
	slow := &Tool{
		Name:        "slow",
		InputSchema: openapi3.NewObjectSchema(),
		Execute: func(ctx context.Context, _ map[string]any, _ *Env) (*ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	env := newTestEnv(t, 10, slow)
	caller := &model.Caller{Fingerprint: "fp"}

	resp := env.d.Handle(context.Background(), rpc(MethodToolsCall, map[string]any{"name": "slow"}), caller)
	if resp.Error == nil || resp.Error.Code != CodeToolTimeout {
		t.Fatalf("expected timeout error, got %+v", resp.Error)
	}
	if got := env.meter.count(caller); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
	if env.recorder.Snapshot().ToolCalls[metrics.OutcomeTimeout] != 1 {
		t.Error("timeout outcome not recorded")
	}
}

func TestHandle_Errors(t *testing.T) {
	env := newTestEnv(t, 10)

	tests := []struct {
		name string
		req  *Request
		code int
	}{
		{"unknown method", rpc("tools/destroy", nil), CodeMethodNotFound},
		{"missing method", &Request{JSONRPC: "2.0", ID: json.RawMessage(`7`)}, CodeInvalidRequest},
		{"unknown tool", rpc(MethodToolsCall, map[string]any{"name": "ghost"}), CodeInvalidParams},
		{"missing tool name", rpc(MethodToolsCall, map[string]any{}), CodeInvalidParams},
		{"bad params", &Request{JSONRPC: "2.0", Method: MethodToolsCall, Params: json.RawMessage(`[1,2]`)}, CodeInvalidParams},
		{"resources without provider", rpc(MethodResourcesList, nil), CodeInvalidParams},
		{"read without provider", rpc(MethodResourcesRead, map[string]any{"uri": "x://y"}), CodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.d.Handle(context.Background(), tt.req, nil)
			if resp.Error == nil {
				t.Fatalf("expected error, got result %+v", resp.Result)
			}
			if resp.Error.Code != tt.code {
				t.Errorf("code = %d, want %d (%s)", resp.Error.Code, tt.code, resp.Error.Message)
			}
		})
	}
}

func TestHandle_MeterFailureIsInternal(t *testing.T) {
	env := newTestEnv(t, 10)
	env.meter.checkErr = errors.New("redis down")

	resp := env.d.Handle(context.Background(), callEcho("hi"), nil)
	if resp.Error == nil || resp.Error.Code != CodeInternalError {
		t.Fatalf("expected internal error, got %+v", resp.Error)
	}
	if env.executions.Load() != 0 {
		t.Error("tool must not run when quota cannot be checked")
	}
}

func TestHandle_PromptsAndNotifications(t *testing.T) {
	env := newTestEnv(t, 10)

	resp := env.d.Handle(context.Background(), rpc(MethodPromptsList, nil), nil)
	if res, ok := resp.Result.(*PromptsListResult); !ok || len(res.Prompts) != 0 {
		t.Errorf("prompts/list = %+v", resp.Result)
	}

	note := &Request{JSONRPC: "2.0", Method: MethodInitialized}
	resp = env.d.Handle(context.Background(), note, nil)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	raw, _ := json.Marshal(resp)
	if !strings.Contains(string(raw), `"id":null`) || !strings.Contains(string(raw), `"result":{}`) {
		t.Errorf("notification response = %s", raw)
	}
}

type staticResources struct{}

func (staticResources) ListResources(context.Context) ([]Resource, error) {
	return []Resource{{URI: "test://a", Name: "a"}}, nil
}

func (staticResources) ReadResource(_ context.Context, uri string) (*ResourceContents, error) {
	if uri != "test://a" {
		return nil, ErrResourceNotFound
	}
	return &ResourceContents{URI: uri, Text: "A"}, nil
}

func TestHandle_Resources(t *testing.T) {
	reg := NewRegistry()
	d := NewDispatcher(reg, newFakeMeter(1), Options{Resources: staticResources{}})

	resp := d.Handle(context.Background(), rpc(MethodInitialize, nil), nil)
	if resp.Result.(*InitializeResult).Capabilities.Resources == nil {
		t.Error("resources capability missing")
	}

	resp = d.Handle(context.Background(), rpc(MethodResourcesList, nil), nil)
	if list := resp.Result.(*ResourcesListResult); len(list.Resources) != 1 {
		t.Errorf("resources = %+v", list)
	}

	resp = d.Handle(context.Background(), rpc(MethodResourcesRead, map[string]any{"uri": "test://a"}), nil)
	if read := resp.Result.(*ReadResourceResult); read.Contents[0].Text != "A" {
		t.Errorf("read = %+v", read)
	}

	resp = d.Handle(context.Background(), rpc(MethodResourcesRead, map[string]any{"uri": "test://missing"}), nil)
	if resp.Error == nil || resp.Error.Code != CodeInvalidParams {
		t.Errorf("expected not found error, got %+v", resp.Error)
	}
}

func TestCallTool_UnknownToolError(t *testing.T) {
	env := newTestEnv(t, 10)

	_, err := env.d.CallTool(context.Background(), nil, "ghost", nil)
	if !errors.Is(err, ErrUnknownTool) {
		t.Errorf("err = %v, want ErrUnknownTool", err)
	}
}
