// Package mcp implements the Model Context Protocol method dispatcher,
// protocol types, and the tool registry.
//
// Every transport funnels into Dispatcher.Handle; the REST tool endpoint
// uses Dispatcher.CallTool directly so both paths share metering.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/workway/mcp-gateway/internal/auth"
	"github.com/workway/mcp-gateway/internal/metrics"
	"github.com/workway/mcp-gateway/internal/model"
)

// Metering checks and records caller usage.
type Metering interface {
	Check(ctx context.Context, caller *model.Caller) (*model.UsageResult, error)
	Increment(ctx context.Context, caller *model.Caller) error
}

// ResourceProvider serves resources/list and resources/read.
// ReadResource returns ErrResourceNotFound for unknown URIs.
type ResourceProvider interface {
	ListResources(ctx context.Context) ([]Resource, error)
	ReadResource(ctx context.Context, uri string) (*ResourceContents, error)
}

// CallRecorder receives an audit record for every call on a registered tool.
type CallRecorder interface {
	RecordToolCall(ctx context.Context, call *model.ToolCall)
}

// Options configures a Dispatcher. Zero values are usable.
type Options struct {
	ServerName    string
	ServerVersion string
	// ToolTimeout bounds each tool execution; zero disables it.
	ToolTimeout time.Duration

	Resources ResourceProvider
	Calls     CallRecorder
	Metrics   metrics.Recorder
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// Dispatcher routes protocol methods.
type Dispatcher struct {
	registry *Registry
	meter    Metering
	opts     Options
	logger   *slog.Logger
	metrics  metrics.Recorder
	tracer   trace.Tracer
	now      func() time.Time
}

// NewDispatcher creates a Dispatcher over a registry and meter.
func NewDispatcher(registry *Registry, meter Metering, opts Options) *Dispatcher {
	if opts.ServerName == "" {
		opts.ServerName = "mcp-gateway"
	}
	if opts.ServerVersion == "" {
		opts.ServerVersion = "dev"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Metrics
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/workway/mcp-gateway/internal/mcp")
	}

	return &Dispatcher{
		registry: registry,
		meter:    meter,
		opts:     opts,
		logger:   logger.With("component", "mcp.dispatcher"),
		metrics:  recorder,
		tracer:   tracer,
		now:      time.Now,
	}
}

// ServerInfo returns the configured identity.
func (d *Dispatcher) ServerInfo() ServerInfo {
	return ServerInfo{Name: d.opts.ServerName, Version: d.opts.ServerVersion}
}

// Registry returns the tool registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// HasResources reports whether a resource provider is configured.
func (d *Dispatcher) HasResources() bool {
	return d.opts.Resources != nil
}

// Handle executes one protocol request and always returns a response.
func (d *Dispatcher) Handle(ctx context.Context, req *Request, caller *model.Caller) *Response {
	if caller == nil {
		caller = &model.Caller{Fingerprint: auth.Fingerprint("", "")}
	}
	d.metrics.IncRPCRequest(req.Method)

	if req.Method == "" {
		return NewError(req.ID, CodeInvalidRequest, "Invalid Request", "method is required")
	}

	result, err := d.route(ctx, req, caller)
	if err != nil {
		rpcErr := toRPCError(err)
		if rpcErr.Code == CodeInternalError {
			d.logger.Error("request failed",
				"method", req.Method,
				"caller", caller.ID(),
				"error", err,
			)
		}
		return &Response{JSONRPC: jsonrpcVersion, ID: req.ID, Error: rpcErr}
	}
	return NewResult(req.ID, result)
}

func (d *Dispatcher) route(ctx context.Context, req *Request, caller *model.Caller) (any, error) {
	switch req.Method {
	case MethodInitialize:
		return d.initialize(), nil

	case MethodInitialized, MethodPing:
		return struct{}{}, nil

	case MethodToolsList:
		return d.ListTools(), nil

	case MethodToolsCall:
		var params CallToolParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		if params.Name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidParams)
		}
		return d.CallTool(ctx, caller, params.Name, params.Arguments)

	case MethodResourcesList:
		resources, err := d.ListResources(ctx)
		if err != nil {
			return nil, err
		}
		return &ResourcesListResult{Resources: resources}, nil

	case MethodResourcesRead:
		var params ReadResourceParams
		if err := decodeParams(req.Params, &params); err != nil {
			return nil, err
		}
		contents, err := d.ReadResource(ctx, params.URI)
		if err != nil {
			return nil, err
		}
		return &ReadResourceResult{Contents: []ResourceContents{*contents}}, nil

	case MethodPromptsList:
		return &PromptsListResult{Prompts: []any{}}, nil

	default:
		return nil, &methodNotFoundError{method: req.Method}
	}
}

func (d *Dispatcher) initialize() *InitializeResult {
	caps := ServerCapabilities{
		Tools:   &ListChangedCapability{},
		Prompts: &ListChangedCapability{},
	}
	if d.HasResources() {
		caps.Resources = &ResourcesCapability{}
	}
	return &InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    caps,
		ServerInfo:      d.ServerInfo(),
	}
}

// ListTools renders every registered tool.
func (d *Dispatcher) ListTools() *ToolsListResult {
	tools := d.registry.List()
	defs := make([]ToolDef, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, t.Def())
	}
	return &ToolsListResult{Tools: defs}
}

// ListResources delegates to the resource provider.
func (d *Dispatcher) ListResources(ctx context.Context) ([]Resource, error) {
	if d.opts.Resources == nil {
		return nil, ErrNoResourceProvider
	}
	return d.opts.Resources.ListResources(ctx)
}

// ReadResource delegates to the resource provider.
func (d *Dispatcher) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	if d.opts.Resources == nil {
		return nil, ErrNoResourceProvider
	}
	if uri == "" {
		return nil, fmt.Errorf("%w: uri is required", ErrInvalidParams)
	}
	return d.opts.Resources.ReadResource(ctx, uri)
}

// CallTool runs a tool on behalf of caller.
//
// Quota is checked before anything runs. Argument validation failures come
// back as an isError result and are not counted. A tool that returns a
// ToolResult (successful or not) is counted. A tool that returns a Go error
// or panics yields an isError result that is not counted. A timeout is
// counted and returned as ErrToolTimeout.
func (d *Dispatcher) CallTool(ctx context.Context, caller *model.Caller, name string, args map[string]any) (*CallToolResult, error) {
	if caller == nil {
		caller = &model.Caller{Fingerprint: auth.Fingerprint("", "")}
	}

	tool, ok := d.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	ctx, span := d.tracer.Start(ctx, "mcp.tools/call",
		trace.WithAttributes(
			attribute.String("mcp.tool", name),
			attribute.String("mcp.caller.tier", caller.Tier()),
		),
	)
	defer span.End()

	started := d.now()
	outcome, result, err := d.callTool(ctx, tool, caller, args)
	elapsed := d.now().Sub(started)

	span.SetAttributes(attribute.String("mcp.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	d.metrics.IncToolCall(name, outcome)
	if outcome != metrics.OutcomeQuota && outcome != metrics.OutcomeInvalidArgs {
		d.metrics.ObserveToolDuration(name, elapsed)
	}
	d.record(ctx, tool.Name, caller, outcome, started, elapsed)

	d.logger.Info("tool call",
		"tool", name,
		"caller", caller.ID(),
		"tier", caller.Tier(),
		"outcome", outcome,
		"duration_ms", elapsed.Milliseconds(),
	)

	return result, err
}

func (d *Dispatcher) callTool(ctx context.Context, tool *Tool, caller *model.Caller, args map[string]any) (string, *CallToolResult, error) {
	usage, err := d.meter.Check(ctx, caller)
	if err != nil {
		return metrics.OutcomeToolError, nil, fmt.Errorf("check usage: %w", err)
	}
	if usage.Exceeded {
		d.metrics.IncQuotaExceeded(usage.Tier)
		return metrics.OutcomeQuota, nil, &QuotaError{Usage: usage}
	}

	if err := tool.ValidateArgs(args); err != nil {
		return metrics.OutcomeInvalidArgs, TextResult(err.Error(), true), nil
	}

	env := &Env{
		Caller: caller,
		Logger: d.logger.With("tool", tool.Name),
	}
	res, err := d.execute(ctx, tool, args, env)
	if errors.Is(err, ErrToolTimeout) {
		d.increment(ctx, caller)
		return metrics.OutcomeTimeout, nil, err
	}
	if err != nil {
		d.logger.Warn("tool execution failed", "tool", tool.Name, "error", err)
		return metrics.OutcomeToolError, TextResult(err.Error(), true), nil
	}

	d.increment(ctx, caller)

	rendered, err := renderResult(res)
	if err != nil {
		return metrics.OutcomeToolError, TextResult(err.Error(), true), nil
	}
	if rendered.IsError {
		return metrics.OutcomeToolError, rendered, nil
	}
	return metrics.OutcomeSuccess, rendered, nil
}

type execOutcome struct {
	res *ToolResult
	err error
}

// execute runs the tool under the configured deadline, recovering panics.
func (d *Dispatcher) execute(ctx context.Context, tool *Tool, args map[string]any, env *Env) (*ToolResult, error) {
	parent := ctx
	if d.opts.ToolTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.ToolTimeout)
		defer cancel()
	}

	done := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- execOutcome{err: fmt.Errorf("tool %s panicked: %v", tool.Name, p)}
			}
		}()
		res, err := tool.Execute(ctx, args, env)
		done <- execOutcome{res: res, err: err}
	}()

	var out execOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		out = execOutcome{err: ctx.Err()}
	}

	if out.err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s", ErrToolTimeout, d.opts.ToolTimeout)
	}
	if out.err == nil && out.res == nil {
		out.res = OK(nil)
	}
	return out.res, out.err
}

// increment records a run. The tool already executed, so a store failure
// is logged rather than returned.
func (d *Dispatcher) increment(ctx context.Context, caller *model.Caller) {
	if err := d.meter.Increment(context.WithoutCancel(ctx), caller); err != nil {
		d.logger.Error("usage increment failed", "caller", caller.ID(), "error", err)
	}
}

func (d *Dispatcher) record(ctx context.Context, tool string, caller *model.Caller, outcome string, at time.Time, elapsed time.Duration) {
	if d.opts.Calls == nil {
		return
	}
	call := &model.ToolCall{
		Tool:        tool,
		CallerID:    caller.ID(),
		Fingerprint: caller.Fingerprint,
		Tier:        caller.Tier(),
		Outcome:     outcome,
		DurationMs:  elapsed.Milliseconds(),
		CalledAt:    at.UTC(),
	}
	if !caller.IsAnonymous() {
		call.UserID = caller.User.ID
	}
	d.opts.Calls.RecordToolCall(ctx, call)
}

func renderResult(res *ToolResult) (*CallToolResult, error) {
	text, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return TextResult(string(text), !res.Success), nil
}

func decodeParams(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}

type methodNotFoundError struct {
	method string
}

func (e *methodNotFoundError) Error() string {
	return "Method not found: " + e.method
}
