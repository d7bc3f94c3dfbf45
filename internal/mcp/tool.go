package mcp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/workway/mcp-gateway/internal/model"
)

// ToolResult is what a tool returns. Success=false is a business failure:
// the call still ran and still counts against quota.
type ToolResult struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK returns a successful ToolResult.
func OK(data any) *ToolResult {
	return &ToolResult{Success: true, Data: data}
}

// Fail returns a business-failure ToolResult.
func Fail(format string, args ...any) *ToolResult {
	return &ToolResult{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Env is passed to every tool execution.
type Env struct {
	Caller *model.Caller
	Logger *slog.Logger
}

// ExecuteFunc runs a tool. ctx carries the per-call deadline.
type ExecuteFunc func(ctx context.Context, args map[string]any, env *Env) (*ToolResult, error)

// Tool is a named, schema-described callable.
type Tool struct {
	Name         string
	Description  string
	InputSchema  *openapi3.Schema
	OutputSchema *openapi3.Schema // optional
	Execute      ExecuteFunc
}

// Def renders the tool for tools/list.
func (t *Tool) Def() ToolDef {
	return ToolDef{
		Name:         t.Name,
		Description:  t.Description,
		InputSchema:  t.InputSchema,
		OutputSchema: t.OutputSchema,
	}
}

// ValidateArgs checks args against the input schema.
func (t *Tool) ValidateArgs(args map[string]any) error {
	if args == nil {
		args = map[string]any{}
	}
	if err := t.InputSchema.VisitJSON(args, openapi3.MultiErrors()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToolArgument, err)
	}
	return nil
}
