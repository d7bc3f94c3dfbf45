package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// Registry holds tools keyed by their declared name.
// Tools are registered at startup and read concurrently afterwards.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool after checking its definition and schemas.
func (r *Registry) Register(tool *Tool) error {
	if tool == nil || tool.Name == "" {
		return fmt.Errorf("%w: tool name is required", ErrInvalidToolSchema)
	}
	if tool.Execute == nil {
		return fmt.Errorf("%w: %s has no execute function", ErrInvalidToolSchema, tool.Name)
	}
	if tool.InputSchema == nil {
		return fmt.Errorf("%w: %s has no input schema", ErrInvalidToolSchema, tool.Name)
	}
	if !tool.InputSchema.Type.Is(openapi3.TypeObject) {
		return fmt.Errorf("%w: %s input schema must be an object", ErrInvalidToolSchema, tool.Name)
	}

	ctx := context.Background()
	if err := tool.InputSchema.Validate(ctx); err != nil {
		return fmt.Errorf("%w: %s input: %v", ErrInvalidToolSchema, tool.Name, err)
	}
	if tool.OutputSchema != nil {
		if err := tool.OutputSchema.Validate(ctx); err != nil {
			return fmt.Errorf("%w: %s output: %v", ErrInvalidToolSchema, tool.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	r.tools[tool.Name] = tool
	r.order = append(r.order, tool.Name)
	return nil
}

// MustRegister registers tools and panics on error. For startup wiring.
func (r *Registry) MustRegister(tools ...*Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get returns the tool with the given declared name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
