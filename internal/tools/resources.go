package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/workway/mcp-gateway/internal/mcp"
	"github.com/workway/mcp-gateway/internal/model"
)

// Resource URIs.
const (
	TiersURI = "gateway://tiers"
	ToolsURI = "gateway://tools"
)

// Resources serves the tier table and tool catalogue.
type Resources struct {
	registry *mcp.Registry
	limits   model.TierLimits
}

// NewResources creates a resource provider.
func NewResources(registry *mcp.Registry, limits model.TierLimits) *Resources {
	return &Resources{registry: registry, limits: limits}
}

// ListResources implements mcp.ResourceProvider.
func (r *Resources) ListResources(context.Context) ([]mcp.Resource, error) {
	return []mcp.Resource{
		{
			URI:         TiersURI,
			Name:        "Tier limits",
			Description: "Run limits per tier. -1 means unlimited.",
			MimeType:    "application/json",
		},
		{
			URI:         ToolsURI,
			Name:        "Tool catalogue",
			Description: "Registered tools and their input schemas.",
			MimeType:    "application/json",
		},
	}, nil
}

// ReadResource implements mcp.ResourceProvider.
func (r *Resources) ReadResource(_ context.Context, uri string) (*mcp.ResourceContents, error) {
	var body any
	switch uri {
	case TiersURI:
		body = r.tiers()
	case ToolsURI:
		defs := make([]mcp.ToolDef, 0, r.registry.Len())
		for _, t := range r.registry.List() {
			defs = append(defs, t.Def())
		}
		body = defs
	default:
		return nil, fmt.Errorf("%w: %s", mcp.ErrResourceNotFound, uri)
	}

	data, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode resource %s: %w", uri, err)
	}
	return &mcp.ResourceContents{URI: uri, MimeType: "application/json", Text: string(data)}, nil
}

type tierInfo struct {
	Tier   string `json:"tier"`
	Limit  int64  `json:"limit"`
	Window string `json:"window"`
}

func (r *Resources) tiers() []tierInfo {
	out := make([]tierInfo, 0, len(model.ValidTiers))
	for _, tier := range model.ValidTiers {
		window := fmt.Sprintf("%d days", model.BillingCycleDays)
		if tier == model.TierAnonymous {
			window = "lifetime"
		}
		out = append(out, tierInfo{Tier: tier, Limit: r.limits.Limit(tier), Window: window})
	}
	return out
}
