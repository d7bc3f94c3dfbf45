package calllog

import (
	"fmt"
	"slices"

	"github.com/workway/mcp-gateway/internal/metrics"
	"github.com/workway/mcp-gateway/internal/model"
)

const maxFieldLength = 200

var validOutcomes = []string{
	metrics.OutcomeSuccess,
	metrics.OutcomeToolError,
	metrics.OutcomeInvalidArgs,
	metrics.OutcomeTimeout,
	metrics.OutcomeQuota,
}

// ValidateCallEventPayload validates event payload fields.
func ValidateCallEventPayload(payload CallEventPayload) error {
	if payload.Tool == "" {
		return fmt.Errorf("tool is required")
	}
	if len(payload.Tool) > maxFieldLength {
		return fmt.Errorf("tool too long")
	}
	if payload.CallerID == "" {
		return fmt.Errorf("caller_id is required")
	}
	if len(payload.CallerID) > maxFieldLength || len(payload.UserID) > maxFieldLength {
		return fmt.Errorf("caller_id or user_id too long")
	}
	if payload.Fingerprint == "" {
		return fmt.Errorf("fingerprint is required")
	}
	if !slices.Contains(model.ValidTiers, payload.Tier) {
		return fmt.Errorf("unknown tier %q", payload.Tier)
	}
	if !slices.Contains(validOutcomes, payload.Outcome) {
		return fmt.Errorf("unknown outcome %q", payload.Outcome)
	}
	if payload.DurationMs < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	if payload.CalledAt <= 0 {
		return fmt.Errorf("called_at must be set")
	}
	return nil
}
