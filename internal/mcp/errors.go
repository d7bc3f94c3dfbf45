package mcp

import (
	"errors"
	"fmt"

	"github.com/workway/mcp-gateway/internal/model"
)

// Dispatcher errors.
var (
	ErrUnknownTool         = errors.New("unknown tool")
	ErrNoResourceProvider  = errors.New("resources are not supported")
	ErrResourceNotFound    = errors.New("resource not found")
	ErrToolTimeout         = errors.New("tool execution timed out")
	ErrInvalidParams       = errors.New("invalid params")
	ErrDuplicateTool       = errors.New("tool already registered")
	ErrInvalidToolSchema   = errors.New("invalid tool schema")
	ErrInvalidToolArgument = errors.New("invalid tool arguments")
)

// QuotaError reports a call rejected by usage metering.
type QuotaError struct {
	Usage *model.UsageResult
}

func (e *QuotaError) Error() string {
	u := e.Usage
	if u.Tier == model.TierAnonymous {
		return fmt.Sprintf("Anonymous usage limit of %d runs reached. Sign up for an account to continue.", u.Limit)
	}
	msg := fmt.Sprintf("Monthly limit of %d runs reached for the %s tier.", u.Limit, u.Tier)
	if u.DaysUntilReset != nil {
		msg += fmt.Sprintf(" Resets in %d days.", *u.DaysUntilReset)
	}
	return msg
}

// toRPCError maps dispatcher errors onto JSON-RPC error objects.
func toRPCError(err error) *RPCError {
	var quota *QuotaError
	var notFound *methodNotFoundError
	switch {
	case errors.As(err, &notFound):
		return &RPCError{Code: CodeMethodNotFound, Message: notFound.Error()}
	case errors.As(err, &quota):
		return &RPCError{Code: CodeQuotaExceeded, Message: quota.Error(), Data: quota.Usage}
	case errors.Is(err, ErrUnknownTool),
		errors.Is(err, ErrNoResourceProvider),
		errors.Is(err, ErrResourceNotFound),
		errors.Is(err, ErrInvalidParams):
		return &RPCError{Code: CodeInvalidParams, Message: err.Error()}
	case errors.Is(err, ErrToolTimeout):
		return &RPCError{Code: CodeToolTimeout, Message: err.Error()}
	default:
		return &RPCError{Code: CodeInternalError, Message: "Internal error"}
	}
}
