// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Tool call outcomes.
const (
	OutcomeSuccess     = "success"      // tool returned a successful result
	OutcomeToolError   = "tool_error"   // tool returned a business failure or error
	OutcomeInvalidArgs = "invalid_args" // arguments failed schema validation
	OutcomeTimeout     = "timeout"      // tool exceeded its deadline
	OutcomeQuota       = "quota"        // rejected by metering before execution
)

// Recorder captures metric events for the application.
// Implementations can expose these to OpenTelemetry, Prometheus, etc.
type Recorder interface {
	// Protocol metrics
	IncRPCRequest(method string)
	IncToolCall(tool, outcome string)
	ObserveToolDuration(tool string, duration time.Duration)
	IncQuotaExceeded(tier string)

	// Credential metrics
	IncCredentialIssued(tier string)
	AddCredentialRevoked(count int)

	// Call log pipeline metrics
	IncCallEventPublished(status string) // status: "success" or "dropped"
	IncCallEventProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveCallEventBatchSize(size int)
	SetCallEventQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
