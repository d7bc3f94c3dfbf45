package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

// IncRPCRequest is a no-op.
func (n *NoopRecorder) IncRPCRequest(method string) {}

// IncToolCall is a no-op.
func (n *NoopRecorder) IncToolCall(tool, outcome string) {}

// ObserveToolDuration is a no-op.
func (n *NoopRecorder) ObserveToolDuration(tool string, duration time.Duration) {}

// IncQuotaExceeded is a no-op.
func (n *NoopRecorder) IncQuotaExceeded(tier string) {}

// IncCredentialIssued is a no-op.
func (n *NoopRecorder) IncCredentialIssued(tier string) {}

// AddCredentialRevoked is a no-op.
func (n *NoopRecorder) AddCredentialRevoked(count int) {}

// IncCallEventPublished is a no-op.
func (n *NoopRecorder) IncCallEventPublished(status string) {}

// IncCallEventProcessed is a no-op.
func (n *NoopRecorder) IncCallEventProcessed(status string) {}

// ObserveCallEventBatchSize is a no-op.
func (n *NoopRecorder) ObserveCallEventBatchSize(size int) {}

// SetCallEventQueueDepth is a no-op.
func (n *NoopRecorder) SetCallEventQueueDepth(depth int64) {}
