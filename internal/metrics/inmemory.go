package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	RPCRequests            uint64
	ToolCalls              map[string]uint64 // by outcome
	ToolDurationCount      uint64
	ToolDurationTotalNs    int64
	QuotaExceeded          uint64
	CredentialsIssued      uint64
	CredentialsRevoked     uint64
	CallEventsPublished    uint64
	CallEventsDropped      uint64
	CallEventsProcessed    uint64
	CallEventsFailed       uint64
	CallEventsDeadLettered uint64
	CallEventQueueDepth    int64
}

// InMemoryRecorder stores metrics in memory for tests.
type InMemoryRecorder struct {
	rpcRequests            uint64
	toolDurationCount      uint64
	toolDurationTotalNs    int64
	quotaExceeded          uint64
	credentialsIssued      uint64
	credentialsRevoked     uint64
	callEventsPublished    uint64
	callEventsDropped      uint64
	callEventsProcessed    uint64
	callEventsFailed       uint64
	callEventsDeadLettered uint64
	callEventQueueDepth    int64

	mu        sync.Mutex
	toolCalls map[string]uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{toolCalls: make(map[string]uint64)}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	m.mu.Lock()
	toolCalls := make(map[string]uint64, len(m.toolCalls))
	for k, v := range m.toolCalls {
		toolCalls[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		RPCRequests:            atomic.LoadUint64(&m.rpcRequests),
		ToolCalls:              toolCalls,
		ToolDurationCount:      atomic.LoadUint64(&m.toolDurationCount),
		ToolDurationTotalNs:    atomic.LoadInt64(&m.toolDurationTotalNs),
		QuotaExceeded:          atomic.LoadUint64(&m.quotaExceeded),
		CredentialsIssued:      atomic.LoadUint64(&m.credentialsIssued),
		CredentialsRevoked:     atomic.LoadUint64(&m.credentialsRevoked),
		CallEventsPublished:    atomic.LoadUint64(&m.callEventsPublished),
		CallEventsDropped:      atomic.LoadUint64(&m.callEventsDropped),
		CallEventsProcessed:    atomic.LoadUint64(&m.callEventsProcessed),
		CallEventsFailed:       atomic.LoadUint64(&m.callEventsFailed),
		CallEventsDeadLettered: atomic.LoadUint64(&m.callEventsDeadLettered),
		CallEventQueueDepth:    atomic.LoadInt64(&m.callEventQueueDepth),
	}
}

// IncRPCRequest increments the protocol request counter.
func (m *InMemoryRecorder) IncRPCRequest(method string) {
	atomic.AddUint64(&m.rpcRequests, 1)
}

// IncToolCall increments the tool call counter for an outcome.
func (m *InMemoryRecorder) IncToolCall(tool, outcome string) {
	m.mu.Lock()
	m.toolCalls[outcome]++
	m.mu.Unlock()
}

// ObserveToolDuration records tool execution duration.
func (m *InMemoryRecorder) ObserveToolDuration(tool string, duration time.Duration) {
	atomic.AddUint64(&m.toolDurationCount, 1)
	atomic.AddInt64(&m.toolDurationTotalNs, duration.Nanoseconds())
}

// IncQuotaExceeded increments the quota rejection counter.
func (m *InMemoryRecorder) IncQuotaExceeded(tier string) {
	atomic.AddUint64(&m.quotaExceeded, 1)
}

// IncCredentialIssued increments the issued key counter.
func (m *InMemoryRecorder) IncCredentialIssued(tier string) {
	atomic.AddUint64(&m.credentialsIssued, 1)
}

// AddCredentialRevoked adds to the revoked key counter.
func (m *InMemoryRecorder) AddCredentialRevoked(count int) {
	if count > 0 {
		atomic.AddUint64(&m.credentialsRevoked, uint64(count))
	}
}

// IncCallEventPublished increments publish counters by status.
func (m *InMemoryRecorder) IncCallEventPublished(status string) {
	switch status {
	case "success":
		atomic.AddUint64(&m.callEventsPublished, 1)
	case "dropped":
		atomic.AddUint64(&m.callEventsDropped, 1)
	}
}

// IncCallEventProcessed increments processing counters by status.
func (m *InMemoryRecorder) IncCallEventProcessed(status string) {
	switch status {
	case "success":
		atomic.AddUint64(&m.callEventsProcessed, 1)
	case "failed":
		atomic.AddUint64(&m.callEventsFailed, 1)
	case "dead_lettered":
		atomic.AddUint64(&m.callEventsDeadLettered, 1)
	}
}

// ObserveCallEventBatchSize is not tracked in memory.
func (m *InMemoryRecorder) ObserveCallEventBatchSize(size int) {}

// SetCallEventQueueDepth stores the latest queue depth.
func (m *InMemoryRecorder) SetCallEventQueueDepth(depth int64) {
	atomic.StoreInt64(&m.callEventQueueDepth, depth)
}
