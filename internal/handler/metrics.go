package handler

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/workway/mcp-gateway/internal/metrics"
)

// MetricsHandler exposes in-memory metrics when no OTLP exporter is set.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
//
// GET /metrics
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "gateway_rpc_requests_total %d\n", snap.RPCRequests)

	outcomes := make([]string, 0, len(snap.ToolCalls))
	for outcome := range snap.ToolCalls {
		outcomes = append(outcomes, outcome)
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		writeMetric(w, "gateway_tool_calls_total{outcome=%q} %d\n", outcome, snap.ToolCalls[outcome])
	}
	writeMetric(w, "gateway_tool_duration_seconds_count %d\n", snap.ToolDurationCount)
	writeMetric(w, "gateway_tool_duration_seconds_sum %.6f\n", float64(snap.ToolDurationTotalNs)/1e9)
	writeMetric(w, "gateway_quota_exceeded_total %d\n", snap.QuotaExceeded)

	writeMetric(w, "gateway_credentials_issued_total %d\n", snap.CredentialsIssued)
	writeMetric(w, "gateway_credentials_revoked_total %d\n", snap.CredentialsRevoked)

	writeMetric(w, "gateway_call_events_published_total{status=\"success\"} %d\n", snap.CallEventsPublished)
	writeMetric(w, "gateway_call_events_published_total{status=\"dropped\"} %d\n", snap.CallEventsDropped)
	writeMetric(w, "gateway_call_events_processed_total{status=\"success\"} %d\n", snap.CallEventsProcessed)
	writeMetric(w, "gateway_call_events_processed_total{status=\"failed\"} %d\n", snap.CallEventsFailed)
	writeMetric(w, "gateway_call_events_processed_total{status=\"dead_lettered\"} %d\n", snap.CallEventsDeadLettered)
	writeMetric(w, "gateway_call_events_queue_depth %d\n", snap.CallEventQueueDepth)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
