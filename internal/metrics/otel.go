package metrics

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterPrefix = "mcp.gateway."

// OTelRecorder exports metrics through an OpenTelemetry meter.
type OTelRecorder struct {
	rpcRequests     metric.Int64Counter
	toolCalls       metric.Int64Counter
	toolDuration    metric.Int64Histogram
	quotaExceeded   metric.Int64Counter
	credsIssued     metric.Int64Counter
	credsRevoked    metric.Int64Counter
	eventsPublished metric.Int64Counter
	eventsProcessed metric.Int64Counter
	batchSize       metric.Int64Histogram

	queueDepth atomic.Int64
}

// NewOTel builds a Recorder backed by meter.
func NewOTel(meter metric.Meter) (*OTelRecorder, error) {
	r := &OTelRecorder{}
	var err error

	if r.rpcRequests, err = meter.Int64Counter(meterPrefix+"rpc.requests",
		metric.WithDescription("JSON-RPC requests by method")); err != nil {
		return nil, err
	}
	if r.toolCalls, err = meter.Int64Counter(meterPrefix+"tool.calls",
		metric.WithDescription("Tool calls by tool and outcome")); err != nil {
		return nil, err
	}
	if r.toolDuration, err = meter.Int64Histogram(meterPrefix+"tool.duration",
		metric.WithDescription("Tool execution latency"),
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	if r.quotaExceeded, err = meter.Int64Counter(meterPrefix+"quota.exceeded",
		metric.WithDescription("Calls rejected by metering")); err != nil {
		return nil, err
	}
	if r.credsIssued, err = meter.Int64Counter(meterPrefix+"credentials.issued",
		metric.WithDescription("API keys issued by tier")); err != nil {
		return nil, err
	}
	if r.credsRevoked, err = meter.Int64Counter(meterPrefix+"credentials.revoked",
		metric.WithDescription("API keys revoked")); err != nil {
		return nil, err
	}
	if r.eventsPublished, err = meter.Int64Counter(meterPrefix+"calllog.published",
		metric.WithDescription("Call log events published by status")); err != nil {
		return nil, err
	}
	if r.eventsProcessed, err = meter.Int64Counter(meterPrefix+"calllog.processed",
		metric.WithDescription("Call log events processed by status")); err != nil {
		return nil, err
	}
	if r.batchSize, err = meter.Int64Histogram(meterPrefix+"calllog.batch_size",
		metric.WithDescription("Call log worker batch size")); err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(meterPrefix+"calllog.queue_depth",
		metric.WithDescription("Pending call log events"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.queueDepth.Load())
			return nil
		}))
	if err != nil {
		return nil, err
	}

	return r, nil
}

func (r *OTelRecorder) IncRPCRequest(method string) {
	r.rpcRequests.Add(context.Background(), 1, metric.WithAttributes(attribute.String("method", method)))
}

func (r *OTelRecorder) IncToolCall(tool, outcome string) {
	r.toolCalls.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("outcome", outcome),
	))
}

func (r *OTelRecorder) ObserveToolDuration(tool string, duration time.Duration) {
	r.toolDuration.Record(context.Background(), duration.Milliseconds(),
		metric.WithAttributes(attribute.String("tool", tool)))
}

func (r *OTelRecorder) IncQuotaExceeded(tier string) {
	r.quotaExceeded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func (r *OTelRecorder) IncCredentialIssued(tier string) {
	r.credsIssued.Add(context.Background(), 1, metric.WithAttributes(attribute.String("tier", tier)))
}

func (r *OTelRecorder) AddCredentialRevoked(count int) {
	if count > 0 {
		r.credsRevoked.Add(context.Background(), int64(count))
	}
}

func (r *OTelRecorder) IncCallEventPublished(status string) {
	r.eventsPublished.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *OTelRecorder) IncCallEventProcessed(status string) {
	r.eventsProcessed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *OTelRecorder) ObserveCallEventBatchSize(size int) {
	r.batchSize.Record(context.Background(), int64(size))
}

func (r *OTelRecorder) SetCallEventQueueDepth(depth int64) {
	r.queueDepth.Store(depth)
}
