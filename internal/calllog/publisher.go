// Package calllog records tool calls asynchronously. Events go to a Redis
// stream on the request path and a consumer-group worker persists them.
package calllog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workway/mcp-gateway/internal/metrics"
	"github.com/workway/mcp-gateway/internal/model"
)

const (
	// StreamKey is the Redis stream for tool call events.
	StreamKey = "stream:tool_calls"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:tool_calls:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// CallEventPayload is the compact event format stored in the stream.
type CallEventPayload struct {
	Tool        string `json:"t"`
	CallerID    string `json:"c"`
	UserID      string `json:"u,omitempty"`
	Fingerprint string `json:"fp"`
	Tier        string `json:"tr"`
	Outcome     string `json:"o"`
	DurationMs  int64  `json:"d"`
	CalledAt    int64  `json:"ts"` // Unix milliseconds
}

// PayloadFromCall converts a dispatcher record to a stream payload.
func PayloadFromCall(call *model.ToolCall) CallEventPayload {
	return CallEventPayload{
		Tool:        call.Tool,
		CallerID:    call.CallerID,
		UserID:      call.UserID,
		Fingerprint: call.Fingerprint,
		Tier:        call.Tier,
		Outcome:     call.Outcome,
		DurationMs:  call.DurationMs,
		CalledAt:    call.CalledAt.UnixMilli(),
	}
}

// Publisher enqueues tool call events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
	wg      sync.WaitGroup
}

// NewPublisher creates a new call event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "calllog.publisher"),
		metrics: recorder,
	}
}

// Publish adds an event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event CallEventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged and counted as dropped.
func (p *Publisher) PublishAsync(event CallEventPayload) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish call event",
				"tool", event.Tool,
				"error", err,
			)
			p.metrics.IncCallEventPublished("dropped")
			return
		}

		p.logger.Debug("call event published",
			"tool", event.Tool,
			"stream_id", streamID,
		)
		p.metrics.IncCallEventPublished("success")
	}()
}

// RecordToolCall implements mcp.CallRecorder.
func (p *Publisher) RecordToolCall(_ context.Context, call *model.ToolCall) {
	p.PublishAsync(PayloadFromCall(call))
}

// Shutdown waits for in-flight publishes.
func (p *Publisher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
