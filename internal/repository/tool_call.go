package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/workway/mcp-gateway/internal/model"
)

// ToolCallRepository provides database access for the tool call log.
type ToolCallRepository struct {
	repo *Repository
}

// NewToolCallRepository creates a new ToolCallRepository.
func NewToolCallRepository(repo *Repository) *ToolCallRepository {
	return &ToolCallRepository{repo: repo}
}

// BulkInsert inserts tool calls with idempotency via ON CONFLICT DO NOTHING.
func (r *ToolCallRepository) BulkInsert(ctx context.Context, calls []*model.ToolCall) error {
	if len(calls) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	query := `
		INSERT INTO tool_calls (
			id, event_id, tool, caller_id, user_id, fingerprint,
			tier, outcome, duration_ms, called_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (event_id) DO NOTHING
	`

	for _, call := range calls {
		batch.Queue(query,
			call.ID,
			call.EventID,
			call.Tool,
			call.CallerID,
			nullableString(call.UserID),
			call.Fingerprint,
			call.Tier,
			call.Outcome,
			call.DurationMs,
			call.CalledAt,
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := 0; i < len(calls); i++ {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert tool call %d: %w", i, err)
		}
	}

	return nil
}

// CountByUserSince returns how many calls a user made since the given time.
func (r *ToolCallRepository) CountByUserSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM tool_calls WHERE user_id = $1 AND called_at >= $2`

	var count int64
	if err := r.repo.pool.QueryRow(ctx, query, userID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tool calls: %w", err)
	}
	return count, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
