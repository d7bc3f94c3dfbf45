package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workway/mcp-gateway/internal/model"
)

const (
	// anonUsagePrefix is the Redis key prefix for anonymous usage records.
	anonUsagePrefix = "usage:anon:"
	// AnonUsageTTL is how long an anonymous record lives after its last write.
	AnonUsageTTL = 90 * 24 * time.Hour

	fieldRuns      = "runs"
	fieldFirstSeen = "first_seen"
)

// GetAnonymousUsage returns the usage record for a fingerprint.
// A missing record is returned as zero usage.
func (c *Cache) GetAnonymousUsage(ctx context.Context, fingerprint string) (*model.AnonymousUsage, error) {
	values, err := c.client.HGetAll(ctx, anonUsagePrefix+fingerprint).Result()
	if err != nil {
		return nil, fmt.Errorf("get anonymous usage: %w", err)
	}

	return parseAnonymousUsage(values), nil
}

// IncrementAnonymousUsage adds one run for a fingerprint, keeps first_seen if
// already set, and refreshes the record's expiry.
func (c *Cache) IncrementAnonymousUsage(ctx context.Context, fingerprint string) (*model.AnonymousUsage, error) {
	key := anonUsagePrefix + fingerprint
	now := c.now().UTC()

	var runs *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		runs = pipe.HIncrBy(ctx, key, fieldRuns, 1)
		pipe.HSetNX(ctx, key, fieldFirstSeen, now.UnixMilli())
		pipe.Expire(ctx, key, AnonUsageTTL)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("increment anonymous usage: %w", err)
	}

	firstSeen, err := c.client.HGet(ctx, key, fieldFirstSeen).Int64()
	if err != nil {
		firstSeen = now.UnixMilli()
	}

	return &model.AnonymousUsage{
		Runs:      runs.Val(),
		FirstSeen: time.UnixMilli(firstSeen).UTC(),
	}, nil
}

func parseAnonymousUsage(values map[string]string) *model.AnonymousUsage {
	usage := &model.AnonymousUsage{}
	if len(values) == 0 {
		return usage
	}

	if runs, err := strconv.ParseInt(values[fieldRuns], 10, 64); err == nil {
		usage.Runs = runs
	}
	if ms, err := strconv.ParseInt(values[fieldFirstSeen], 10, 64); err == nil {
		usage.FirstSeen = time.UnixMilli(ms).UTC()
	}

	return usage
}
