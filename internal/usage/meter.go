// Package usage implements per-caller run accounting and tier limit enforcement.
//
// Anonymous callers have a lifetime counter keyed by fingerprint. Users have a
// rolling 30-day window anchored to their own billing_cycle_start, evaluated
// lazily on every check so no reset job is needed.
package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/workway/mcp-gateway/internal/model"
)

// AnonymousStore persists anonymous usage records.
type AnonymousStore interface {
	GetAnonymousUsage(ctx context.Context, fingerprint string) (*model.AnonymousUsage, error)
	IncrementAnonymousUsage(ctx context.Context, fingerprint string) (*model.AnonymousUsage, error)
}

// UserStore mutates persistent user counters.
type UserStore interface {
	ResetBillingCycle(ctx context.Context, userID string, now time.Time) error
	IncrementRuns(ctx context.Context, userID string) error
}

// Meter checks and increments usage for callers.
type Meter struct {
	anon   AnonymousStore
	users  UserStore
	limits model.TierLimits
	logger *slog.Logger
	now    func() time.Time
}

// NewMeter creates a Meter. A nil limits table uses model.DefaultTierLimits.
func NewMeter(anon AnonymousStore, users UserStore, limits model.TierLimits, logger *slog.Logger) *Meter {
	if limits == nil {
		limits = model.DefaultTierLimits()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Meter{
		anon:   anon,
		users:  users,
		limits: limits,
		logger: logger.With("component", "usage.meter"),
		now:    time.Now,
	}
}

// Limits returns the tier table this meter enforces.
func (m *Meter) Limits() model.TierLimits {
	return m.limits
}

// Check computes the caller's current usage. For users whose window has
// elapsed it resets the cycle in the store before answering.
func (m *Meter) Check(ctx context.Context, caller *model.Caller) (*model.UsageResult, error) {
	if caller.IsAnonymous() {
		return m.checkAnonymous(ctx, caller.Fingerprint)
	}
	return m.checkUser(ctx, caller.User)
}

func (m *Meter) checkAnonymous(ctx context.Context, fingerprint string) (*model.UsageResult, error) {
	record, err := m.anon.GetAnonymousUsage(ctx, fingerprint)
	if err != nil {
		return nil, fmt.Errorf("get anonymous usage: %w", err)
	}

	limit := m.limits.Limit(model.TierAnonymous)
	return &model.UsageResult{
		Exceeded: limit != model.Unlimited && record.Runs >= limit,
		Runs:     record.Runs,
		Limit:    limit,
		Tier:     model.TierAnonymous,
	}, nil
}

func (m *Meter) checkUser(ctx context.Context, user *model.User) (*model.UsageResult, error) {
	limit := m.limits.Limit(user.Tier)
	cycleStart := user.BillingCycleStart

	result := &model.UsageResult{
		Runs:       user.RunsThisMonth,
		Limit:      limit,
		Tier:       user.Tier,
		UserID:     user.ID,
		CycleStart: &cycleStart,
	}

	if limit == model.Unlimited {
		return result, nil
	}

	now := m.now().UTC()
	elapsed := daysSince(cycleStart, now)

	if elapsed >= model.BillingCycleDays {
		if err := m.users.ResetBillingCycle(ctx, user.ID, now); err != nil {
			return nil, fmt.Errorf("reset billing cycle: %w", err)
		}
		m.logger.Info("billing cycle reset",
			"user_id", user.ID,
			"previous_runs", user.RunsThisMonth,
			"days_elapsed", elapsed,
		)

		days := model.BillingCycleDays
		result.Runs = 0
		result.CycleStart = &now
		result.DaysUntilReset = &days
		return result, nil
	}

	days := model.BillingCycleDays - elapsed
	result.Exceeded = user.RunsThisMonth >= limit
	result.DaysUntilReset = &days
	return result, nil
}

// Increment records one run for the caller.
func (m *Meter) Increment(ctx context.Context, caller *model.Caller) error {
	if caller.IsAnonymous() {
		if _, err := m.anon.IncrementAnonymousUsage(ctx, caller.Fingerprint); err != nil {
			return fmt.Errorf("increment anonymous usage: %w", err)
		}
		return nil
	}

	if err := m.users.IncrementRuns(ctx, caller.User.ID); err != nil {
		return fmt.Errorf("increment user runs: %w", err)
	}
	return nil
}

// daysSince returns the whole days from start to now, never negative.
func daysSince(start, now time.Time) int {
	d := now.Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / (24 * time.Hour))
}
