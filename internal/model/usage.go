package model

import "time"

// AnonymousUsage is the ephemeral usage record kept per fingerprint.
type AnonymousUsage struct {
	Runs      int64     `json:"runs"`
	FirstSeen time.Time `json:"first_seen"`
}

// UsageResult is a computed usage snapshot. It is never persisted.
type UsageResult struct {
	Exceeded       bool       `json:"exceeded"`
	Runs           int64      `json:"runs"`
	Limit          int64      `json:"limit"`
	Tier           string     `json:"tier"`
	UserID         string     `json:"userId,omitempty"`
	CycleStart     *time.Time `json:"cycleStart,omitempty"`
	DaysUntilReset *int       `json:"daysUntilReset,omitempty"`
}

// Remaining returns how many runs are left, or Unlimited.
func (u *UsageResult) Remaining() int64 {
	if u.Limit == Unlimited {
		return Unlimited
	}
	if u.Runs >= u.Limit {
		return 0
	}
	return u.Limit - u.Runs
}

// ResetAt returns when the billing window rolls over.
// Returns nil for lifetime (anonymous) and unlimited usage.
func (u *UsageResult) ResetAt(now time.Time) *time.Time {
	if u.DaysUntilReset == nil {
		return nil
	}
	at := now.AddDate(0, 0, *u.DaysUntilReset)
	return &at
}
