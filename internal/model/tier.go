package model

import "maps"

// Unlimited marks a tier without a run limit.
const Unlimited int64 = -1

// TierLimits maps tier names to their run limits.
// The anonymous limit is a lifetime count; the others are per billing cycle.
type TierLimits map[string]int64

// DefaultTierLimits returns the stock limits.
func DefaultTierLimits() TierLimits {
	return TierLimits{
		TierAnonymous:  50,
		TierFree:       500,
		TierPro:        5000,
		TierEnterprise: Unlimited,
	}
}

// Merge returns a copy of l with overrides applied on top.
func (l TierLimits) Merge(overrides TierLimits) TierLimits {
	out := maps.Clone(l)
	if out == nil {
		out = TierLimits{}
	}
	for tier, limit := range overrides {
		out[tier] = limit
	}
	return out
}

// Limit returns the limit for a tier.
// Unknown tiers fall back to the free tier limit.
func (l TierLimits) Limit(tier string) int64 {
	if limit, ok := l[tier]; ok {
		return limit
	}
	return l[TierFree]
}
