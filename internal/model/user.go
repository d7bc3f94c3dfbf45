// Package model defines domain entities for the application.
package model

import "time"

// Tier constants.
const (
	TierAnonymous  = "anonymous"
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// ValidTiers contains all valid tier values.
var ValidTiers = []string{TierAnonymous, TierFree, TierPro, TierEnterprise}

// BillingCycleDays is the length of a user's rolling usage window.
const BillingCycleDays = 30

// User represents a persistent caller identity.
type User struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Tier              string    `json:"tier"`
	RunsThisMonth     int64     `json:"runs_this_month"`
	BillingCycleStart time.Time `json:"billing_cycle_start"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
