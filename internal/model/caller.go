package model

// Identity kinds a credential can map to.
const (
	IdentityAnonymous = "anonymous"
	IdentityUser      = "user"
)

// Identity is the caller identity a credential maps to.
// Exactly one of Fingerprint or UserID is set, matching Kind.
type Identity struct {
	Kind        string `json:"kind"`
	Fingerprint string `json:"fingerprint,omitempty"`
	UserID      string `json:"user_id,omitempty"`
}

// AnonymousIdentity returns an identity bound to a fingerprint.
func AnonymousIdentity(fingerprint string) Identity {
	return Identity{Kind: IdentityAnonymous, Fingerprint: fingerprint}
}

// UserIdentity returns an identity bound to a persistent user.
func UserIdentity(userID string) Identity {
	return Identity{Kind: IdentityUser, UserID: userID}
}

// IsAnonymous reports whether the identity is a fingerprint.
func (i Identity) IsAnonymous() bool {
	return i.Kind == IdentityAnonymous
}

// Caller is the resolved identity of an inbound request.
// It is injected into the request context by the identify middleware.
type Caller struct {
	// Fingerprint buckets anonymous usage. Always set.
	Fingerprint string
	// User is nil for anonymous callers.
	User *User
	// Credential is the bearer token presented, if any.
	Credential string
}

// IsAnonymous reports whether the caller has no persistent user.
func (c *Caller) IsAnonymous() bool {
	return c == nil || c.User == nil
}

// Tier returns the caller's quota class.
func (c *Caller) Tier() string {
	if c.IsAnonymous() {
		return TierAnonymous
	}
	return c.User.Tier
}

// Identity returns the identity new credentials for this caller map to.
func (c *Caller) Identity() Identity {
	if c.IsAnonymous() {
		return AnonymousIdentity(c.Fingerprint)
	}
	return UserIdentity(c.User.ID)
}

// ID returns a stable identifier for logs, rate limits and events.
func (c *Caller) ID() string {
	if c.IsAnonymous() {
		return "anon:" + c.Fingerprint
	}
	return "user:" + c.User.ID
}
