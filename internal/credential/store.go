// Package credential issues, validates and revokes API keys.
//
// Keys are stored in Redis under their digest and map to exactly one caller
// identity. Anonymous keys expire; persistent keys live until revoked and are
// indexed per user so they can be revoked in bulk.
package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workway/mcp-gateway/internal/auth"
	"github.com/workway/mcp-gateway/internal/metrics"
	"github.com/workway/mcp-gateway/internal/model"
)

const (
	// keyPrefix is the Redis key prefix for key digest -> identity mappings.
	keyPrefix = "apikey:"
	// userKeysPrefix is the Redis key prefix for the per-user digest set.
	userKeysPrefix = "apikeys:user:"
	// AnonymousKeyTTL is the lifetime of an anonymous key.
	AnonymousKeyTTL = 90 * 24 * time.Hour
)

// Errors returned by the store.
var (
	ErrNotFound     = errors.New("API key not found")
	ErrUnauthorized = errors.New("API key not owned by requester")
)

// IssuedKey is returned once, at issuance.
type IssuedKey struct {
	Key       string `json:"key"`
	Tier      string `json:"tier"`
	ExpiresIn *int64 `json:"expiresIn,omitempty"` // seconds
}

// RevokeResult reports a bulk revocation.
type RevokeResult struct {
	Revoked int    `json:"revoked"`
	Message string `json:"message,omitempty"`
}

// storedKey is the value kept under each key digest.
type storedKey struct {
	model.Identity
	KeyID     string `json:"key_id"`
	CreatedAt int64  `json:"created_at"`
}

// Store is the Redis-backed credential store.
type Store struct {
	client  *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

// NewStore creates a credential store.
func NewStore(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Store {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Store{
		client:  client,
		logger:  logger.With("component", "credential.store"),
		metrics: recorder,
		now:     time.Now,
	}
}

// Issue generates a new key for the caller.
// Anonymous callers get an expiring key bound to their fingerprint; users
// get a persistent key added to their key set.
func (s *Store) Issue(ctx context.Context, caller *model.Caller) (*IssuedKey, error) {
	identity := caller.Identity()

	kind := auth.KindLive
	var ttl time.Duration
	if identity.IsAnonymous() {
		kind = auth.KindAnonymous
		ttl = AnonymousKeyTTL
	}

	generated, err := auth.GenerateAPIKey(kind)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	data, err := json.Marshal(storedKey{
		Identity:  identity,
		KeyID:     generated.ID,
		CreatedAt: s.now().UnixMilli(),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyPrefix+generated.Digest, data, ttl)
		if !identity.IsAnonymous() {
			pipe.SAdd(ctx, userKeysPrefix+identity.UserID, generated.Digest)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}

	s.metrics.IncCredentialIssued(caller.Tier())
	s.logger.Info("API key issued",
		slog.String("key_id", generated.ID),
		slog.String("kind", kind),
		slog.String("caller", caller.ID()),
	)

	issued := &IssuedKey{Key: generated.Plaintext, Tier: caller.Tier()}
	if identity.IsAnonymous() {
		seconds := int64(AnonymousKeyTTL.Seconds())
		issued.ExpiresIn = &seconds
	}
	return issued, nil
}

// Validate returns the identity a key maps to, or nil if it is unknown.
func (s *Store) Validate(ctx context.Context, key string) (*model.Identity, error) {
	stored, err := s.lookup(ctx, auth.Digest(key))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stored.Identity, nil
}

// RevokeAll revokes every key of a persistent user.
// Anonymous keys have no index and expire on their own, so this is a no-op
// for anonymous callers.
func (s *Store) RevokeAll(ctx context.Context, caller *model.Caller) (*RevokeResult, error) {
	if caller.IsAnonymous() {
		return &RevokeResult{
			Revoked: 0,
			Message: "Anonymous keys expire automatically after 90 days",
		}, nil
	}

	setKey := userKeysPrefix + caller.User.ID
	digests, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list user keys: %w", err)
	}

	keys := make([]string, 0, len(digests)+1)
	for _, digest := range digests {
		keys = append(keys, keyPrefix+digest)
	}
	keys = append(keys, setKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return nil, fmt.Errorf("delete user keys: %w", err)
	}

	s.metrics.AddCredentialRevoked(len(digests))
	s.logger.Info("API keys revoked",
		slog.String("user_id", caller.User.ID),
		slog.Int("count", len(digests)),
	)

	return &RevokeResult{Revoked: len(digests)}, nil
}

// RevokeOne revokes a single key.
// Persistent requesters may only revoke keys mapped to their own user id;
// anonymous requesters are not ownership-checked.
func (s *Store) RevokeOne(ctx context.Context, key string, requester *model.Caller) error {
	digest := auth.Digest(key)

	stored, err := s.lookup(ctx, digest)
	if err != nil {
		return err
	}

	if !requester.IsAnonymous() {
		if stored.IsAnonymous() || stored.UserID != requester.User.ID {
			return ErrUnauthorized
		}
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keyPrefix+digest)
		if !stored.IsAnonymous() {
			pipe.SRem(ctx, userKeysPrefix+stored.UserID, digest)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete key: %w", err)
	}

	s.metrics.AddCredentialRevoked(1)
	s.logger.Info("API key revoked",
		slog.String("key_id", stored.KeyID),
		slog.String("caller", requester.ID()),
	)
	return nil
}

func (s *Store) lookup(ctx context.Context, digest string) (*storedKey, error) {
	data, err := s.client.Get(ctx, keyPrefix+digest).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get key: %w", err)
	}

	var stored storedKey
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return &stored, nil
}
