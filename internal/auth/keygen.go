// Package auth provides caller identification utilities: API key generation,
// key digests, connection fingerprints and caller context helpers.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/blake2b"
)

// Key format: gw_{kind}_{id}_{secret}
// Example: gw_live_01j9x3k7m2q8r4t6v0w5y1z3ab_4f8d2e1b9c7a5f3d2e1b9c7a5f3d2e1b
const (
	KeyIDLen     = 26 // Lowercased ULID
	KeySecretLen = 32 // Secret length (hex encoded 16 bytes)
)

// Key kinds distinguish anonymous and persistent keys for auditability.
const (
	KindAnonymous = "anon"
	KindLive      = "live"
)

var (
	// ErrInvalidKeyFormat indicates the key format is invalid.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// keyFormatRegex validates the key format.
	keyFormatRegex = regexp.MustCompile(`^gw_(anon|live)_([0-9a-hjkmnp-tv-z]{26})_([a-f0-9]{32})$`)
)

// GeneratedKey contains the parts of a newly generated API key.
type GeneratedKey struct {
	Plaintext string // Full key (show once only)
	Digest    string // blake2b digest for storage
	ID        string // ULID part, safe to log
	Kind      string
}

// GenerateAPIKey creates a new API key of the given kind.
// Unknown kinds default to live.
func GenerateAPIKey(kind string) (*GeneratedKey, error) {
	if kind != KindAnonymous && kind != KindLive {
		kind = KindLive
	}

	id := strings.ToLower(ulid.Make().String())

	secretBytes := make([]byte, 16)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	plaintext := fmt.Sprintf("gw_%s_%s_%s", kind, id, secret)

	return &GeneratedKey{
		Plaintext: plaintext,
		Digest:    Digest(plaintext),
		ID:        id,
		Kind:      kind,
	}, nil
}

// Digest returns the storage digest of a plaintext key.
// Keys carry 128 bits of secret entropy, so an unsalted fast hash is enough
// and lets the store look keys up directly.
func Digest(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// ParsedKey contains the parsed parts of an API key.
type ParsedKey struct {
	Kind   string
	ID     string
	Secret string
}

// ParseAPIKey extracts the components from a plaintext API key.
// Returns an error if the format is invalid.
func ParseAPIKey(key string) (*ParsedKey, error) {
	matches := keyFormatRegex.FindStringSubmatch(key)
	if matches == nil {
		return nil, ErrInvalidKeyFormat
	}

	return &ParsedKey{
		Kind:   matches[1],
		ID:     matches[2],
		Secret: matches[3],
	}, nil
}

// ValidateKeyFormat checks if the key matches the expected format.
func ValidateKeyFormat(key string) bool {
	return keyFormatRegex.MatchString(key)
}
