package auth

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// unknownComponent replaces absent connection metadata.
const unknownComponent = "unknown"

// Fingerprint derives a short, stable, anonymous identifier from a client
// address and client identifier string. It is a bucketing key for free-tier
// usage, not a security boundary: collisions are tolerated.
func Fingerprint(clientAddr, clientID string) string {
	if clientAddr == "" {
		clientAddr = unknownComponent
	}
	if clientID == "" {
		clientID = unknownComponent
	}
	sum := xxhash.Sum64String(clientAddr + "|" + clientID)
	return strconv.FormatUint(sum, 36)
}

// RequestFingerprint fingerprints a request from its forwarded client
// address and User-Agent header.
func RequestFingerprint(r *http.Request) string {
	return Fingerprint(ForwardedFor(r), r.Header.Get("User-Agent"))
}

// ForwardedFor returns the original client address from forwarding headers.
// Only the first X-Forwarded-For hop is used.
func ForwardedFor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	return strings.TrimSpace(r.Header.Get("X-Real-IP"))
}
