// Package identity manages the recorder's durable identity record: the
// project-scoped visitor identifier, the platform-wide visitor identifier,
// and the current session token with its last-activity timestamp.
package identity

import "github.com/google/uuid"

// TokenLength is the canonical identifier length on the wire.
const TokenLength = 36

// NewToken mints a fresh identifier in the canonical 36-character form.
func NewToken() string { return uuid.New().String() }

// ValidToken reports whether s conforms to the canonical identifier format.
// An invalid token must never be transmitted.
func ValidToken(s string) bool {
	if len(s) != TokenLength {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// EnsureValid returns s if valid, otherwise a freshly minted replacement.
// The second result reports whether regeneration happened.
func EnsureValid(s string) (string, bool) {
	if ValidToken(s) {
		return s, false
	}
	return NewToken(), true
}
