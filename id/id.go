// Package id generates the time-ordered identifiers used for sessions,
// traces, and spans. UUIDv7 embeds a millisecond timestamp in its high bits,
// so identifiers sort lexicographically in creation order without a
// separate sequence column — the property spec.md requires of SessionID.
package id

import "github.com/google/uuid"

// New returns a new time-ordered UUIDv7 string.
func New() string {
	v, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the global random source errors, which the
		// standard library's crypto/rand-backed reader does not do in
		// practice. Fall back to a random v4 rather than panic.
		return uuid.NewString()
	}
	return v.String()
}
