// Package ident mints identifiers for records created in the local cache.
package ident

import (
	"github.com/gofrs/uuid/v5"
)

// NewID returns a time-ordered UUIDv7 string: 48 bits of unix milliseconds, a
// monotonic sequence for ids minted within the same millisecond, then random bits.
// Remote ids are v4, so the version nibble alone keeps the two id spaces apart.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// entropy source failed for v7; v4 is still unique enough
		return uuid.Must(uuid.NewV4()).String()
	}
	return id.String()
}

// IsLocal reports whether id looks like one minted by NewID.
func IsLocal(id string) bool {
	u, err := uuid.FromString(id)
	if err != nil {
		return false
	}
	return u.Version() == uuid.V7
}
