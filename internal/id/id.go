// Package id generates time-ordered identifiers for fetch cycles and events.
package id

import "github.com/google/uuid"

// New returns a UUIDv7, so ids sort by creation time. It falls back to a
// random UUIDv4 if the v7 generator fails.
func New() uuid.UUID {
	v, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return v
}
