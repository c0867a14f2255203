// Package lock defines the file-reservation domain entity.
//
// A lock is an exclusive, time-bounded reservation over a file path. Expiry
// is lazy: an expired lock counts as released for acquisition purposes but
// its record is only cleaned up by the next acquire or release that touches
// the path. No background sweeper is needed for correctness.
package lock

import (
	"fmt"
	"strings"
	"time"

	"github.com/hivetown/swarmd/internal/domain"
)

// DefaultTTLSeconds is the default reservation lifetime.
const DefaultTTLSeconds = 300

// Lock binds one file path to a holder for a bounded interval.
// A group acquisition produces one Lock per path sharing the same token.
type Lock struct {
	Path       string    `json:"path"`
	Holder     string    `json:"holder"`
	Token      string    `json:"token"`
	TTLSeconds int       `json:"ttl_seconds"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// ExpiresAt returns the instant the reservation lapses.
func (l *Lock) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(time.Duration(l.TTLSeconds) * time.Second)
}

// Expired reports whether the reservation has lapsed at the given instant.
func (l *Lock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt())
}

// AcquireRequest holds the fields for a group acquisition.
type AcquireRequest struct {
	Paths      []string `json:"paths"`
	Holder     string   `json:"holder"`
	TTLSeconds int      `json:"ttl_seconds,omitempty"`
}

// ReleaseRequest holds the fields for a holder-scoped release.
type ReleaseRequest struct {
	Paths  []string `json:"paths"`
	Holder string   `json:"holder"`
}

// ConflictError is returned when any requested path is held by a different,
// non-expired holder. Acquisition is all-or-nothing: on conflict no path in
// the group is acquired.
type ConflictError struct {
	ConflictingPaths []string
	CurrentHolder    string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("lock conflict on %s (held by %q)",
		strings.Join(e.ConflictingPaths, ", "), e.CurrentHolder)
}

func (e *ConflictError) Unwrap() error { return domain.ErrConflict }
