// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict or a
// uniqueness violation (optimistic locking, duplicate registration,
// lock contention, invalid status transition).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the caller's input violates a composition or
// format rule and should be fixed and retried.
var ErrValidation = errors.New("validation failed")

// ErrDurability indicates the underlying store failed to persist a write.
// It must always propagate; a swallowed status update corrupts the
// coordination invariants.
var ErrDurability = errors.New("store write failed")
