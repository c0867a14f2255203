// Package worker defines the Worker domain entity.
//
// A worker is an ephemeral execution unit bound to exactly one task for a
// bounded time. The TTL is advisory at the store layer: the store computes
// and exposes the remaining budget but never kills or reassigns on its own;
// that policy belongs to an external supervisor.
package worker

import (
	"fmt"
	"time"

	"github.com/hivetown/swarmd/internal/domain"
)

// DefaultTTLSeconds is the hard 4-minute timebox every worker runs under.
const DefaultTTLSeconds = 240

// Worker represents an active worker bound to one task in one wave.
type Worker struct {
	Name         string    `json:"name"`
	Lane         string    `json:"lane"`
	TaskID       string    `json:"task_id"`
	Wave         int       `json:"wave"`
	TTLSeconds   int       `json:"ttl_seconds"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Remaining returns the seconds left in the worker's timebox, clamped at 0.
func (w *Worker) Remaining(now time.Time) int {
	left := w.TTLSeconds - int(now.Sub(w.RegisteredAt)/time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// Stale reports whether the worker's timebox has fully elapsed.
// Stale workers stay registered until a supervisor force-unregisters them.
func (w *Worker) Stale(now time.Time) bool {
	return w.Remaining(now) == 0
}

// RegisterRequest holds the fields needed to register a worker.
type RegisterRequest struct {
	Name   string `json:"name"`
	Lane   string `json:"lane"`
	TaskID string `json:"task_id"`
	Wave   int    `json:"wave"`
}

// AlreadyAssignedError is returned when a task already has an active
// (non-expired) worker.
type AlreadyAssignedError struct {
	TaskID string
	Holder string
}

func (e *AlreadyAssignedError) Error() string {
	return fmt.Sprintf("task %s is already assigned to worker %q", e.TaskID, e.Holder)
}

func (e *AlreadyAssignedError) Unwrap() error { return domain.ErrConflict }

// DuplicateNameError is returned when the worker name is already active.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("worker %q is already registered", e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return domain.ErrConflict }
