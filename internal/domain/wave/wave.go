// Package wave defines the wave singleton: the one global sequence counter
// in the system plus the membership of the current batch.
package wave

import (
	"fmt"
	"strings"
	"time"

	"github.com/hivetown/swarmd/internal/domain"
)

// Status represents the lifecycle of the current wave.
type Status string

const (
	StatusComposing  Status = "COMPOSING"
	StatusActive     Status = "ACTIVE"
	StatusCollecting Status = "COLLECTING"
	StatusComplete   Status = "COMPLETE"
)

// Wave holds the generation counter and the member task keys ("LANE/ID")
// assigned to it. Numbers are monotonically increasing and never reused.
type Wave struct {
	Number    int       `json:"number"`
	Members   []string  `json:"members,omitempty"`
	Status    Status    `json:"status"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidationResult carries the explicit list of composition rules a
// candidate set violates, so the caller can fix the set and retry instead
// of guessing at a boolean.
type ValidationResult struct {
	Violations []string `json:"violations"`
}

// OK reports whether the candidate set passed every rule.
func (r *ValidationResult) OK() bool {
	return len(r.Violations) == 0
}

// InProgressError is returned when increment is attempted while the current
// wave still has non-terminal member tasks or uncollected results.
type InProgressError struct {
	Number int
	Status Status
}

func (e *InProgressError) Error() string {
	return fmt.Sprintf("wave %d is still %s", e.Number, e.Status)
}

func (e *InProgressError) Unwrap() error { return domain.ErrConflict }

// IncompleteError is returned when activation is attempted before every
// member task has a registered worker.
type IncompleteError struct {
	Number     int
	Unassigned []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("wave %d has unassigned tasks: %s",
		e.Number, strings.Join(e.Unassigned, ", "))
}

func (e *IncompleteError) Unwrap() error { return domain.ErrValidation }
