// Package task defines the Task domain entity and its status state machine.
package task

import (
	"fmt"
	"time"

	"github.com/hivetown/swarmd/internal/domain"
)

// Lane partitions tasks by domain. Tasks in different lanes are assumed
// independent of each other.
type Lane string

const (
	LaneKernel      Lane = "KERNEL"
	LaneML          Lane = "ML"
	LaneQuant       Lane = "QUANT"
	LaneDEX         Lane = "DEX"
	LaneIntegration Lane = "INTEGRATION"
)

// Lanes lists every known lane in a stable order.
func Lanes() []Lane {
	return []Lane{LaneKernel, LaneML, LaneQuant, LaneDEX, LaneIntegration}
}

// Valid reports whether the lane is one of the known lanes.
func (l Lane) Valid() bool {
	switch l {
	case LaneKernel, LaneML, LaneQuant, LaneDEX, LaneIntegration:
		return true
	}
	return false
}

// Prefix returns the task-id prefix conventionally used in this lane.
func (l Lane) Prefix() string {
	switch l {
	case LaneKernel:
		return "K"
	case LaneML:
		return "M"
	case LaneQuant:
		return "Q"
	case LaneDEX:
		return "D"
	case LaneIntegration:
		return "INT-"
	}
	return ""
}

// Type is the work-shape tag of a task.
type Type string

const (
	TypeAddStub    Type = "ADD_STUB"
	TypeAddPureFn  Type = "ADD_PURE_FN"
	TypeAddTest    Type = "ADD_TEST"
	TypeAddAsserts Type = "ADD_ASSERTS"
	TypeDocSnippet Type = "DOC_SNIPPET"
)

// Valid reports whether the type is one of the known work shapes.
func (t Type) Valid() bool {
	switch t {
	case TypeAddStub, TypeAddPureFn, TypeAddTest, TypeAddAsserts, TypeDocSnippet:
		return true
	}
	return false
}

// IsValidation reports whether the type is a validation work shape
// (test or assert tasks). Wave composition requires these in pairs.
func (t Type) IsValidation() bool {
	return t == TypeAddTest || t == TypeAddAsserts
}

// Status represents the current state of a task.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusPartial    Status = "PARTIAL"
	StatusBlocked    Status = "BLOCKED"
	StatusFailed     Status = "FAILED"
)

// Valid reports whether the status is a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusDone, StatusPartial, StatusBlocked, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the status is final. Terminal tasks are never
// revived; a follow-up task must be created fresh with a new id.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusPartial, StatusBlocked, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether the state machine allows moving from s to next.
// PENDING may go straight to BLOCKED (pre-flight rejection); every other
// terminal state requires passing through IN_PROGRESS.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusInProgress || next == StatusBlocked
	case StatusInProgress:
		return next.Terminal()
	}
	return false
}

// Deliverable is one checklist item on a task card.
type Deliverable struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// Task represents a unit of work assigned to a single short-lived worker.
type Task struct {
	ID           string        `json:"id"`
	Lane         Lane          `json:"lane"`
	Type         Type          `json:"type"`
	Status       Status        `json:"status"`
	Wave         int           `json:"wave,omitempty"`
	Objective    string        `json:"objective,omitempty"`
	AssignedTo   string        `json:"assigned_to,omitempty"`
	TouchedFiles []string      `json:"touched_files,omitempty"`
	Deliverables []Deliverable `json:"deliverables,omitempty"`
	// Origin optionally references the task this one follows up on
	// (e.g. the remainder of a PARTIAL). Metadata only, never required.
	Origin    string    `json:"origin,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the store key "LANE/ID".
func (t *Task) Key() string {
	return Key(t.Lane, t.ID)
}

// Key builds the store key for a (lane, id) pair.
func Key(lane Lane, id string) string {
	return string(lane) + "/" + id
}

// CreateRequest holds the fields needed to create a new task card.
type CreateRequest struct {
	ID           string        `json:"id"`
	Lane         Lane          `json:"lane"`
	Type         Type          `json:"type"`
	Objective    string        `json:"objective"`
	TouchedFiles []string      `json:"touched_files,omitempty"`
	Deliverables []Deliverable `json:"deliverables,omitempty"`
	Origin       string        `json:"origin,omitempty"`
}

// DuplicateError is returned when a (lane, id) pair already exists.
// The first writer wins; the second caller receives this error.
type DuplicateError struct {
	Lane Lane
	ID   string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("task %s already exists", Key(e.Lane, e.ID))
}

// Unwrap maps the error onto the shared conflict sentinel.
func (e *DuplicateError) Unwrap() error { return domain.ErrConflict }

// InvalidTransitionError is returned when a status update violates the
// state machine. The stored status is left unchanged.
type InvalidTransitionError struct {
	Lane Lane
	ID   string
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %s: invalid transition %s -> %s", Key(e.Lane, e.ID), e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error { return domain.ErrConflict }
