// Package result defines the immutable completion record a worker produces
// once per task, and the summary a collection pass returns.
package result

import (
	"fmt"
	"strings"
	"time"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/task"
)

// Result is created by the worker's report step, consumed exactly once by
// the collector, then archived. Never mutated after creation.
type Result struct {
	TaskID       string        `json:"task_id"`
	Lane         task.Lane     `json:"lane"`
	Status       task.Status   `json:"status"`
	Worker       string        `json:"worker,omitempty"`
	FilesChanged []string      `json:"files_changed,omitempty"`
	LinesChanged int           `json:"lines_changed"`
	TimeTaken    time.Duration `json:"time_taken"`
	Summary      string        `json:"summary"`
	Notes        string        `json:"notes,omitempty"`
	SubmittedAt  time.Time     `json:"submitted_at"`
}

// Validate checks the fields a collection pass requires. A record failing
// validation is quarantined, never silently dropped.
func (r *Result) Validate() error {
	var missing []string
	if r.TaskID == "" {
		missing = append(missing, "task_id")
	}
	if r.Lane == "" {
		missing = append(missing, "lane")
	}
	if r.Status == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: result missing %s", domain.ErrValidation, strings.Join(missing, ", "))
	}
	if !r.Status.Terminal() {
		return fmt.Errorf("%w: result status %q is not terminal", domain.ErrValidation, r.Status)
	}
	if r.Status == task.StatusPartial && r.Notes == "" {
		return fmt.Errorf("%w: PARTIAL result must note the remaining scope", domain.ErrValidation)
	}
	if r.LinesChanged < 0 {
		return fmt.Errorf("%w: lines_changed must be >= 0", domain.ErrValidation)
	}
	return nil
}

// CollectionSummary counts what one collection pass ingested, by outcome.
// A second pass with no new records yields all zeros.
type CollectionSummary struct {
	Done      int `json:"done"`
	Partial   int `json:"partial"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
	Malformed int `json:"malformed"`
}

// Total returns the number of well-formed results ingested.
func (s CollectionSummary) Total() int {
	return s.Done + s.Partial + s.Blocked + s.Failed
}

// Count adds one result with the given terminal status to the summary.
func (s *CollectionSummary) Count(status task.Status) {
	switch status {
	case task.StatusDone:
		s.Done++
	case task.StatusPartial:
		s.Partial++
	case task.StatusBlocked:
		s.Blocked++
	case task.StatusFailed:
		s.Failed++
	}
}
