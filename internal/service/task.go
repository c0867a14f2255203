package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hivetown/swarmd/internal/adapter/otel"
	"github.com/hivetown/swarmd/internal/config"
	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/port/database"
)

// TaskService owns the task card lifecycle: creation, the status state
// machine, and reads.
type TaskService struct {
	store   database.Store
	relay   *Relay
	cfg     config.Swarm
	metrics *otel.Metrics
	now     func() time.Time
}

// NewTaskService creates a TaskService. metrics may be nil.
func NewTaskService(store database.Store, relay *Relay, cfg config.Swarm, metrics *otel.Metrics) *TaskService {
	return &TaskService{store: store, relay: relay, cfg: cfg, metrics: metrics, now: time.Now}
}

// Create validates and stores a new PENDING task card. The (lane, id) pair
// is the identity; the first writer wins and the loser gets a DuplicateError.
func (s *TaskService) Create(ctx context.Context, req task.CreateRequest) (*task.Task, error) {
	if err := s.validateCreate(req); err != nil {
		return nil, err
	}

	now := s.now()
	t := &task.Task{
		ID:           req.ID,
		Lane:         req.Lane,
		Type:         req.Type,
		Status:       task.StatusPending,
		Objective:    req.Objective,
		TouchedFiles: req.TouchedFiles,
		Deliverables: req.Deliverables,
		Origin:       req.Origin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.store.CreateTask(ctx, t); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, &task.DuplicateError{Lane: req.Lane, ID: req.ID}
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.TasksCreated.Add(ctx, 1)
	}
	return t, nil
}

func (s *TaskService) validateCreate(req task.CreateRequest) error {
	if req.ID == "" {
		return fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}
	if !req.Lane.Valid() {
		return fmt.Errorf("%w: unknown lane %q", domain.ErrValidation, req.Lane)
	}
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown task type %q", domain.ErrValidation, req.Type)
	}
	if len(req.TouchedFiles) > s.cfg.MaxTouchedFiles {
		return fmt.Errorf("%w: task may touch at most %d files, got %d",
			domain.ErrValidation, s.cfg.MaxTouchedFiles, len(req.TouchedFiles))
	}
	return nil
}

// Get returns one task card.
func (s *TaskService) Get(ctx context.Context, lane task.Lane, id string) (*task.Task, error) {
	return s.store.GetTask(ctx, lane, id)
}

// List returns task cards, all lanes when lane is empty.
func (s *TaskService) List(ctx context.Context, lane task.Lane) ([]task.Task, error) {
	if lane != "" && !lane.Valid() {
		return nil, fmt.Errorf("%w: unknown lane %q", domain.ErrValidation, lane)
	}
	return s.store.ListTasks(ctx, lane)
}

// maxUpdateRetries bounds the optimistic concurrency loop. Contention on a
// single card is rare (one worker per task), so a couple of retries suffice.
const maxUpdateRetries = 3

// UpdateStatus applies a state machine transition with optimistic
// concurrency: the card is re-read and the transition re-validated on every
// version conflict, so a racing writer can never be silently overwritten and
// an invalid transition leaves the stored status untouched.
func (s *TaskService) UpdateStatus(ctx context.Context, lane task.Lane, id string, next task.Status, notes string) (*task.Task, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, next)
	}
	if next == task.StatusPartial && notes == "" {
		return nil, fmt.Errorf("%w: PARTIAL requires a note describing the remaining scope", domain.ErrValidation)
	}

	var lastErr error
	for range maxUpdateRetries {
		t, err := s.store.GetTask(ctx, lane, id)
		if err != nil {
			return nil, err
		}
		from := t.Status
		if !from.CanTransition(next) {
			return nil, &task.InvalidTransitionError{Lane: lane, ID: id, From: from, To: next}
		}

		t.Status = next
		if notes != "" {
			t.Notes = notes
		}
		if err := s.store.UpdateTask(ctx, t); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				lastErr = err
				continue
			}
			return nil, err
		}

		if s.metrics != nil {
			s.metrics.StatusTransitions.Add(ctx, 1)
		}
		s.relay.Emit(ctx, subjectTaskStatus, EventTaskStatus, TaskStatusEvent{
			Lane:   string(lane),
			TaskID: id,
			From:   string(from),
			To:     string(next),
			Worker: t.AssignedTo,
		})
		return t, nil
	}
	return nil, fmt.Errorf("update task %s: retries exhausted: %w", task.Key(lane, id), lastErr)
}

// Delete removes a task card. Idempotent.
func (s *TaskService) Delete(ctx context.Context, lane task.Lane, id string) error {
	return s.store.DeleteTask(ctx, lane, id)
}
