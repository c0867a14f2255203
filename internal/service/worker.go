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
	"github.com/hivetown/swarmd/internal/domain/worker"
	"github.com/hivetown/swarmd/internal/port/database"
)

// WorkerService owns worker registration. A registration atomically claims
// the task: the PENDING card moves to IN_PROGRESS with assigned_to set, and
// only then is the worker record created. Claiming through the version-
// checked task update is what makes two racing registrations for the same
// task resolve to exactly one winner.
type WorkerService struct {
	store   database.Store
	relay   *Relay
	cfg     config.Swarm
	metrics *otel.Metrics
	now     func() time.Time
}

// NewWorkerService creates a WorkerService. metrics may be nil.
func NewWorkerService(store database.Store, relay *Relay, cfg config.Swarm, metrics *otel.Metrics) *WorkerService {
	return &WorkerService{store: store, relay: relay, cfg: cfg, metrics: metrics, now: time.Now}
}

// WorkerStatus is a worker record with its remaining timebox computed.
type WorkerStatus struct {
	worker.Worker
	Remaining int  `json:"remaining_seconds"`
	Stale     bool `json:"stale"`
}

// Register binds a named worker to a task for one timebox.
func (s *WorkerService) Register(ctx context.Context, req worker.RegisterRequest) (*WorkerStatus, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("%w: worker name is required", domain.ErrValidation)
	}
	if req.TaskID == "" {
		return nil, fmt.Errorf("%w: task id is required", domain.ErrValidation)
	}
	lane := task.Lane(req.Lane)
	if !lane.Valid() {
		return nil, fmt.Errorf("%w: unknown lane %q", domain.ErrValidation, req.Lane)
	}

	now := s.now()

	// Unique-name check first. An expired record does not block reuse of
	// the name; it is cleaned up lazily here.
	if existing, err := s.store.GetWorker(ctx, req.Name); err == nil {
		if !existing.Stale(now) {
			return nil, &worker.DuplicateNameError{Name: req.Name}
		}
		if err := s.store.DeleteWorker(ctx, req.Name); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	// One active worker per task. The stored assigned_to may name a worker
	// whose timebox has elapsed; that assignment no longer blocks.
	t, err := s.store.GetTask(ctx, lane, req.TaskID)
	if err != nil {
		return nil, err
	}
	if holder := s.activeHolder(ctx, t, now); holder != "" && holder != req.Name {
		return nil, &worker.AlreadyAssignedError{TaskID: req.TaskID, Holder: holder}
	}

	// Claim the task. The version check makes this the decisive step when
	// two registrations race.
	from := t.Status
	switch t.Status {
	case task.StatusPending:
		t.Status = task.StatusInProgress
	case task.StatusInProgress:
		// Previous holder's timebox elapsed; the assignment is taken over.
	default:
		return nil, &task.InvalidTransitionError{Lane: lane, ID: req.TaskID, From: t.Status, To: task.StatusInProgress}
	}
	t.AssignedTo = req.Name
	t.Wave = req.Wave
	if err := s.store.UpdateTask(ctx, t); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, &worker.AlreadyAssignedError{TaskID: req.TaskID, Holder: "another worker"}
		}
		return nil, err
	}

	ttl := int(s.cfg.WorkerTTL / time.Second)
	if ttl <= 0 {
		ttl = worker.DefaultTTLSeconds
	}
	w := &worker.Worker{
		Name:         req.Name,
		Lane:         req.Lane,
		TaskID:       req.TaskID,
		Wave:         req.Wave,
		TTLSeconds:   ttl,
		RegisteredAt: now,
	}
	if err := s.store.CreateWorker(ctx, w); err != nil {
		// Roll the claim back so the card does not stay IN_PROGRESS with
		// a worker that was never registered.
		t.Status = from
		t.AssignedTo = ""
		if rbErr := s.store.UpdateTask(ctx, t); rbErr != nil {
			return nil, fmt.Errorf("register worker %s: %w (rollback failed: %v)", req.Name, err, rbErr)
		}
		if errors.Is(err, domain.ErrConflict) {
			return nil, &worker.DuplicateNameError{Name: req.Name}
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.Registrations.Add(ctx, 1)
	}
	s.relay.Emit(ctx, subjectWorkerRegistered, EventWorkerRegistered, WorkerEvent{
		Name: w.Name, Lane: w.Lane, TaskID: w.TaskID, Wave: w.Wave,
	})
	if from != task.StatusInProgress {
		s.relay.Emit(ctx, subjectTaskStatus, EventTaskStatus, TaskStatusEvent{
			Lane: string(lane), TaskID: req.TaskID,
			From: string(from), To: string(task.StatusInProgress), Worker: req.Name,
		})
	}

	return &WorkerStatus{Worker: *w, Remaining: w.Remaining(now)}, nil
}

// activeHolder returns the name of the non-expired worker assigned to the
// task, or "" when the assignment is free.
func (s *WorkerService) activeHolder(ctx context.Context, t *task.Task, now time.Time) string {
	if t.AssignedTo == "" {
		return ""
	}
	w, err := s.store.GetWorker(ctx, t.AssignedTo)
	if err != nil || w.Stale(now) {
		return ""
	}
	if w.TaskID != t.ID {
		return ""
	}
	return w.Name
}

// Unregister removes a worker record. Idempotent: unregistering an unknown
// name succeeds. The task card is not touched; its terminal status comes
// from the worker's result, not from departure.
func (s *WorkerService) Unregister(ctx context.Context, name string) error {
	w, err := s.store.GetWorker(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := s.store.DeleteWorker(ctx, name); err != nil {
		return err
	}
	s.relay.Emit(ctx, subjectWorkerUnregistered, EventWorkerUnregistered, WorkerEvent{
		Name: w.Name, Lane: w.Lane, TaskID: w.TaskID, Wave: w.Wave,
	})
	return nil
}

// List returns every registered worker with remaining timebox computed.
// Stale workers are included and flagged, never hidden.
func (s *WorkerService) List(ctx context.Context) ([]WorkerStatus, error) {
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]WorkerStatus, 0, len(workers))
	for _, w := range workers {
		out = append(out, WorkerStatus{
			Worker:    w,
			Remaining: w.Remaining(now),
			Stale:     w.Stale(now),
		})
	}
	return out, nil
}

// IsTaskAssigned reports whether the task currently has a non-expired worker.
func (s *WorkerService) IsTaskAssigned(ctx context.Context, lane task.Lane, id string) (bool, string, error) {
	t, err := s.store.GetTask(ctx, lane, id)
	if err != nil {
		return false, "", err
	}
	holder := s.activeHolder(ctx, t, s.now())
	return holder != "", holder, nil
}
