package service

import (
	"context"
	"time"

	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/port/database"
)

// StatusService assembles the swarm-wide snapshot the board poller and the
// admin CLI render. Read-only; all writes go through the other services.
type StatusService struct {
	store database.Store
	now   func() time.Time
}

// NewStatusService creates a StatusService.
func NewStatusService(store database.Store) *StatusService {
	return &StatusService{store: store, now: time.Now}
}

// Snapshot is the aggregate state of the swarm at one instant.
type Snapshot struct {
	Wave     *wave.Wave          `json:"wave"`
	Tasks    map[string]int      `json:"tasks"`
	ByLane   map[string][]string `json:"by_lane"`
	Workers  []WorkerStatus      `json:"workers"`
	Locks    []lock.Lock         `json:"locks"`
	TakenAt  time.Time           `json:"taken_at"`
	Backlog  int                 `json:"backlog"`
	Inflight int                 `json:"inflight"`
}

// Snapshot gathers the current swarm state.
func (s *StatusService) Snapshot(ctx context.Context) (*Snapshot, error) {
	w, err := s.store.GetWave(ctx)
	if err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, "")
	if err != nil {
		return nil, err
	}
	workers, err := s.store.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}
	locks, err := s.store.ListLocks(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	snap := &Snapshot{
		Wave:    w,
		Tasks:   make(map[string]int),
		ByLane:  make(map[string][]string),
		TakenAt: now,
	}
	for _, t := range tasks {
		snap.Tasks[string(t.Status)]++
		snap.ByLane[string(t.Lane)] = append(snap.ByLane[string(t.Lane)], t.ID)
		switch t.Status {
		case task.StatusPending:
			snap.Backlog++
		case task.StatusInProgress:
			snap.Inflight++
		}
	}
	for _, wk := range workers {
		snap.Workers = append(snap.Workers, WorkerStatus{
			Worker:    wk,
			Remaining: wk.Remaining(now),
			Stale:     wk.Stale(now),
		})
	}
	for _, l := range locks {
		if !l.Expired(now) {
			snap.Locks = append(snap.Locks, l)
		}
	}
	return snap, nil
}

// Reset clears all coordination state. Destructive; exposed to tooling only.
func (s *StatusService) Reset(ctx context.Context) error {
	return s.store.Reset(ctx)
}
