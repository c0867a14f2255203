// Package memstore implements the coordination store port in memory.
//
// It backs unit tests and the `store.backend: memory` dev mode. All state is
// lost on process exit; every operation is atomic under one mutex, which
// also makes it the reference implementation for the port's concurrency
// contract.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/domain/worker"
	"github.com/hivetown/swarmd/internal/port/database"
)

// Store implements database.Store with in-memory maps.
type Store struct {
	mu      sync.Mutex
	tasks   map[string]task.Task   // key: "LANE/ID"
	workers map[string]worker.Worker
	locks   map[string]lock.Lock // key: path
	wave    *wave.Wave
	inbox   map[string]result.Result // key: record name
	archive map[string]result.Result
	quarant map[string]result.Result

	// Now is the clock used for lock expiry checks. Overridable in tests.
	Now func() time.Time
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tasks:   make(map[string]task.Task),
		workers: make(map[string]worker.Worker),
		locks:   make(map[string]lock.Lock),
		inbox:   make(map[string]result.Result),
		archive: make(map[string]result.Result),
		quarant: make(map[string]result.Result),
		Now:     time.Now,
	}
}

// --- Tasks ---

func (s *Store) CreateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := t.Key()
	if _, ok := s.tasks[key]; ok {
		return fmt.Errorf("create task %s: %w", key, domain.ErrConflict)
	}
	stored := cloneTask(t)
	s.tasks[key] = stored
	*t = cloneTask(&stored)
	return nil
}

func (s *Store) GetTask(_ context.Context, lane task.Lane, id string) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[task.Key(lane, id)]
	if !ok {
		return nil, fmt.Errorf("get task %s: %w", task.Key(lane, id), domain.ErrNotFound)
	}
	out := cloneTask(&t)
	return &out, nil
}

func (s *Store) ListTasks(_ context.Context, lane task.Lane) ([]task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []task.Task
	for _, t := range s.tasks {
		if lane != "" && t.Lane != lane {
			continue
		}
		tasks = append(tasks, cloneTask(&t))
	}
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].Key() < tasks[j].Key()
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

func (s *Store) UpdateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := t.Key()
	cur, ok := s.tasks[key]
	if !ok {
		return fmt.Errorf("update task %s: %w", key, domain.ErrNotFound)
	}
	if cur.Version != t.Version {
		return fmt.Errorf("update task %s: %w", key, domain.ErrConflict)
	}
	stored := cloneTask(t)
	stored.Version++
	stored.UpdatedAt = s.Now()
	s.tasks[key] = stored
	*t = cloneTask(&stored)
	return nil
}

func (s *Store) DeleteTask(_ context.Context, lane task.Lane, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, task.Key(lane, id))
	return nil
}

// --- Workers ---

func (s *Store) CreateWorker(_ context.Context, w *worker.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workers[w.Name]; ok {
		return fmt.Errorf("create worker %s: %w", w.Name, domain.ErrConflict)
	}
	s.workers[w.Name] = *w
	return nil
}

func (s *Store) GetWorker(_ context.Context, name string) (*worker.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.workers[name]
	if !ok {
		return nil, fmt.Errorf("get worker %s: %w", name, domain.ErrNotFound)
	}
	return &w, nil
}

func (s *Store) ListWorkers(_ context.Context) ([]worker.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	workers := make([]worker.Worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	sort.Slice(workers, func(i, j int) bool {
		if workers[i].RegisteredAt.Equal(workers[j].RegisteredAt) {
			return workers[i].Name < workers[j].Name
		}
		return workers[i].RegisteredAt.Before(workers[j].RegisteredAt)
	})
	return workers, nil
}

func (s *Store) DeleteWorker(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.workers, name)
	return nil
}

// --- Locks ---

func (s *Store) AcquireLocks(_ context.Context, locks []lock.Lock) ([]lock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	var conflicts []lock.Lock
	for _, l := range locks {
		cur, ok := s.locks[l.Path]
		if ok && !cur.Expired(now) && cur.Holder != l.Holder {
			conflicts = append(conflicts, cur)
		}
	}
	if len(conflicts) > 0 {
		return conflicts, nil
	}
	for _, l := range locks {
		s.locks[l.Path] = l
	}
	return nil, nil
}

func (s *Store) ReleaseLocks(_ context.Context, paths []string, holder string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []string
	for _, p := range paths {
		cur, ok := s.locks[p]
		if !ok {
			continue
		}
		if cur.Holder == holder {
			delete(s.locks, p)
			released = append(released, p)
		} else if cur.Expired(s.Now()) {
			// Lazy expiry: releasing a path cleans up a lapsed record
			// even when it belonged to someone else.
			delete(s.locks, p)
		}
	}
	return released, nil
}

func (s *Store) ListLocks(_ context.Context) ([]lock.Lock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locks := make([]lock.Lock, 0, len(s.locks))
	for _, l := range s.locks {
		locks = append(locks, l)
	}
	sort.Slice(locks, func(i, j int) bool { return locks[i].Path < locks[j].Path })
	return locks, nil
}

// --- Wave singleton ---

func (s *Store) GetWave(_ context.Context) (*wave.Wave, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wave == nil {
		return &wave.Wave{Number: 0, Status: wave.StatusComposing}, nil
	}
	out := *s.wave
	out.Members = append([]string(nil), s.wave.Members...)
	return &out, nil
}

func (s *Store) PutWave(_ context.Context, w *wave.Wave) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	curVersion := 0
	if s.wave != nil {
		curVersion = s.wave.Version
	}
	if w.Version != curVersion {
		return fmt.Errorf("put wave: %w", domain.ErrConflict)
	}
	stored := *w
	stored.Members = append([]string(nil), w.Members...)
	stored.Version++
	stored.UpdatedAt = s.Now()
	s.wave = &stored
	*w = stored
	return nil
}

// --- Result inbox ---

func resultName(r *result.Result) string {
	return string(r.Lane) + "_" + r.TaskID + "_RESULT"
}

func (s *Store) PutResult(_ context.Context, r *result.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inbox[resultName(r)] = *r
	return nil
}

func (s *Store) ListPendingResults(_ context.Context) ([]database.PendingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.inbox))
	for name := range s.inbox {
		names = append(names, name)
	}
	sort.Strings(names)

	pending := make([]database.PendingResult, 0, len(names))
	for _, name := range names {
		r := s.inbox[name]
		pending = append(pending, database.PendingResult{Name: name, Result: &r})
	}
	return pending, nil
}

func (s *Store) ArchiveResult(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.inbox[name]
	if !ok {
		return fmt.Errorf("archive result %s: %w", name, domain.ErrNotFound)
	}
	s.archive[name] = r
	delete(s.inbox, name)
	return nil
}

func (s *Store) QuarantineResult(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.inbox[name]
	if !ok {
		return fmt.Errorf("quarantine result %s: %w", name, domain.ErrNotFound)
	}
	s.quarant[name] = r
	delete(s.inbox, name)
	return nil
}

// --- Lifecycle ---

func (s *Store) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tasks = make(map[string]task.Task)
	s.workers = make(map[string]worker.Worker)
	s.locks = make(map[string]lock.Lock)
	s.wave = nil
	s.inbox = make(map[string]result.Result)
	s.archive = make(map[string]result.Result)
	s.quarant = make(map[string]result.Result)
	return nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

// cloneTask deep-copies slices so callers cannot mutate stored state.
func cloneTask(t *task.Task) task.Task {
	out := *t
	out.TouchedFiles = append([]string(nil), t.TouchedFiles...)
	out.Deliverables = append([]task.Deliverable(nil), t.Deliverables...)
	return out
}
