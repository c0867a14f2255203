// Package database defines the coordination store port (interface).
//
// Every mutating operation is an atomic unit with respect to the underlying
// store: a reader never observes a half-written record, and version-checked
// updates fail with domain.ErrConflict instead of blindly overwriting.
package database

import (
	"context"

	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/domain/worker"
)

// PendingResult is one uncollected inbox entry. Entries that cannot be
// decoded carry Err instead of Result so a collection pass can quarantine
// them without aborting.
type PendingResult struct {
	// Name identifies the record within the inbox (file name or row key).
	Name   string
	Result *result.Result
	Err    error
}

// Store is the port interface for the shared coordination store.
type Store interface {
	// Tasks, keyed by (lane, id). CreateTask is first-writer-wins: a
	// duplicate key fails with domain.ErrConflict. UpdateTask checks the
	// record's Version and bumps it on success. DeleteTask is idempotent.
	CreateTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, lane task.Lane, id string) (*task.Task, error)
	ListTasks(ctx context.Context, lane task.Lane) ([]task.Task, error)
	UpdateTask(ctx context.Context, t *task.Task) error
	DeleteTask(ctx context.Context, lane task.Lane, id string) error

	// Workers, keyed by name. CreateWorker fails with domain.ErrConflict
	// when the name is already registered. DeleteWorker is idempotent.
	CreateWorker(ctx context.Context, w *worker.Worker) error
	GetWorker(ctx context.Context, name string) (*worker.Worker, error)
	ListWorkers(ctx context.Context) ([]worker.Worker, error)
	DeleteWorker(ctx context.Context, name string) error

	// Locks, keyed by path. AcquireLocks is all-or-nothing: when any path
	// is held by a different, non-expired holder it acquires nothing and
	// returns the conflicting locks. Same-holder re-acquisition replaces
	// the record (TTL refresh). ReleaseLocks removes only records whose
	// holder matches and returns the paths actually released.
	AcquireLocks(ctx context.Context, locks []lock.Lock) (conflicts []lock.Lock, err error)
	ReleaseLocks(ctx context.Context, paths []string, holder string) (released []string, err error)
	ListLocks(ctx context.Context) ([]lock.Lock, error)

	// Wave singleton. GetWave returns a zero-value COMPOSING wave when no
	// record exists yet. PutWave is version-checked.
	GetWave(ctx context.Context) (*wave.Wave, error)
	PutWave(ctx context.Context, w *wave.Wave) error

	// Result inbox. PutResult writes one pending record; a record for the
	// same task overwrites (a worker reports once, retries are idempotent).
	// ArchiveResult moves a collected record to the archive so a second
	// collection pass skips it; QuarantineResult moves a malformed record
	// aside. Both preserve the raw record for audit.
	PutResult(ctx context.Context, r *result.Result) error
	ListPendingResults(ctx context.Context) ([]PendingResult, error)
	ArchiveResult(ctx context.Context, name string) error
	QuarantineResult(ctx context.Context, name string) error

	// Reset clears all coordination state. Used by tooling and tests only.
	Reset(ctx context.Context) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
