package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hivetown/swarmd/internal/adapter/postgres"
	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/domain/worker"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store with empty tables. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	// Run goose migrations first (uses embedded SQL files).
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	store := postgres.New(pool)
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return store
}

func newTask(lane task.Lane, id string) *task.Task {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &task.Task{
		ID: id, Lane: lane, Type: task.TypeAddStub, Status: task.StatusPending,
		Objective: "integration test card", Version: 1,
		CreatedAt: now, UpdatedAt: now,
	}
}

func TestStore_TaskCRUD(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	created := newTask(task.LaneKernel, "K001")
	if err := store.CreateTask(ctx, created); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	t.Run("DuplicateCreate", func(t *testing.T) {
		err := store.CreateTask(ctx, newTask(task.LaneKernel, "K001"))
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("Get", func(t *testing.T) {
		got, err := store.GetTask(ctx, task.LaneKernel, "K001")
		if err != nil {
			t.Fatalf("GetTask: %v", err)
		}
		if got.Objective != "integration test card" || got.Version != 1 {
			t.Fatalf("unexpected card: %+v", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := store.GetTask(ctx, task.LaneKernel, "K404")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateBumpsVersion", func(t *testing.T) {
		got, err := store.GetTask(ctx, task.LaneKernel, "K001")
		if err != nil {
			t.Fatal(err)
		}
		got.Status = task.StatusInProgress
		if err := store.UpdateTask(ctx, got); err != nil {
			t.Fatalf("UpdateTask: %v", err)
		}
		if got.Version != 2 {
			t.Fatalf("expected version 2, got %d", got.Version)
		}
	})

	t.Run("UpdateStaleVersion", func(t *testing.T) {
		stale := newTask(task.LaneKernel, "K001")
		stale.Version = 1 // current row is at 2
		err := store.UpdateTask(ctx, stale)
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		gone := newTask(task.LaneML, "M404")
		err := store.UpdateTask(ctx, gone)
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListByLane", func(t *testing.T) {
		if err := store.CreateTask(ctx, newTask(task.LaneML, "M001")); err != nil {
			t.Fatal(err)
		}
		kernel, err := store.ListTasks(ctx, task.LaneKernel)
		if err != nil {
			t.Fatal(err)
		}
		if len(kernel) != 1 || kernel[0].ID != "K001" {
			t.Fatalf("lane filter: %+v", kernel)
		}
		all, err := store.ListTasks(ctx, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 cards, got %d", len(all))
		}
	})

	t.Run("DeleteIdempotent", func(t *testing.T) {
		if err := store.DeleteTask(ctx, task.LaneKernel, "K001"); err != nil {
			t.Fatalf("DeleteTask: %v", err)
		}
		if err := store.DeleteTask(ctx, task.LaneKernel, "K001"); err != nil {
			t.Fatalf("second delete: %v", err)
		}
	})
}

func TestStore_WorkerUniqueName(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	w := &worker.Worker{
		Name: "w1", Lane: "KERNEL", TaskID: "K001",
		TTLSeconds: 240, RegisteredAt: time.Now().UTC(),
	}
	if err := store.CreateWorker(ctx, w); err != nil {
		t.Fatalf("CreateWorker: %v", err)
	}

	err := store.CreateWorker(ctx, w)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate name, got %v", err)
	}

	workers, err := store.ListWorkers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(workers) != 1 {
		t.Fatalf("expected 1 worker, got %d", len(workers))
	}

	if err := store.DeleteWorker(ctx, "w1"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.GetWorker(ctx, "w1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStore_LocksAllOrNothing(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	conflicts, err := store.AcquireLocks(ctx, []lock.Lock{
		{Path: "a.go", Holder: "w1", Token: "t1", TTLSeconds: 300, AcquiredAt: now},
	})
	if err != nil {
		t.Fatalf("AcquireLocks: %v", err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("unexpected conflicts: %+v", conflicts)
	}

	// The group touching a held path is refused whole.
	conflicts, err = store.AcquireLocks(ctx, []lock.Lock{
		{Path: "a.go", Holder: "w2", Token: "t2", TTLSeconds: 300, AcquiredAt: now},
		{Path: "b.go", Holder: "w2", Token: "t2", TTLSeconds: 300, AcquiredAt: now},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 || conflicts[0].Path != "a.go" || conflicts[0].Holder != "w1" {
		t.Fatalf("conflicts: %+v", conflicts)
	}
	locks, err := store.ListLocks(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(locks) != 1 {
		t.Fatalf("refused group left records behind: %+v", locks)
	}
}

func TestStore_LockExpiryAndRelease(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.AcquireLocks(ctx, []lock.Lock{
		{Path: "a.go", Holder: "w1", Token: "t1", TTLSeconds: 1, AcquiredAt: now.Add(-time.Minute)},
	}); err != nil {
		t.Fatal(err)
	}

	// The record is lapsed; another holder acquires straight through.
	conflicts, err := store.AcquireLocks(ctx, []lock.Lock{
		{Path: "a.go", Holder: "w2", Token: "t2", TTLSeconds: 300, AcquiredAt: now},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Fatalf("expired record blocked acquisition: %+v", conflicts)
	}

	// Release is holder scoped.
	released, err := store.ReleaseLocks(ctx, []string{"a.go"}, "w1")
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 0 {
		t.Fatalf("w1 released w2's reservation: %v", released)
	}
	released, err = store.ReleaseLocks(ctx, []string{"a.go"}, "w2")
	if err != nil {
		t.Fatal(err)
	}
	if len(released) != 1 || released[0] != "a.go" {
		t.Fatalf("released = %v", released)
	}
}

func TestStore_WaveSingleton(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	// Missing row reads as the zero wave.
	w, err := store.GetWave(ctx)
	if err != nil {
		t.Fatalf("GetWave: %v", err)
	}
	if w.Number != 0 || w.Status != wave.StatusComposing {
		t.Fatalf("zero wave: %+v", w)
	}

	w.Number = 1
	w.Status = wave.StatusActive
	w.Members = []string{"KERNEL/K001"}
	if err := store.PutWave(ctx, w); err != nil {
		t.Fatalf("PutWave: %v", err)
	}
	if w.Version != 1 {
		t.Fatalf("expected version 1 after insert, got %d", w.Version)
	}

	// A stale version is refused.
	stale := &wave.Wave{Number: 2, Status: wave.StatusComposing, Version: 0}
	if err := store.PutWave(ctx, stale); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale version, got %v", err)
	}

	got, err := store.GetWave(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got.Number != 1 || len(got.Members) != 1 {
		t.Fatalf("persisted wave: %+v", got)
	}
}

func TestStore_ResultFlow(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	r := &result.Result{
		TaskID: "K001", Lane: task.LaneKernel, Status: task.StatusDone,
		Worker: "w1", Summary: "done", SubmittedAt: time.Now().UTC(),
	}
	if err := store.PutResult(ctx, r); err != nil {
		t.Fatalf("PutResult: %v", err)
	}

	pending, err := store.ListPendingResults(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].Name != "KERNEL_K001_RESULT" {
		t.Fatalf("pending: %+v", pending)
	}
	if pending[0].Err != nil || pending[0].Result == nil {
		t.Fatalf("decode: %+v", pending[0])
	}

	if err := store.ArchiveResult(ctx, pending[0].Name); err != nil {
		t.Fatalf("ArchiveResult: %v", err)
	}
	// Already moved: a second archive reports the miss.
	if err := store.ArchiveResult(ctx, pending[0].Name); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	pending, err = store.ListPendingResults(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("archived record still pending: %+v", pending)
	}
}

func TestStore_Ping(t *testing.T) {
	store := setupStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}
