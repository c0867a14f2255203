package service

import (
	"testing"
	"time"

	"github.com/hivetown/swarmd/internal/adapter/memstore"
	"github.com/hivetown/swarmd/internal/config"
	"github.com/hivetown/swarmd/internal/port/broadcast"
)

// fakeClock lets a test move time forward for TTL and expiry checks.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// env wires every service over one in-memory store and one shared clock.
type env struct {
	store     *memstore.Store
	clock     *fakeClock
	tasks     *TaskService
	workers   *WorkerService
	locks     *LockService
	collector *CollectorService
	waves     *WaveService
	status    *StatusService
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := memstore.New()
	store.Now = clock.Now

	cfg := config.Swarm{
		WorkerTTL:          4 * time.Minute,
		LockTTL:            5 * time.Minute,
		MaxTouchedFiles:    2,
		MaxLanesPerWave:    2,
		MinValidationTasks: 2,
	}
	relay := NewRelay(broadcast.Nop{}, nil, nil)

	e := &env{
		store:   store,
		clock:   clock,
		tasks:   NewTaskService(store, relay, cfg, nil),
		workers: NewWorkerService(store, relay, cfg, nil),
		locks:   NewLockService(store, relay, cfg, nil),
		status:  NewStatusService(store),
	}
	e.collector = NewCollectorService(store, e.tasks, e.workers, e.locks, relay, nil)
	e.waves = NewWaveService(store, e.tasks, e.workers, e.collector, relay, cfg, nil)

	e.tasks.now = clock.Now
	e.workers.now = clock.Now
	e.locks.now = clock.Now
	e.collector.now = clock.Now
	e.waves.now = clock.Now
	e.status.now = clock.Now
	return e
}
