package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hivetown/swarmd/internal/adapter/otel"
	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/port/database"
)

// CollectorService drains the result inbox. Each well-formed record drives
// one task to its terminal status, unregisters the reporting worker, and
// releases any reservations it left behind; the record is then archived so
// a second pass ignores it. Malformed records are quarantined and counted,
// never fatal to the pass.
type CollectorService struct {
	store   database.Store
	tasks   *TaskService
	workers *WorkerService
	locks   *LockService
	relay   *Relay
	metrics *otel.Metrics
	now     func() time.Time
}

// NewCollectorService creates a CollectorService. metrics may be nil.
func NewCollectorService(store database.Store, tasks *TaskService, workers *WorkerService, locks *LockService, relay *Relay, metrics *otel.Metrics) *CollectorService {
	return &CollectorService{
		store:   store,
		tasks:   tasks,
		workers: workers,
		locks:   locks,
		relay:   relay,
		metrics: metrics,
		now:     time.Now,
	}
}

// Submit validates and stores one completion record for later collection.
// Re-submitting the same task overwrites the pending record, so a worker
// retrying a failed report stays idempotent.
func (c *CollectorService) Submit(ctx context.Context, r *result.Result) error {
	if err := r.Validate(); err != nil {
		return err
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = c.now()
	}
	if err := c.store.PutResult(ctx, r); err != nil {
		return err
	}
	c.relay.Emit(ctx, subjectResultSubmitted, EventResultSubmitted, ResultEvent{
		Lane: string(r.Lane), TaskID: r.TaskID, Status: string(r.Status), Worker: r.Worker,
	})
	return nil
}

// Collect runs one collection pass over the inbox and returns what it
// ingested. A pass over an empty inbox returns all zeros.
func (c *CollectorService) Collect(ctx context.Context) (*result.CollectionSummary, error) {
	started := c.now()
	pending, err := c.store.ListPendingResults(ctx)
	if err != nil {
		return nil, err
	}

	summary := &result.CollectionSummary{}
	for _, p := range pending {
		if p.Err != nil || p.Result == nil {
			c.quarantine(ctx, p, summary)
			continue
		}
		if err := p.Result.Validate(); err != nil {
			p.Err = err
			c.quarantine(ctx, p, summary)
			continue
		}
		c.ingest(ctx, p, summary)
	}

	if c.metrics != nil {
		c.metrics.ResultsCollected.Add(ctx, int64(summary.Total()))
		c.metrics.CollectDuration.Record(ctx, c.now().Sub(started).Seconds())
	}
	return summary, nil
}

// ingest applies one well-formed record: status transition, worker
// unregister, release of any locks still held, then archival. The record is
// archived
// even when the transition is refused (the task already reached a terminal
// state through another path); keeping it pending would make every later
// pass refail the same record.
func (c *CollectorService) ingest(ctx context.Context, p database.PendingResult, summary *result.CollectionSummary) {
	r := p.Result
	_, err := c.tasks.UpdateStatus(ctx, r.Lane, r.TaskID, r.Status, r.Notes)
	switch {
	case err == nil:
		summary.Count(r.Status)
	case errors.Is(err, domain.ErrNotFound):
		slog.Warn("collect: result for unknown task", "record", p.Name, "task", task.Key(r.Lane, r.TaskID))
		c.quarantine(ctx, p, summary)
		return
	case errors.Is(err, domain.ErrConflict):
		slog.Info("collect: task already terminal", "record", p.Name, "task", task.Key(r.Lane, r.TaskID))
	default:
		// Store trouble; leave the record pending for the next pass.
		slog.Error("collect: status transition failed", "record", p.Name, "error", err)
		return
	}

	if r.Worker != "" {
		if err := c.workers.Unregister(ctx, r.Worker); err != nil {
			slog.Warn("collect: unregister failed", "worker", r.Worker, "error", err)
		}
		if _, err := c.locks.ReleaseAll(ctx, r.Worker); err != nil {
			slog.Warn("collect: lock release failed", "worker", r.Worker, "error", err)
		}
	}

	if err := c.store.ArchiveResult(ctx, p.Name); err != nil {
		slog.Error("collect: archive failed", "record", p.Name, "error", err)
	}
}

func (c *CollectorService) quarantine(ctx context.Context, p database.PendingResult, summary *result.CollectionSummary) {
	summary.Malformed++
	slog.Warn("collect: quarantining malformed result", "record", p.Name, "error", p.Err)
	if err := c.store.QuarantineResult(ctx, p.Name); err != nil {
		slog.Error("collect: quarantine failed", "record", p.Name, "error", err)
	}
}
