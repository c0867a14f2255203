package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hivetown/swarmd/internal/adapter/otel"
	"github.com/hivetown/swarmd/internal/config"
	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/port/database"
)

// WaveService owns the generation counter and wave membership. The counter
// is the one global sequence in the system: monotonic, never reused, and
// persisted before the new number is handed to the caller.
type WaveService struct {
	store     database.Store
	tasks     *TaskService
	workers   *WorkerService
	collector *CollectorService
	relay     *Relay
	cfg       config.Swarm
	metrics   *otel.Metrics
	now       func() time.Time
}

// NewWaveService creates a WaveService. metrics may be nil.
func NewWaveService(store database.Store, tasks *TaskService, workers *WorkerService, collector *CollectorService, relay *Relay, cfg config.Swarm, metrics *otel.Metrics) *WaveService {
	return &WaveService{
		store:     store,
		tasks:     tasks,
		workers:   workers,
		collector: collector,
		relay:     relay,
		cfg:       cfg,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Status returns the current wave record.
func (s *WaveService) Status(ctx context.Context) (*wave.Wave, error) {
	return s.store.GetWave(ctx)
}

// Compose validates a candidate set against the balance rules and, when the
// set passes, records it as the current wave's membership. The violation
// list comes back explicit so a caller can fix the set and retry instead of
// guessing.
func (s *WaveService) Compose(ctx context.Context, candidates []task.CreateRequest) (*wave.ValidationResult, error) {
	res := s.validateComposition(ctx, candidates)
	if !res.OK() {
		return res, nil
	}

	w, err := s.store.GetWave(ctx)
	if err != nil {
		return nil, err
	}
	if w.Status == wave.StatusActive || w.Status == wave.StatusCollecting {
		return nil, &wave.InProgressError{Number: w.Number, Status: w.Status}
	}

	members := make([]string, 0, len(candidates))
	for _, c := range candidates {
		members = append(members, task.Key(c.Lane, c.ID))
	}
	w.Members = members
	w.Status = wave.StatusComposing
	if err := s.store.PutWave(ctx, w); err != nil {
		return nil, err
	}
	return res, nil
}

func (s *WaveService) validateComposition(ctx context.Context, candidates []task.CreateRequest) *wave.ValidationResult {
	res := &wave.ValidationResult{}
	if len(candidates) == 0 {
		res.Violations = append(res.Violations, "candidate set is empty")
		return res
	}

	lanes := make(map[task.Lane]struct{})
	validation := 0
	for _, c := range candidates {
		lanes[c.Lane] = struct{}{}
		if c.Type.IsValidation() {
			validation++
		}
	}
	if len(lanes) > s.cfg.MaxLanesPerWave {
		names := make([]string, 0, len(lanes))
		for l := range lanes {
			names = append(names, string(l))
		}
		res.Violations = append(res.Violations, fmt.Sprintf(
			"at most %d distinct lanes allowed, got %d (%s)",
			s.cfg.MaxLanesPerWave, len(lanes), strings.Join(names, ", ")))
	}
	if validation > 0 && validation < s.cfg.MinValidationTasks {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"validation tasks must come in at least %d, got %d",
			s.cfg.MinValidationTasks, validation))
	}

	for _, c := range candidates {
		t, err := s.store.GetTask(ctx, c.Lane, c.ID)
		if err != nil {
			continue // not created yet, nothing to check
		}
		if holder := s.workers.activeHolder(ctx, t, s.now()); holder != "" {
			res.Violations = append(res.Violations, fmt.Sprintf(
				"task %s already has active worker %q", t.Key(), holder))
		}
	}
	return res
}

// Activate transitions the wave to ACTIVE once every member task has a
// registered, non-expired worker. Otherwise it fails with an
// IncompleteError naming the unassigned members.
func (s *WaveService) Activate(ctx context.Context) (*wave.Wave, error) {
	w, err := s.store.GetWave(ctx)
	if err != nil {
		return nil, err
	}
	if len(w.Members) == 0 {
		return nil, fmt.Errorf("%w: wave %d has no members to activate", domain.ErrValidation, w.Number)
	}

	now := s.now()
	var unassigned []string
	for _, key := range w.Members {
		lane, id, ok := splitKey(key)
		if !ok {
			unassigned = append(unassigned, key)
			continue
		}
		t, err := s.store.GetTask(ctx, lane, id)
		if err != nil {
			unassigned = append(unassigned, key)
			continue
		}
		if s.workers.activeHolder(ctx, t, now) == "" {
			unassigned = append(unassigned, key)
		}
	}
	if len(unassigned) > 0 {
		return nil, &wave.IncompleteError{Number: w.Number, Unassigned: unassigned}
	}

	w.Status = wave.StatusActive
	if err := s.store.PutWave(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Increment advances the counter and opens a fresh COMPOSING wave. Allowed
// only when the current wave is COMPLETE or has no members; the bumped
// record is durable before the new number is returned.
func (s *WaveService) Increment(ctx context.Context) (*wave.Wave, error) {
	w, err := s.store.GetWave(ctx)
	if err != nil {
		return nil, err
	}
	if len(w.Members) > 0 && w.Status != wave.StatusComplete {
		return nil, &wave.InProgressError{Number: w.Number, Status: w.Status}
	}

	w.Number++
	w.Members = nil
	w.Status = wave.StatusComposing
	if err := s.store.PutWave(ctx, w); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.WavesAdvanced.Add(ctx, 1)
	}
	s.relay.Emit(ctx, subjectWaveAdvanced, EventWaveAdvanced, WaveEvent{
		Number: w.Number, Status: string(w.Status),
	})
	return w, nil
}

// Collect runs a collection pass, then recomputes the wave status from its
// members' terminal states.
func (s *WaveService) Collect(ctx context.Context) (*result.CollectionSummary, error) {
	summary, err := s.collector.Collect(ctx)
	if err != nil {
		return nil, err
	}

	w, err := s.store.GetWave(ctx)
	if err != nil {
		return nil, err
	}
	if len(w.Members) > 0 {
		next := s.recomputeStatus(ctx, w)
		if next != w.Status {
			w.Status = next
			if err := s.store.PutWave(ctx, w); err != nil {
				return nil, err
			}
		}
	}

	s.relay.Emit(ctx, subjectWaveCollected, EventWaveCollected, WaveEvent{
		Number: w.Number, Status: string(w.Status), Summary: summary,
	})
	return summary, nil
}

func (s *WaveService) recomputeStatus(ctx context.Context, w *wave.Wave) wave.Status {
	terminal := 0
	for _, key := range w.Members {
		lane, id, ok := splitKey(key)
		if !ok {
			continue
		}
		t, err := s.store.GetTask(ctx, lane, id)
		if err != nil {
			continue
		}
		if t.Status.Terminal() {
			terminal++
		}
	}
	switch {
	case terminal == len(w.Members):
		return wave.StatusComplete
	case terminal > 0:
		return wave.StatusCollecting
	default:
		return w.Status
	}
}

func splitKey(key string) (task.Lane, string, bool) {
	lane, id, ok := strings.Cut(key, "/")
	if !ok || lane == "" || id == "" {
		return "", "", false
	}
	return task.Lane(lane), id, true
}
