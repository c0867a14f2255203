package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/result"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/worker"
	"github.com/hivetown/swarmd/internal/port/cache"
	"github.com/hivetown/swarmd/internal/service"
)

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	Status    *service.StatusService
	Tasks     *service.TaskService
	Workers   *service.WorkerService
	Locks     *service.LockService
	Waves     *service.WaveService
	Collector *service.CollectorService

	// Cache fronts the read-mostly status and task-list queries for the
	// board poller. May be nil.
	Cache    cache.Cache
	CacheTTL time.Duration
}

func (h *Handlers) cached(ctx context.Context, key string) ([]byte, bool) {
	if h.Cache == nil {
		return nil, false
	}
	data, ok, err := h.Cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	return data, true
}

func (h *Handlers) fill(ctx context.Context, key string, v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if h.Cache != nil {
		_ = h.Cache.Set(ctx, key, data, h.CacheTTL)
	}
	return data
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// GetStatus serves the swarm-wide snapshot, cached for the poll interval.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	const key = "swarm:status"
	if data, ok := h.cached(r.Context(), key); ok {
		writeRaw(w, http.StatusOK, data)
		return
	}
	snap, err := h.Status.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if data := h.fill(r.Context(), key, snap); data != nil {
		writeRaw(w, http.StatusOK, data)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ResetSwarm clears all coordination state.
func (h *Handlers) ResetSwarm(w http.ResponseWriter, r *http.Request) {
	if err := h.Status.Reset(r.Context()); err != nil {
		writeDomainError(w, err)
		return
	}
	if h.Cache != nil {
		_ = h.Cache.Delete(r.Context(), "swarm:status")
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ListTasks serves task summaries, optionally filtered by lane.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	lane := task.Lane(r.URL.Query().Get("lane"))
	key := "tasks:" + string(lane)
	if data, ok := h.cached(r.Context(), key); ok {
		writeRaw(w, http.StatusOK, data)
		return
	}
	tasks, err := h.Tasks.List(r.Context(), lane)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if tasks == nil {
		tasks = []task.Task{}
	}
	if data := h.fill(r.Context(), key, tasks); data != nil {
		writeRaw(w, http.StatusOK, data)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// CreateTask stores a new PENDING task card.
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[task.CreateRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Tasks.Create(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

// GetTask serves one full task record.
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	t, err := h.Tasks.Get(r.Context(), task.Lane(urlParam(r, "lane")), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

type updateStatusRequest struct {
	Status task.Status `json:"status"`
	Notes  string      `json:"notes,omitempty"`
}

// UpdateTaskStatus applies one state machine transition.
func (h *Handlers) UpdateTaskStatus(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[updateStatusRequest](w, r)
	if !ok {
		return
	}
	t, err := h.Tasks.UpdateStatus(r.Context(),
		task.Lane(urlParam(r, "lane")), urlParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// DeleteTask removes a task card. Idempotent.
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Tasks.Delete(r.Context(), task.Lane(urlParam(r, "lane")), urlParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegisterWorker binds a worker to a task for one timebox.
func (h *Handlers) RegisterWorker(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[worker.RegisterRequest](w, r)
	if !ok {
		return
	}
	ws, err := h.Workers.Register(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

// UnregisterWorker removes a worker record. Idempotent.
func (h *Handlers) UnregisterWorker(w http.ResponseWriter, r *http.Request) {
	if err := h.Workers.Unregister(r.Context(), urlParam(r, "name")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListWorkers serves every registered worker with computed remaining time.
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Workers.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if workers == nil {
		workers = []service.WorkerStatus{}
	}
	writeJSON(w, http.StatusOK, workers)
}

// AcquireLocks performs an all-or-nothing group acquisition.
func (h *Handlers) AcquireLocks(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[lock.AcquireRequest](w, r)
	if !ok {
		return
	}
	grant, err := h.Locks.Acquire(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, grant)
}

// ReleaseLocks frees the holder's reservations on the given paths.
func (h *Handlers) ReleaseLocks(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[lock.ReleaseRequest](w, r)
	if !ok {
		return
	}
	released, err := h.Locks.Release(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if released == nil {
		released = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"released": released})
}

// CheckLock reports whether a path is currently reserved.
func (h *Handlers) CheckLock(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "validation", "path is required")
		return
	}
	l, held, err := h.Locks.Check(r.Context(), path)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	resp := map[string]any{"held": held}
	if held {
		resp["lock"] = l
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListLocks serves every active reservation.
func (h *Handlers) ListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := h.Locks.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if locks == nil {
		locks = []lock.Lock{}
	}
	writeJSON(w, http.StatusOK, locks)
}

// GetWave serves the current wave record.
func (h *Handlers) GetWave(w http.ResponseWriter, r *http.Request) {
	wv, err := h.Waves.Status(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wv)
}

type composeRequest struct {
	Candidates []task.CreateRequest `json:"candidates"`
}

// ComposeWave validates a candidate set against the balance rules. A set
// that fails comes back 422 with the explicit violation list.
func (h *Handlers) ComposeWave(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[composeRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Waves.Compose(r.Context(), req.Candidates)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !res.OK() {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ActivateWave transitions the wave to ACTIVE once fully assigned.
func (h *Handlers) ActivateWave(w http.ResponseWriter, r *http.Request) {
	wv, err := h.Waves.Activate(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wv)
}

// IncrementWave advances the generation counter.
func (h *Handlers) IncrementWave(w http.ResponseWriter, r *http.Request) {
	wv, err := h.Waves.Increment(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wv)
}

// CollectWave runs a collection pass and recomputes the wave status.
func (h *Handlers) CollectWave(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Waves.Collect(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// DecomposeWave expands a goal into the balanced task template.
func (h *Handlers) DecomposeWave(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.DecomposeRequest](w, r)
	if !ok {
		return
	}
	cards, err := h.Waves.Decompose(r.Context(), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": cards})
}

// SubmitResult stores one completion record for later collection.
func (h *Handlers) SubmitResult(w http.ResponseWriter, r *http.Request) {
	rec, ok := readJSON[result.Result](w, r)
	if !ok {
		return
	}
	if err := h.Collector.Submit(r.Context(), &rec); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}
