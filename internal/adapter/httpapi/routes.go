package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Swarm
		r.Get("/swarm/status", h.GetStatus)
		r.Post("/swarm/reset", h.ResetSwarm)

		// Tasks
		r.Get("/tasks", h.ListTasks)
		r.Post("/tasks", h.CreateTask)
		r.Get("/tasks/{lane}/{id}", h.GetTask)
		r.Put("/tasks/{lane}/{id}/status", h.UpdateTaskStatus)
		r.Delete("/tasks/{lane}/{id}", h.DeleteTask)

		// Workers
		r.Get("/workers", h.ListWorkers)
		r.Post("/workers", h.RegisterWorker)
		r.Delete("/workers/{name}", h.UnregisterWorker)

		// Locks
		r.Get("/locks", h.ListLocks)
		r.Get("/locks/check", h.CheckLock)
		r.Post("/locks/acquire", h.AcquireLocks)
		r.Post("/locks/release", h.ReleaseLocks)

		// Waves
		r.Get("/waves/current", h.GetWave)
		r.Post("/waves/compose", h.ComposeWave)
		r.Post("/waves/activate", h.ActivateWave)
		r.Post("/waves/increment", h.IncrementWave)
		r.Post("/waves/collect", h.CollectWave)
		r.Post("/waves/decompose", h.DecomposeWave)

		// Results
		r.Post("/results", h.SubmitResult)
	})
}
