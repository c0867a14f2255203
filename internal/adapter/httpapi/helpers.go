// Package httpapi exposes the coordination store over HTTP + JSON.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hivetown/swarmd/internal/domain"
	"github.com/hivetown/swarmd/internal/domain/lock"
	"github.com/hivetown/swarmd/internal/domain/task"
	"github.com/hivetown/swarmd/internal/domain/wave"
	"github.com/hivetown/swarmd/internal/domain/worker"
)

const bodyLimit = 1 << 20

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, bodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "bad_body", "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// errorResponse names the violated invariant so calling tooling can render
// an actionable message instead of parsing prose.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Paths carries the conflicting paths on a lock conflict, the
	// unassigned members on an incomplete wave.
	Paths []string `json:"paths,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeDomainError maps a service error onto status and machine-readable
// code. Typed errors keep their identity; everything else falls back to the
// sentinel classes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		dup        *task.DuplicateError
		invalid    *task.InvalidTransitionError
		assigned   *worker.AlreadyAssignedError
		dupName    *worker.DuplicateNameError
		lockConf   *lock.ConflictError
		incomplete *wave.IncompleteError
		inProgress *wave.InProgressError
	)
	switch {
	case errors.As(err, &dup):
		writeError(w, http.StatusConflict, "duplicate_task", dup.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, "invalid_transition", invalid.Error())
	case errors.As(err, &assigned):
		writeError(w, http.StatusConflict, "already_assigned", assigned.Error())
	case errors.As(err, &dupName):
		writeError(w, http.StatusConflict, "duplicate_name", dupName.Error())
	case errors.As(err, &lockConf):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: lockConf.Error(), Code: "lock_conflict", Paths: lockConf.ConflictingPaths,
		})
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: incomplete.Error(), Code: "incomplete_wave", Paths: incomplete.Unassigned,
		})
	case errors.As(err, &inProgress):
		writeError(w, http.StatusConflict, "wave_in_progress", inProgress.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "record not found")
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "record was modified by another request")
	case errors.Is(err, domain.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
		writeError(w, http.StatusBadRequest, "validation", msg)
	case errors.Is(err, domain.ErrDurability):
		slog.Error("store write failed", "error", err)
		writeError(w, http.StatusInternalServerError, "durability", "store write failed")
	default:
		slog.Error("unhandled error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
