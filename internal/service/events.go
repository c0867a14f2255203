// Package service implements the coordination logic between the transports
// and the store port: task lifecycle, worker registry, file reservations,
// wave control, and result collection.
package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hivetown/swarmd/internal/port/broadcast"
	"github.com/hivetown/swarmd/internal/port/messagequeue"
	"github.com/hivetown/swarmd/internal/resilience"
)

// Relay fans coordination events out to the WebSocket hub and, when the
// relay is enabled, to NATS. Event delivery is best effort: a store
// mutation never fails because a transport is down.
type Relay struct {
	hub     broadcast.Broadcaster
	queue   messagequeue.Queue
	breaker *resilience.Breaker
}

// NewRelay creates a relay. queue may be nil when NATS is disabled; breaker
// may be nil, in which case publishes go out unguarded.
func NewRelay(hub broadcast.Broadcaster, queue messagequeue.Queue, breaker *resilience.Breaker) *Relay {
	if hub == nil {
		hub = broadcast.Nop{}
	}
	return &Relay{hub: hub, queue: queue, breaker: breaker}
}

// Emit broadcasts the event to connected clients and publishes it on the
// given NATS subject.
func (r *Relay) Emit(ctx context.Context, subject, eventType string, payload any) {
	r.hub.BroadcastEvent(ctx, eventType, payload)

	if r.queue == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal relay event", "subject", subject, "error", err)
		return
	}

	publish := func() error { return r.queue.Publish(ctx, subject, data) }
	if r.breaker != nil {
		err = r.breaker.Execute(publish)
	} else {
		err = publish()
	}
	if err != nil {
		slog.Warn("relay publish failed", "subject", subject, "error", err)
	}
}

// Local aliases keep the emit call sites short.
const (
	subjectTaskStatus         = messagequeue.SubjectTaskStatus
	subjectWorkerRegistered   = messagequeue.SubjectWorkerRegistered
	subjectWorkerUnregistered = messagequeue.SubjectWorkerUnregistered
	subjectLockAcquired       = messagequeue.SubjectLockAcquired
	subjectLockConflict       = messagequeue.SubjectLockConflict
	subjectWaveAdvanced       = messagequeue.SubjectWaveAdvanced
	subjectWaveCollected      = messagequeue.SubjectWaveCollected
	subjectResultSubmitted    = messagequeue.SubjectResultSubmitted
)

// Event types carried on the WebSocket feed. They mirror the relay subjects
// minus the stream prefix so a client can treat both transports uniformly.
const (
	EventTaskStatus         = "task.status"
	EventWorkerRegistered   = "worker.registered"
	EventWorkerUnregistered = "worker.unregistered"
	EventLockAcquired       = "lock.acquired"
	EventLockConflict       = "lock.conflict"
	EventWaveAdvanced       = "wave.advanced"
	EventWaveCollected      = "wave.collected"
	EventResultSubmitted    = "result.submitted"
)

// TaskStatusEvent is emitted on every task status transition.
type TaskStatusEvent struct {
	Lane   string `json:"lane"`
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Worker string `json:"worker,omitempty"`
}

// WorkerEvent is emitted when a worker registers or unregisters.
type WorkerEvent struct {
	Name   string `json:"name"`
	Lane   string `json:"lane"`
	TaskID string `json:"task_id,omitempty"`
	Wave   int    `json:"wave,omitempty"`
}

// LockEvent is emitted on group acquisition outcomes.
type LockEvent struct {
	Holder    string   `json:"holder"`
	Paths     []string `json:"paths"`
	Conflicts []string `json:"conflicts,omitempty"`
}

// WaveEvent is emitted when the wave counter advances or a collection pass
// completes.
type WaveEvent struct {
	Number  int    `json:"number"`
	Status  string `json:"status"`
	Summary any    `json:"summary,omitempty"`
}

// ResultEvent is emitted when a worker's completion record lands.
type ResultEvent struct {
	Lane   string `json:"lane"`
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Worker string `json:"worker,omitempty"`
}
