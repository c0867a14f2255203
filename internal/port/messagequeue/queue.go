// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// Close shuts down the queue connection immediately.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects for swarm coordination events. Every mutating operation on the
// store publishes its outcome so external listeners (supervisors, dashboards)
// see the same event stream the WebSocket hub broadcasts.
const (
	SubjectTaskStatus         = "swarm.tasks.status"
	SubjectWorkerRegistered   = "swarm.workers.registered"
	SubjectWorkerUnregistered = "swarm.workers.unregistered"
	SubjectLockAcquired       = "swarm.locks.acquired"
	SubjectLockConflict       = "swarm.locks.conflict"
	SubjectWaveAdvanced       = "swarm.waves.advanced"
	SubjectWaveCollected      = "swarm.waves.collected"
	SubjectResultSubmitted    = "swarm.results.submitted"

	// SubjectResultSubmit is the inbound subject workers use to report a
	// completed task when they cannot reach the HTTP API directly.
	SubjectResultSubmit = "swarm.results.submit"
)
