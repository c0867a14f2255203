// Package broadcast defines the port for pushing events to connected clients.
package broadcast

import "context"

// Broadcaster fans an event out to every connected client. Implementations
// must never block the caller on a slow consumer.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, eventType string, payload any)
}

// Nop is a Broadcaster that discards every event. Used when no client
// transport is configured and in tests.
type Nop struct{}

// BroadcastEvent discards the event.
func (Nop) BroadcastEvent(context.Context, string, any) {}
