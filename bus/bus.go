// Package bus distributes runtime events to observers and keeps a history
// of past runs. The engine publishes through runtime.EventPublisher, so it
// never imports this package.
package bus

import "github.com/petal-labs/canvasflow/runtime"

// EventBus distributes events to subscribers.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(event runtime.Event)

	// Subscribe registers a subscriber for a specific run.
	// Returns a Subscription that must be closed when done.
	Subscribe(runID string) Subscription

	// SubscribeAll registers a subscriber that receives events from all runs.
	// Kinds, when given, restrict delivery to those event kinds.
	SubscribeAll(kinds ...runtime.EventKind) Subscription

	// Close shuts down the bus and all subscriptions.
	Close() error
}

// Subscription receives events.
type Subscription interface {
	// Events returns a channel of events for this subscription.
	// The channel is closed when the subscription or the bus is closed.
	Events() <-chan runtime.Event

	// Close unsubscribes and releases resources.
	Close() error
}
