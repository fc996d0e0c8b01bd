package bus

import (
	"context"
	"log/slog"

	"github.com/petal-labs/canvasflow/runtime"
)

// StoreSubscriber writes events to an EventStore.
// Handle has runtime.EventHandler semantics; Drain consumes a bus
// subscription.
type StoreSubscriber struct {
	store  EventStore
	logger *slog.Logger
}

// NewStoreSubscriber creates a new StoreSubscriber.
func NewStoreSubscriber(store EventStore, logger *slog.Logger) *StoreSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreSubscriber{
		store:  store,
		logger: logger,
	}
}

// Handle persists a single event to the store. Failures are logged, never
// returned, so history problems cannot fail a run.
func (s *StoreSubscriber) Handle(event runtime.Event) {
	if err := s.store.Append(context.Background(), event); err != nil {
		s.logger.Error("failed to persist event",
			"run_id", event.RunID,
			"kind", event.Kind,
			"seq", event.Seq,
			"error", err,
		)
	}
}

// Drain persists every event delivered on sub until its channel closes or
// ctx is done.
func (s *StoreSubscriber) Drain(ctx context.Context, sub Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			s.Handle(e)
		}
	}
}
