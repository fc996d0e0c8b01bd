package bus

import (
	"sync"

	"github.com/petal-labs/canvasflow/runtime"
)

// MemBusConfig configures an in-memory event bus.
type MemBusConfig struct {
	// SubscriberBufferSize is the channel buffer size per subscriber (default: 256).
	SubscriberBufferSize int
}

// MemBus is an in-memory event bus. Slow subscribers lose events rather
// than stall the run that publishes them.
type MemBus struct {
	mu         sync.RWMutex
	subs       map[string][]*memSub // runID -> subscribers
	globalSubs []*memSub
	bufSize    int
	closed     bool
}

// NewMemBus creates a new in-memory event bus with the given configuration.
func NewMemBus(config MemBusConfig) *MemBus {
	bufSize := config.SubscriberBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	return &MemBus{
		subs:    make(map[string][]*memSub),
		bufSize: bufSize,
	}
}

// Publish sends an event to run subscribers and to every global subscriber
// whose kind filter accepts it. After Close the event is dropped.
func (b *MemBus) Publish(event runtime.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, sub := range b.subs[event.RunID] {
		sub.send(event)
	}
	for _, sub := range b.globalSubs {
		sub.send(event)
	}
}

// Subscribe registers a subscriber for a specific run.
func (b *MemBus) Subscribe(runID string) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b, b.bufSize, nil)
	sub.runID = runID
	if b.closed {
		sub.close()
		return sub
	}
	b.subs[runID] = append(b.subs[runID], sub)
	return sub
}

// SubscribeAll registers a subscriber that receives events from all runs.
func (b *MemBus) SubscribeAll(kinds ...runtime.EventKind) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newMemSub(b, b.bufSize, kinds)
	sub.global = true
	if b.closed {
		sub.close()
		return sub
	}
	b.globalSubs = append(b.globalSubs, sub)
	return sub
}

// Close shuts down the bus and all active subscriptions.
func (b *MemBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.close()
		}
	}
	for _, sub := range b.globalSubs {
		sub.close()
	}
	b.subs = make(map[string][]*memSub)
	b.globalSubs = nil
	return nil
}

func (b *MemBus) remove(sub *memSub) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub.global {
		b.globalSubs = without(b.globalSubs, sub)
		return
	}
	rest := without(b.subs[sub.runID], sub)
	if len(rest) == 0 {
		delete(b.subs, sub.runID)
		return
	}
	b.subs[sub.runID] = rest
}

func without(list []*memSub, sub *memSub) []*memSub {
	for i, s := range list {
		if s == sub {
			return append(list[:i:i], list[i+1:]...)
		}
	}
	return list
}

// memSub is an in-memory subscription.
type memSub struct {
	bus    *MemBus
	runID  string
	global bool
	kinds  map[runtime.EventKind]struct{}

	ch     chan runtime.Event
	mu     sync.Mutex
	closed bool
}

func newMemSub(b *MemBus, bufSize int, kinds []runtime.EventKind) *memSub {
	s := &memSub{
		bus: b,
		ch:  make(chan runtime.Event, bufSize),
	}
	if len(kinds) > 0 {
		s.kinds = make(map[runtime.EventKind]struct{}, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = struct{}{}
		}
	}
	return s
}

// Events returns a channel of events for this subscription.
func (s *memSub) Events() <-chan runtime.Event {
	return s.ch
}

// Close unsubscribes and releases resources.
func (s *memSub) Close() error {
	s.bus.remove(s)
	s.close()
	return nil
}

func (s *memSub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

func (s *memSub) send(event runtime.Event) {
	if s.kinds != nil {
		if _, ok := s.kinds[event.Kind]; !ok {
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		// Drop if channel full.
	}
}

// Compile-time interface checks.
var _ EventBus = (*MemBus)(nil)
var _ Subscription = (*memSub)(nil)
var _ runtime.EventPublisher = (*MemBus)(nil)
