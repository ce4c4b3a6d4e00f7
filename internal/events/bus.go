package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc handles one event.
type HandlerFunc func(ctx context.Context, event Event) error

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// EventBus is an asynchronous publish-subscribe hub. Emit never blocks the
// caller: each handler runs on its own goroutine with panic recovery.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
	seq      atomic.Uint64
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
	}
}

// Subscribe registers a named handler for one event type.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{name: name, handler: handler})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeAll registers the same handler for every type in AllTypes.
func (eb *EventBus) SubscribeAll(name string, handler HandlerFunc) {
	for _, t := range AllTypes {
		eb.Subscribe(t, name, handler)
	}
}

// Emit publishes event to all handlers of its type. A zero Time is stamped
// with the current time. Handlers run concurrently, so consumers that need
// emission order must sort by Seq.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	event.Seq = eb.seq.Add(1)

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}

	for _, h := range eb.handlers[event.Type] {
		eb.wg.Add(1)
		go eb.run(ctx, h, event)
	}
}

func (eb *EventBus) run(ctx context.Context, h handlerEntry, event Event) {
	defer eb.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err := h.handler(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
}

// Stop rejects further events and waits for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	eb.stopped = true
	eb.mu.Unlock()

	eb.wg.Wait()
	log.Info().Msg("event bus stopped")
}

// Drain waits for in-flight handlers without stopping the bus.
func (eb *EventBus) Drain() {
	eb.wg.Wait()
}

// HandlerCount returns the number of handlers for an event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
