package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chathub_backend/platform/logger"
)

// InMemoryBus is a process-local Bus implementation. Handlers are registered
// per event name; Publish dispatches each handler on its own goroutine while
// PublishSync runs them in registration order and aggregates errors.
type InMemoryBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *logger.Logger
}

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return &InMemoryBus{
		handlers: make(map[string][]Handler),
		log:      log,
	}
}

// Subscribe registers a handler for the given event name.
func (b *InMemoryBus) Subscribe(eventName string, handler Handler) {
	if handler == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish dispatches the event to all handlers asynchronously. Handler
// failures are logged, never propagated to the publisher.
func (b *InMemoryBus) Publish(ctx context.Context, event Event) {
	for _, h := range b.handlersFor(event.EventName()) {
		handler := h
		go func() {
			if err := b.safeHandle(ctx, handler, event); err != nil {
				b.log.Warn("event handler failed",
					"event", event.EventName(),
					"error", err,
				)
			}
		}()
	}
}

// PublishSync dispatches the event to all handlers in order and waits.
func (b *InMemoryBus) PublishSync(ctx context.Context, event Event) error {
	var errs []error
	for _, handler := range b.handlersFor(event.EventName()) {
		if err := b.safeHandle(ctx, handler, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *InMemoryBus) handlersFor(eventName string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	registered := b.handlers[eventName]
	out := make([]Handler, len(registered))
	copy(out, registered)
	return out
}

func (b *InMemoryBus) safeHandle(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panic: %v", r)
		}
	}()
	return handler.Handle(ctx, event)
}
