package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"chathub_backend/platform/logger"
)

type testEvent struct {
	BaseEvent
	name string
}

func (e testEvent) EventName() string { return e.name }

func TestPublishSyncRunsHandlersInRegistrationOrder(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	var order []int
	for i := 1; i <= 3; i++ {
		n := i
		bus.Subscribe("batch.orphans_detected", HandlerFunc(func(context.Context, Event) error {
			order = append(order, n)
			return nil
		}))
	}

	err := bus.PublishSync(context.Background(), testEvent{NewBaseEvent(), "batch.orphans_detected"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected handlers in order [1 2 3], got %v", order)
	}
}

func TestPublishSyncAggregatesHandlerErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	wantErr := errors.New("handler failed")
	bus.Subscribe("ticket.reopened", HandlerFunc(func(context.Context, Event) error {
		return wantErr
	}))
	called := false
	bus.Subscribe("ticket.reopened", HandlerFunc(func(context.Context, Event) error {
		called = true
		return nil
	}))

	err := bus.PublishSync(context.Background(), testEvent{NewBaseEvent(), "ticket.reopened"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected wrapped handler error, got %v", err)
	}
	if !called {
		t.Fatalf("expected later handlers to run despite earlier failure")
	}
}

func TestPublishSyncRecoversHandlerPanic(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	bus.Subscribe("ticket.transferred", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))

	err := bus.PublishSync(context.Background(), testEvent{NewBaseEvent(), "ticket.transferred"})
	if err == nil {
		t.Fatalf("expected panic converted to error")
	}
}

func TestPublishDoesNotBlockPublisher(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	done := make(chan struct{})
	bus.Subscribe("media.delivery_exhausted", HandlerFunc(func(context.Context, Event) error {
		close(done)
		return nil
	}))

	bus.Publish(context.Background(), testEvent{NewBaseEvent(), "media.delivery_exhausted"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("async handler never ran")
	}
}
