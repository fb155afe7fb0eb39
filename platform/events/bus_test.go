package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"identity_backend/platform/logger"
)

type testEvent struct {
	BaseEvent
	name string
}

func (e testEvent) EventName() string { return e.name }

func TestPublishDispatchesToSubscribers(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	var wg sync.WaitGroup
	wg.Add(2)
	var mu sync.Mutex
	received := 0

	handler := HandlerFunc(func(_ context.Context, _ Event) error {
		mu.Lock()
		received++
		mu.Unlock()
		wg.Done()
		return nil
	})
	bus.Subscribe("thing.happened", handler)
	bus.Subscribe("thing.happened", handler)

	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "thing.happened"})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handlers were not invoked")
	}

	mu.Lock()
	defer mu.Unlock()
	if received != 2 {
		t.Fatalf("expected 2 handler invocations, got %d", received)
	}
}

func TestPublishIgnoresUnrelatedEvents(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	invoked := make(chan struct{}, 1)
	bus.Subscribe("thing.happened", HandlerFunc(func(_ context.Context, _ Event) error {
		invoked <- struct{}{}
		return nil
	}))

	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "other.thing"})

	select {
	case <-invoked:
		t.Fatal("handler invoked for an event it did not subscribe to")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishSurvivesPanickingHandler(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	bus.Subscribe("thing.happened", HandlerFunc(func(_ context.Context, _ Event) error {
		panic("boom")
	}))
	ok := make(chan struct{}, 1)
	bus.Subscribe("thing.happened", HandlerFunc(func(_ context.Context, _ Event) error {
		ok <- struct{}{}
		return nil
	}))

	bus.Publish(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "thing.happened"})

	select {
	case <-ok:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy handler did not run alongside a panicking one")
	}
}

func TestPublishHandlersOutliveCallerContext(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	done := make(chan error, 1)
	bus.Subscribe("thing.happened", HandlerFunc(func(ctx context.Context, _ Event) error {
		done <- ctx.Err()
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, testEvent{BaseEvent: NewBaseEvent(), name: "thing.happened"})

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handler context was canceled: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not run")
	}
}

func TestPublishSyncReturnsFirstHandlerError(t *testing.T) {
	bus := NewInMemoryBus(logger.New("development"))

	wantErr := errors.New("handler failed")
	order := make([]int, 0, 2)
	bus.Subscribe("thing.happened", HandlerFunc(func(_ context.Context, _ Event) error {
		order = append(order, 1)
		return wantErr
	}))
	bus.Subscribe("thing.happened", HandlerFunc(func(_ context.Context, _ Event) error {
		order = append(order, 2)
		return nil
	}))

	err := bus.PublishSync(context.Background(), testEvent{BaseEvent: NewBaseEvent(), name: "thing.happened"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected first handler error, got %v", err)
	}
	if len(order) != 1 {
		t.Fatalf("dispatch should stop at the first error, ran %v", order)
	}
}
