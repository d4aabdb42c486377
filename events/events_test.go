package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	eb := NewBus()
	defer eb.Stop()

	first := eb.Subscribe(TypeStateRecorded, &mockHandler{})
	second := eb.Subscribe(TypeStateRecorded, &mockHandler{})

	eb.mu.RLock()
	handlers, ok := eb.handlers[TypeStateRecorded]
	eb.mu.RUnlock()

	if !ok {
		t.Fatal("Expected handlers for state_recorded, but none found")
	}
	if len(handlers) != 2 {
		t.Fatalf("Expected 2 handlers, got %d", len(handlers))
	}
	if first == second {
		t.Fatalf("Expected distinct tokens, got %d twice", first)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	eb := NewBus()
	defer eb.Stop()

	token1 := eb.Subscribe(TypeStateRecorded, &mockHandler{})
	eb.Subscribe(TypeStateRecorded, &mockHandler{})

	if !eb.Unsubscribe(TypeStateRecorded, token1) {
		t.Fatal("Unsubscribe should return true for existing subscription")
	}

	eb.mu.RLock()
	if len(eb.handlers[TypeStateRecorded]) != 1 {
		t.Fatalf("Expected 1 handler after unsubscribe, got %d", len(eb.handlers[TypeStateRecorded]))
	}
	eb.mu.RUnlock()

	if eb.Unsubscribe(TypeStateRecorded, token1) {
		t.Fatal("Unsubscribe should return false for a removed subscription")
	}
	if eb.Unsubscribe(TypeTransitionFailed, 999) {
		t.Fatal("Unsubscribe should return false for unknown event type")
	}
}

func TestBus_Publish(t *testing.T) {
	eb := NewBus()
	defer eb.Stop()

	var wg sync.WaitGroup
	wg.Add(1)

	eb.Subscribe(TypeStateRecorded, &mockHandler{
		handleFunc: func(ctx context.Context, event Event) error {
			defer wg.Done()
			if event.Type != TypeStateRecorded {
				t.Errorf("Expected event type %q, got %q", TypeStateRecorded, event.Type)
			}
			if event.EntityID != "document::123" {
				t.Errorf("Expected entity id document::123, got %s", event.EntityID)
			}
			return nil
		},
	})

	err := eb.Publish(context.Background(), Event{
		Type:     TypeStateRecorded,
		EntityID: "document::123",
		Workflow: "review",
		Data:     map[string]any{"step": "pending"},
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if !waitWithTimeout(&wg, time.Second) {
		t.Fatal("Handler was not called in time")
	}
}

func TestBus_PublishSync(t *testing.T) {
	eb := NewBus()
	defer eb.Stop()

	eb.Subscribe(TypeTransitionFailed, &mockHandler{
		handleFunc: func(ctx context.Context, event Event) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("Expected PublishSync to bound the handler context")
			}
			return errors.New("test error")
		},
	})

	errs := eb.PublishSync(context.Background(), Event{Type: TypeTransitionFailed, EntityID: "document::123"})
	if len(errs) != 1 {
		t.Fatalf("Expected 1 error, got %d", len(errs))
	}
	if errs[0].Error() != "test error" {
		t.Errorf("Expected 'test error', got '%v'", errs[0])
	}

	errs = eb.PublishSync(context.Background(), Event{Type: "unknown_event"})
	if len(errs) != 1 || !errors.Is(errs[0], ErrNoHandler) {
		t.Fatalf("Expected ErrNoHandler, got %v", errs)
	}
}

func TestBus_PublishNoHandlers(t *testing.T) {
	eb := NewBus()
	defer eb.Stop()

	err := eb.Publish(context.Background(), Event{Type: "unknown_event"})
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Expected ErrNoHandler, got %v", err)
	}
}

func TestBus_PublishAfterStop(t *testing.T) {
	eb := NewBus()
	eb.Subscribe(TypeStateRecorded, &mockHandler{})
	eb.Stop()
	eb.Stop()

	err := eb.Publish(context.Background(), Event{Type: TypeStateRecorded})
	if !errors.Is(err, ErrBusClosed) {
		t.Fatalf("Expected ErrBusClosed, got %v", err)
	}

	errs := eb.PublishSync(context.Background(), Event{Type: TypeStateRecorded})
	if len(errs) != 1 || !errors.Is(errs[0], ErrBusClosed) {
		t.Fatalf("Expected ErrBusClosed, got %v", errs)
	}
}

func TestBus_StopDrainsQueue(t *testing.T) {
	eb := NewBus()

	var mu sync.Mutex
	handled := 0
	eb.SubscribeFunc(TypeStateRecorded, func(ctx context.Context, event Event) error {
		mu.Lock()
		handled++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 10; i++ {
		if err := eb.Publish(context.Background(), Event{Type: TypeStateRecorded}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	eb.Stop()

	mu.Lock()
	defer mu.Unlock()
	if handled != 10 {
		t.Fatalf("Expected 10 handled events, got %d", handled)
	}
}

func TestBus_ChannelFull(t *testing.T) {
	block := make(chan struct{})
	eb := NewBus(WithBufferSize(1))
	defer func() {
		close(block)
		eb.Stop()
	}()

	started := make(chan struct{}, 1)
	eb.SubscribeFunc(TypeStateRecorded, func(ctx context.Context, event Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	// the first event occupies the dispatcher, the second the buffer
	if err := eb.Publish(context.Background(), Event{Type: TypeStateRecorded}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	<-started
	if err := eb.Publish(context.Background(), Event{Type: TypeStateRecorded}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	err := eb.Publish(context.Background(), Event{Type: TypeStateRecorded})
	if !errors.Is(err, ErrChannelFull) {
		t.Fatalf("Expected ErrChannelFull, got %v", err)
	}
}

func TestBus_HasSubscribers(t *testing.T) {
	eb := NewBus()
	defer eb.Stop()

	if eb.HasSubscribers(TypeStateRecorded) {
		t.Fatal("HasSubscribers should return false for non-existent event type")
	}

	token := eb.Subscribe(TypeStateRecorded, &mockHandler{})
	if !eb.HasSubscribers(TypeStateRecorded) {
		t.Fatal("HasSubscribers should return true after subscription")
	}

	eb.Unsubscribe(TypeStateRecorded, token)
	if eb.HasSubscribers(TypeStateRecorded) {
		t.Fatal("HasSubscribers should return false after unsubscribe")
	}
}

func TestBus_WithOptions(t *testing.T) {
	var customErrorCalled bool
	var customErrorMu sync.Mutex
	var errWg sync.WaitGroup
	errWg.Add(1)

	eb := NewBus(
		WithBufferSize(200),
		WithErrorHandler(func(event Event, err error) {
			customErrorMu.Lock()
			customErrorCalled = true
			customErrorMu.Unlock()
			errWg.Done()
		}),
		WithSyncTimeout(time.Second),
		WithLogger(nil),
	)
	defer eb.Stop()

	if cap(eb.eventCh) != 200 {
		t.Fatalf("Expected buffer size 200, got %d", cap(eb.eventCh))
	}
	if eb.timeout != time.Second {
		t.Fatalf("Expected sync timeout 1s, got %v", eb.timeout)
	}
	if eb.logger == nil {
		t.Fatal("A nil logger must not replace the default")
	}

	eb.Subscribe(TypeStateRecorded, &mockHandler{
		handleFunc: func(ctx context.Context, event Event) error {
			return errors.New("test error")
		},
	})

	if err := eb.Publish(context.Background(), Event{Type: TypeStateRecorded}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if !waitWithTimeout(&errWg, time.Second) {
		t.Fatal("Custom error handler was not called in time")
	}
	customErrorMu.Lock()
	if !customErrorCalled {
		t.Fatal("Custom error handler was not called")
	}
	customErrorMu.Unlock()
}

func TestBus_CancelledContext(t *testing.T) {
	eb := NewBus()
	defer eb.Stop()

	eb.Subscribe(TypeStateRecorded, &mockHandler{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eb.Publish(ctx, Event{Type: TypeStateRecorded})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled error, got %v", err)
	}
}

// Helper types and functions

type mockHandler struct {
	handleFunc func(ctx context.Context, event Event) error
}

func (m *mockHandler) Handle(ctx context.Context, event Event) error {
	if m.handleFunc != nil {
		return m.handleFunc(ctx, event)
	}
	return nil
}

func waitWithTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
