package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrBusClosed indicates the event bus has been closed.
	ErrBusClosed = errors.New("event bus is closed")
	// ErrChannelFull indicates the event channel is full and cannot accept more events.
	ErrChannelFull = errors.New("event channel is full")
	// ErrNoHandler indicates no handlers are registered for the event type.
	ErrNoHandler = errors.New("no handlers registered for event type")
)

// Event types published by the transition handler.
const (
	// TypeStateRecorded is published after a successful state was committed.
	TypeStateRecorded = "state_recorded"
	// TypeTransitionFailed is published after an unsuccessful state was committed.
	TypeTransitionFailed = "transition_failed"
)

// Event describes something that happened to a workflow item.
type Event struct {
	Type       string         // e.g. "state_recorded"
	EntityID   string         // canonical "provider::id" of the item
	Workflow   string         // workflow the item is in after the transition
	Transition string         // attempted transition
	Data       map[string]any // additional event data
	OccurredAt time.Time
}

// Handler handles published events.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle implements the Handler interface.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to subscribed handlers on a background goroutine.
type Bus struct {
	handlers   map[string][]subscription
	nextID     uint64
	mu         sync.RWMutex
	eventCh    chan Event
	errHandler func(event Event, err error)
	logger     *slog.Logger
	timeout    time.Duration
	wg         sync.WaitGroup
	closed     bool
	closeMu    sync.RWMutex
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the event channel buffer size.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		b.eventCh = make(chan Event, size)
	}
}

// WithErrorHandler sets a custom error handler function.
func WithErrorHandler(handler func(event Event, err error)) Option {
	return func(b *Bus) {
		b.errHandler = handler
	}
}

// WithLogger sets the logger used by the default error handler.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithSyncTimeout bounds PublishSync when the context has no deadline.
func WithSyncTimeout(timeout time.Duration) Option {
	return func(b *Bus) {
		b.timeout = timeout
	}
}

// NewBus creates a Bus and starts its dispatcher.
// The default buffer size is 100 and handler errors are logged.
func NewBus(options ...Option) *Bus {
	b := &Bus{
		handlers: make(map[string][]subscription),
		eventCh:  make(chan Event, 100),
		logger:   slog.Default(),
		timeout:  5 * time.Second,
	}
	for _, option := range options {
		option(b)
	}
	if b.errHandler == nil {
		b.errHandler = b.logError
	}

	b.wg.Add(1)
	go b.processEvents()

	return b
}

// Subscribe subscribes a handler to an event type and returns a token for Unsubscribe.
func (b *Bus) Subscribe(eventType string, handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// SubscribeFunc subscribes a function as a handler to an event type.
func (b *Bus) SubscribeFunc(eventType string, fn func(ctx context.Context, event Event) error) uint64 {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// Unsubscribe removes the subscription identified by token.
// Returns true if the subscription existed.
func (b *Bus) Unsubscribe(eventType string, token uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[eventType]
	for i, sub := range subs {
		if sub.id != token {
			continue
		}
		b.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
		if len(b.handlers[eventType]) == 0 {
			delete(b.handlers, eventType)
		}
		return true
	}
	return false
}

// HasSubscribers checks if there are any subscribers for a given event type.
func (b *Bus) HasSubscribers(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0
}

// Publish queues an event for asynchronous dispatch.
// Returns an error if the context is canceled, the bus is closed, nobody
// listens for the type or the channel is full.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	if !b.HasSubscribers(event.Type) {
		return ErrNoHandler
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.eventCh <- event:
		return nil
	default:
		return ErrChannelFull
	}
}

// PublishSync dispatches an event on the calling goroutine and returns all handler errors.
func (b *Bus) PublishSync(ctx context.Context, event Event) []error {
	b.closeMu.RLock()
	closed := b.closed
	b.closeMu.RUnlock()
	if closed {
		return []error{ErrBusClosed}
	}

	handlers := b.handlersFor(event.Type)
	if len(handlers) == 0 {
		return []error{ErrNoHandler}
	}

	if _, ok := ctx.Deadline(); !ok && b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	return b.executeHandlers(ctx, handlers, event)
}

// Stop stops the dispatcher after the queued events were handled.
func (b *Bus) Stop() {
	b.closeMu.Lock()
	if !b.closed {
		b.closed = true
		close(b.eventCh)
	}
	b.closeMu.Unlock()

	b.wg.Wait()
}

func (b *Bus) handlersFor(eventType string) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	subs := b.handlers[eventType]
	out := make([]Handler, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.handler)
	}
	return out
}

func (b *Bus) processEvents() {
	defer b.wg.Done()

	for event := range b.eventCh {
		handlers := b.handlersFor(event.Type)
		if len(handlers) == 0 {
			continue
		}
		for _, err := range b.executeHandlers(context.Background(), handlers, event) {
			b.errHandler(event, err)
		}
	}
}

// executeHandlers runs the handlers concurrently and collects their errors.
func (b *Bus) executeHandlers(ctx context.Context, handlers []Handler, event Event) []error {
	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))

	for _, handler := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h.Handle(ctx, event); err != nil {
				errCh <- err
			}
		}(handler)
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errs
}

func (b *Bus) logError(event Event, err error) {
	b.logger.Error("event handler failed",
		"event", event.Type,
		"entity_id", event.EntityID,
		"workflow", event.Workflow,
		"error", err,
	)
}
