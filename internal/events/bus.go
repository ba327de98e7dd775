// internal/events/bus.go
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBusClosed is returned by Publish after Shutdown.
var ErrBusClosed = errors.New("event bus is shutting down")

// anyType is the wildcard key used by SubscribeAll.
const anyType EventType = "*"

type entry struct {
	id      string
	handler Handler
}

// Bus is an in-memory event bus. Events are delivered by a single dispatcher
// goroutine in publish order, which lets subscribers rebuild state from the
// stream.
type Bus struct {
	mu         sync.RWMutex
	handlers   map[EventType][]entry
	logger     *zap.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	inflight   sync.WaitGroup
	eventChan  chan Event
	bufferSize int
	delivered  atomic.Uint64
	failed     atomic.Uint64
}

// NewBus creates a new event bus.
func NewBus(logger *zap.Logger, bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		handlers:   make(map[EventType][]entry),
		logger:     logger.Named("event_bus"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		eventChan:  make(chan Event, bufferSize),
		bufferSize: bufferSize,
	}

	go bus.processEvents()

	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *Bus) Subscribe(eventType EventType, handler Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.handlers[eventType] = append(b.handlers[eventType], entry{id: id, handler: handler})

	b.logger.Debug("Handler subscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))

	return &subscription{
		id:       id,
		eventBus: b,
		typ:      eventType,
	}
}

// SubscribeFunc is a convenience method for subscribing with a function.
func (b *Bus) SubscribeFunc(eventType EventType, fn func(context.Context, Event) error) Subscription {
	return b.Subscribe(eventType, HandlerFunc(fn))
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(handler Handler) Subscription {
	return b.Subscribe(anyType, handler)
}

// Publish enqueues an event for asynchronous delivery. It blocks while the
// buffer is full.
func (b *Bus) Publish(event Event) error {
	if b.ctx.Err() != nil {
		return ErrBusClosed
	}

	b.inflight.Add(1)
	select {
	case b.eventChan <- event:
		return nil
	default:
	}

	b.logger.Warn("Event channel full, waiting",
		zap.String("event_type", string(event.Type())),
		zap.Int("buffer_size", b.bufferSize))

	select {
	case <-b.ctx.Done():
		b.inflight.Done()
		return ErrBusClosed
	case b.eventChan <- event:
		return nil
	}
}

// PublishSync delivers an event to all matching handlers in the caller's
// goroutine.
func (b *Bus) PublishSync(ctx context.Context, event Event) error {
	b.mu.RLock()
	targets := make([]entry, 0, len(b.handlers[event.Type()])+len(b.handlers[anyType]))
	targets = append(targets, b.handlers[event.Type()]...)
	targets = append(targets, b.handlers[anyType]...)
	b.mu.RUnlock()

	var errs []error
	for _, e := range targets {
		if err := e.handler.Handle(ctx, event); err != nil {
			b.logger.Error("Handler error",
				zap.String("event_type", string(event.Type())),
				zap.String("handler_id", e.id),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		b.failed.Add(1)
		return fmt.Errorf("handlers failed: %w", errors.Join(errs...))
	}
	b.delivered.Add(1)
	return nil
}

// Flush waits until every event published so far has been delivered.
func (b *Bus) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// processEvents is the dispatcher loop.
func (b *Bus) processEvents() {
	defer close(b.done)

	for {
		select {
		case <-b.ctx.Done():
			// Drain remaining events
			for {
				select {
				case event := <-b.eventChan:
					b.dispatch(context.Background(), event)
				default:
					return
				}
			}
		case event := <-b.eventChan:
			b.dispatch(b.ctx, event)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event Event) {
	defer b.inflight.Done()
	if err := b.PublishSync(ctx, event); err != nil {
		b.logger.Error("Failed to process event",
			zap.String("event_type", string(event.Type())),
			zap.Error(err))
	}
}

// unsubscribe removes a handler subscription.
func (b *Bus) unsubscribe(id string, eventType EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.handlers[eventType]
	for i, e := range list {
		if e.id == id {
			b.handlers[eventType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}

	b.logger.Debug("Handler unsubscribed",
		zap.String("event_type", string(eventType)),
		zap.String("subscription_id", id))
}

// Shutdown stops accepting events, delivers what is buffered and waits for
// the dispatcher or for ctx to expire.
func (b *Bus) Shutdown(ctx context.Context) error {
	b.logger.Info("Shutting down event bus")

	b.cancel()

	select {
	case <-b.done:
		b.logger.Info("Event bus shutdown complete",
			zap.Uint64("delivered", b.delivered.Load()),
			zap.Uint64("failed", b.failed.Load()))
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus shutdown timeout")
		return ctx.Err()
	}
}

// BusStats is a point-in-time view of the bus counters.
type BusStats struct {
	Pending     int
	Delivered   uint64
	Failed      uint64
	Subscribers map[EventType]int
}

// Stats reports pending, delivered and failed deliveries and the number of
// subscribers per event type ("*" for SubscribeAll).
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	st := BusStats{
		Pending:     len(b.eventChan),
		Delivered:   b.delivered.Load(),
		Failed:      b.failed.Load(),
		Subscribers: make(map[EventType]int, len(b.handlers)),
	}
	for t, hs := range b.handlers {
		if len(hs) > 0 {
			st.Subscribers[t] = len(hs)
		}
	}
	return st
}
