package eventbus

import (
	"context"
	"fmt"
	"sync"

	"riskGate/internal/domain"
	"riskGate/internal/ports"
)

// Handler consumes published events.
type Handler func(event domain.Event)

// Bus is an in-process implementation of the ports.EventBus interface.
// Delivery is synchronous and per-handler isolated: a panicking
// subscriber never prevents delivery to the rest.
type Bus struct {
	logger ports.Logger

	mu       sync.Mutex
	handlers map[domain.EventType][]Handler
	all      []Handler // Subscribers to every event type
	closed   bool
}

// New creates a new in-process event bus.
func New(logger ports.Logger) (*Bus, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for event bus: %w", ports.ErrConfigurationError)
	}
	return &Bus{
		logger:   logger,
		handlers: make(map[domain.EventType][]Handler),
	}, nil
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType domain.EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers the event to all matching subscribers.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus closed: %w", ports.ErrInvalidState)
	}
	targets := make([]Handler, 0, len(b.handlers[event.Type])+len(b.all))
	targets = append(targets, b.handlers[event.Type]...)
	targets = append(targets, b.all...)
	b.mu.Unlock()

	for _, h := range targets {
		b.deliver(ctx, h, event)
	}
	return nil
}

func (b *Bus) deliver(ctx context.Context, h Handler, event domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, fmt.Errorf("event handler panic: %v", r), "Event handler failed",
				map[string]interface{}{"event": string(event.Type)})
		}
	}()
	h(event)
}

// Close stops accepting publishes.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
