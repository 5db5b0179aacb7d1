package event

import (
	"context"

	"github.com/ecomhub/gateway/internal/domain/cqrs"
	"go.uber.org/zap"
)

// InMemoryEventPublisher implements cqrs.EventPublisher with synchronous
// in-process fan-out. Handlers are isolated from one another: an error
// or panic in one handler is logged and the remaining handlers still
// run. Publish never fails the caller.
type InMemoryEventPublisher struct {
	registry *HandlerRegistry
	logger   *zap.Logger
}

// NewInMemoryEventPublisher creates a new in-memory event publisher
func NewInMemoryEventPublisher(logger *zap.Logger) *InMemoryEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventPublisher{
		registry: NewHandlerRegistry(),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event type. The wildcard type
// subscribes to all events.
func (p *InMemoryEventPublisher) Subscribe(eventType cqrs.EventType, handler cqrs.EventHandler) {
	p.registry.Register(eventType, handler)
	p.logger.Debug("event handler subscribed",
		zap.String("event_type", string(eventType)),
	)
}

// Publish dispatches an event to all matching handlers synchronously
func (p *InMemoryEventPublisher) Publish(ctx context.Context, event cqrs.APIEvent) {
	for _, handler := range p.registry.HandlersFor(event.Type) {
		if err := p.dispatch(ctx, handler, event); err != nil {
			// Log error but continue with other handlers
			p.logger.Error("handler failed to process event",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.String("aggregate_id", event.AggregateID),
				zap.Error(err),
			)
		}
	}
}

// dispatch safely dispatches an event to a handler
func (p *InMemoryEventPublisher) dispatch(ctx context.Context, handler cqrs.EventHandler, event cqrs.APIEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("handler panicked",
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID),
				zap.Any("panic", r),
			)
		}
	}()

	return handler.Handle(ctx, event)
}

// Ensure InMemoryEventPublisher implements EventPublisher
var _ cqrs.EventPublisher = (*InMemoryEventPublisher)(nil)
