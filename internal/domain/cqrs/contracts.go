package cqrs

import (
	"context"
	"errors"
)

// ErrDuplicateEvent is returned by Append when an event id was appended
// before. The log keeps the first occurrence.
var ErrDuplicateEvent = errors.New("event id already appended")

// CommandHandler turns a command into zero or more events. Handlers do
// not append or publish; the bus owns both.
type CommandHandler interface {
	Handle(ctx context.Context, cmd Command) ([]APIEvent, error)
}

// CommandHandlerFunc adapts a function to CommandHandler.
type CommandHandlerFunc func(ctx context.Context, cmd Command) ([]APIEvent, error)

func (f CommandHandlerFunc) Handle(ctx context.Context, cmd Command) ([]APIEvent, error) {
	return f(ctx, cmd)
}

// QueryHandler answers a query from projections or other read models.
type QueryHandler interface {
	Handle(ctx context.Context, q Query) (any, error)
}

// QueryHandlerFunc adapts a function to QueryHandler.
type QueryHandlerFunc func(ctx context.Context, q Query) (any, error)

func (f QueryHandlerFunc) Handle(ctx context.Context, q Query) (any, error) {
	return f(ctx, q)
}

// EventHandler consumes published events. Handler errors are logged and
// isolated by the publisher; they never fail the originating command.
type EventHandler interface {
	Handle(ctx context.Context, event APIEvent) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, event APIEvent) error

func (f EventHandlerFunc) Handle(ctx context.Context, event APIEvent) error {
	return f(ctx, event)
}

// EventStore is the append-only event log. Events come back in append
// order; per-aggregate version queries support optimistic concurrency.
type EventStore interface {
	Append(ctx context.Context, event *APIEvent) error
	Events(ctx context.Context) ([]APIEvent, error)
	EventsForAggregate(ctx context.Context, aggregateID string) ([]APIEvent, error)
	AggregateVersion(ctx context.Context, aggregateID string) (int, error)
}

// EventPublisher fans events out to subscribed handlers. Each handler is
// invoked independently; one failing handler cannot block the others.
type EventPublisher interface {
	Subscribe(eventType EventType, handler EventHandler)
	Publish(ctx context.Context, event APIEvent)
}

// Projection is a read model built by applying events in order.
type Projection interface {
	Name() string
	Apply(ctx context.Context, event APIEvent) error
}
