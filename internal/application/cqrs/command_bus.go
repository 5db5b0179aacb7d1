// Package cqrs implements the command and query buses: dispatch,
// optimistic concurrency, event stamping, and the query-side cache.
// Handlers are registered by type string; each dispatch reaches exactly
// one handler.
package cqrs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ecomhub/gateway/internal/domain/cqrs"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CommandBus routes commands to their registered handler and owns the
// write side of the event log: version checks, event stamping, append
// and publish. Commands against the same aggregate are serialized; work
// on different aggregates proceeds concurrently.
type CommandBus struct {
	store     cqrs.EventStore
	publisher cqrs.EventPublisher
	logger    *zap.Logger
	metrics   *telemetry.GatewayMetrics

	mu       sync.RWMutex
	handlers map[string]cqrs.CommandHandler

	locksMu sync.Mutex
	locks   map[string]*aggregateLock
}

// aggregateLock serializes commands against one aggregate. The waiter
// count lets lockAggregate drop the entry once nobody holds or wants
// it, so the lock map does not grow with every aggregate id ever seen.
type aggregateLock struct {
	mu      sync.Mutex
	waiters int
}

// CommandBusOption configures a CommandBus
type CommandBusOption func(*CommandBus)

// WithCommandMetrics records dispatch outcomes on the gateway meter
func WithCommandMetrics(metrics *telemetry.GatewayMetrics) CommandBusOption {
	return func(b *CommandBus) {
		b.metrics = metrics
	}
}

// NewCommandBus creates a command bus over an event store and publisher
func NewCommandBus(store cqrs.EventStore, publisher cqrs.EventPublisher, logger *zap.Logger, opts ...CommandBusOption) *CommandBus {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &CommandBus{
		store:     store,
		publisher: publisher,
		logger:    logger,
		handlers:  make(map[string]cqrs.CommandHandler),
		locks:     make(map[string]*aggregateLock),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// RegisterCommandHandler registers the handler for a command type.
// Registering the same type again replaces the previous handler.
func (b *CommandBus) RegisterCommandHandler(commandType string, handler cqrs.CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[commandType] = handler
}

func (b *CommandBus) handler(commandType string) (cqrs.CommandHandler, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	handler, ok := b.handlers[commandType]
	return handler, ok
}

// lockAggregate acquires the mutex serializing one aggregate's commands.
// The returned function releases it and retires the entry when no other
// command is holding or waiting on it.
func (b *CommandBus) lockAggregate(aggregateID string) func() {
	b.locksMu.Lock()
	l, ok := b.locks[aggregateID]
	if !ok {
		l = &aggregateLock{}
		b.locks[aggregateID] = l
	}
	l.waiters++
	b.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		b.locksMu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(b.locks, aggregateID)
		}
		b.locksMu.Unlock()
	}
}

// Execute dispatches a command and returns the stamped, appended and
// published events.
//
// The sequence is: validate → optimistic concurrency check → handler →
// stamp → append → publish. When ExpectedVersion is positive and does
// not match the aggregate's current version the command is rejected
// before the handler runs. The version read, the handler and the appends
// share the aggregate's lock, so two concurrent commands against one
// aggregate cannot both observe the same version.
func (b *CommandBus) Execute(ctx context.Context, cmd cqrs.Command) ([]cqrs.APIEvent, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "command_bus", "execute")
	defer span.End()

	telemetry.SetAttributes(span,
		telemetry.SpanAttrCommandType, cmd.Type,
		telemetry.SpanAttrAggregateID, cmd.AggregateID,
	)

	events, err := b.execute(ctx, cmd)
	if b.metrics != nil {
		outcome := telemetry.DispatchSuccess
		if err != nil {
			outcome = telemetry.DispatchFailed
		}
		b.metrics.RecordCommand(ctx, cmd.Type, outcome)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	return events, nil
}

func (b *CommandBus) execute(ctx context.Context, cmd cqrs.Command) ([]cqrs.APIEvent, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	handler, ok := b.handler(cmd.Type)
	if !ok {
		return nil, fmt.Errorf("no handler registered for command %q: %w", cmd.Type, shared.ErrHandlerNotFound)
	}

	unlock := b.lockAggregate(cmd.AggregateID)
	defer unlock()

	currentVersion, err := b.store.AggregateVersion(ctx, cmd.AggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate version: %w", err)
	}

	if cmd.ExpectedVersion > 0 && cmd.ExpectedVersion != currentVersion {
		return nil, fmt.Errorf(
			"aggregate %q is at version %d, command expected %d: %w",
			cmd.AggregateID, currentVersion, cmd.ExpectedVersion, shared.ErrConcurrencyConflict,
		)
	}

	events, err := handler.Handle(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("command %q failed: %w", cmd.Type, err)
	}

	stamped := make([]cqrs.APIEvent, len(events))
	for i := range events {
		stamped[i] = stampEvent(events[i], cmd, currentVersion+i+1)
	}

	for i := range stamped {
		if err := b.store.Append(ctx, &stamped[i]); err != nil {
			return nil, fmt.Errorf("failed to append event %s: %w", stamped[i].ID, err)
		}
	}

	// Publishing stays inside the aggregate lock so subscribers observe
	// one aggregate's events in version order
	for _, event := range stamped {
		b.publisher.Publish(ctx, event)
	}

	b.logger.Debug("command executed",
		zap.String("command_type", cmd.Type),
		zap.String("command_id", cmd.ID),
		zap.String("aggregate_id", cmd.AggregateID),
		zap.Int("event_count", len(stamped)),
	)

	return stamped, nil
}

// stampEvent fills the bookkeeping fields the bus owns. Fields the
// handler set deliberately (id, type, aggregate identity, timestamp) are
// kept; version, correlation and causation always come from the bus.
func stampEvent(event cqrs.APIEvent, cmd cqrs.Command, version int) cqrs.APIEvent {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Type == "" {
		event.Type = cqrs.EventTypeDomain
	}
	if event.AggregateID == "" {
		event.AggregateID = cmd.AggregateID
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Version = version
	event.CorrelationID = cmd.CorrelationID()
	event.CausationID = cmd.ID
	return event
}

// RebuildProjection replays the full event log in append order through
// one projection. The projection is expected to have reset its own state
// beforehand.
func (b *CommandBus) RebuildProjection(ctx context.Context, projection cqrs.Projection) error {
	events, err := b.store.Events(ctx)
	if err != nil {
		return fmt.Errorf("failed to load events for projection rebuild: %w", err)
	}

	for i := range events {
		if err := projection.Apply(ctx, events[i]); err != nil {
			return fmt.Errorf("projection %q failed at event %s: %w", projection.Name(), events[i].ID, err)
		}
	}

	b.logger.Info("projection rebuilt",
		zap.String("projection", projection.Name()),
		zap.Int("event_count", len(events)),
	)
	return nil
}
