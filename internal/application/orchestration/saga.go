package orchestration

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/ecomhub/gateway/internal/domain/orchestration"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/ecomhub/gateway/internal/infrastructure/scheduler"
	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SagaOrchestrator runs registered saga definitions. Step results
// accumulate into the saga's data; any step failure triggers the
// definition's full compensating-action list, in definition order.
type SagaOrchestrator struct {
	store   orchestration.SagaStore
	runner  *stepRunner
	pool    *scheduler.Pool
	config  OrchestratorConfig
	logger  *zap.Logger
	metrics *telemetry.GatewayMetrics

	mu          sync.RWMutex
	definitions map[string]orchestration.SagaDefinition
}

// SagaOption configures a SagaOrchestrator
type SagaOption func(*SagaOrchestrator)

// WithSagaMetrics records terminal statuses on the gateway meter
func WithSagaMetrics(metrics *telemetry.GatewayMetrics) SagaOption {
	return func(o *SagaOrchestrator) {
		o.metrics = metrics
	}
}

// NewSagaOrchestrator creates a new SagaOrchestrator.
func NewSagaOrchestrator(
	store orchestration.SagaStore,
	registry gateway.ServiceRegistry,
	breaker gateway.CircuitBreaker,
	forwarder gateway.Forwarder,
	pool *scheduler.Pool,
	config OrchestratorConfig,
	logger *zap.Logger,
	opts ...SagaOption,
) *SagaOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultStepTimeout <= 0 {
		config.DefaultStepTimeout = DefaultOrchestratorConfig().DefaultStepTimeout
	}
	o := &SagaOrchestrator{
		store:       store,
		runner:      &stepRunner{registry: registry, breaker: breaker, forwarder: forwarder},
		pool:        pool,
		config:      config,
		logger:      logger,
		definitions: make(map[string]orchestration.SagaDefinition),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterDefinition validates and stores a saga definition,
// replacing any previous registration of the same type.
func (o *SagaOrchestrator) RegisterDefinition(def orchestration.SagaDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	o.mu.Lock()
	o.definitions[def.Type] = def
	o.mu.Unlock()

	o.logger.Info("saga definition registered",
		zap.String("saga_type", def.Type),
		zap.Int("steps", len(def.Steps)),
		zap.Int("compensating_actions", len(def.CompensatingActions)),
	)
	return nil
}

// Definitions returns the registered definitions ordered by type.
func (o *SagaOrchestrator) Definitions() []orchestration.SagaDefinition {
	o.mu.RLock()
	defer o.mu.RUnlock()

	defs := make([]orchestration.SagaDefinition, 0, len(o.definitions))
	for _, def := range o.definitions {
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Type < defs[j].Type })
	return defs
}

// Start persists a running instance seeded with the initial data and
// schedules it on the worker pool. It returns the generated saga id.
func (o *SagaOrchestrator) Start(ctx context.Context, sagaType string, initialData map[string]any) (string, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestration", "start_saga")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrSagaType, sagaType)

	def, ok := o.definition(sagaType)
	if !ok {
		return "", fmt.Errorf("saga type %q is not registered: %w", sagaType, shared.ErrNotFound)
	}

	sagaID := uuid.NewString()
	telemetry.SetAttributes(span, telemetry.SpanAttrSagaID, sagaID)

	state := orchestration.NewSagaState(sagaID, sagaType, initialData)
	if err := o.store.Save(ctx, state); err != nil {
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("failed to persist saga %q: %w", sagaID, err)
	}

	job := scheduler.NewJob("saga", func(jobCtx context.Context) error {
		o.run(jobCtx, state, def)
		return nil
	})
	if err := o.pool.Submit(job); err != nil {
		o.finish(ctx, state, orchestration.SagaStatusFailed, fmt.Sprintf("failed to schedule saga: %v", err))
		telemetry.RecordError(span, err)
		return "", fmt.Errorf("failed to schedule saga %q: %w", sagaID, err)
	}

	o.logger.Info("saga started",
		zap.String("saga_id", sagaID),
		zap.String("saga_type", sagaType),
	)
	return sagaID, nil
}

// Get returns one saga instance.
func (o *SagaOrchestrator) Get(ctx context.Context, sagaID string) (*orchestration.SagaState, error) {
	return o.store.Get(ctx, sagaID)
}

// List returns all saga instances ordered by start time.
func (o *SagaOrchestrator) List(ctx context.Context) ([]*orchestration.SagaState, error) {
	return o.store.List(ctx)
}

func (o *SagaOrchestrator) definition(sagaType string) (orchestration.SagaDefinition, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	def, ok := o.definitions[sagaType]
	return def, ok
}

// run executes the instance on a pool worker. Every step receives the
// saga's accumulated data as payload and merges its output back in.
func (o *SagaOrchestrator) run(ctx context.Context, state *orchestration.SagaState, def orchestration.SagaDefinition) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestration", "run_saga")
	defer span.End()
	telemetry.SetAttributes(span,
		telemetry.SpanAttrSagaID, state.ID,
		telemetry.SpanAttrSagaType, state.Type,
	)

	for i, step := range def.Steps {
		state.CurrentStep = i
		o.save(ctx, state)

		output, err := o.runner.invoke(ctx, step.Service, step.Action, state.Data, step.ResolveTimeout(o.config.DefaultStepTimeout))
		if err != nil {
			detail := fmt.Sprintf("step %q (%s.%s) failed: %v", step.Name, step.Service, step.Action, err)
			o.logger.Warn("saga step failed",
				zap.String("saga_id", state.ID),
				zap.String("saga_type", state.Type),
				zap.String("step", step.Name),
				zap.Error(err),
			)
			telemetry.RecordError(span, err)
			o.compensate(ctx, state, def)
			o.finish(ctx, state, orchestration.SagaStatusFailed, detail)
			return
		}

		for k, v := range output {
			state.Data[k] = v
		}
		state.CompletedSteps = append(state.CompletedSteps, step.Name)
		o.save(ctx, state)
	}

	o.finish(ctx, state, orchestration.SagaStatusCompleted, "")
	o.logger.Info("saga completed",
		zap.String("saga_id", state.ID),
		zap.String("saga_type", state.Type),
	)
}

// compensate runs the definition's full compensating-action list in
// definition order, regardless of how far the saga advanced. Each
// action is isolated: a failing one is logged and the rest still run.
// Actions receive the saga's accumulated data as payload.
func (o *SagaOrchestrator) compensate(ctx context.Context, state *orchestration.SagaState, def orchestration.SagaDefinition) {
	for _, action := range def.CompensatingActions {
		if _, err := o.runner.invoke(ctx, action.Service, action.Action, state.Data, action.ResolveTimeout(o.config.DefaultStepTimeout)); err != nil {
			o.logger.Error("compensating action failed",
				zap.String("saga_id", state.ID),
				zap.String("service", action.Service),
				zap.String("action", action.Action),
				zap.Error(err),
			)
			continue
		}
		o.logger.Info("compensating action applied",
			zap.String("saga_id", state.ID),
			zap.String("service", action.Service),
			zap.String("action", action.Action),
		)
	}
}

func (o *SagaOrchestrator) finish(ctx context.Context, state *orchestration.SagaState, status orchestration.SagaStatus, detail string) {
	now := time.Now().UTC()
	state.Status = status
	state.Error = detail
	state.FinishedAt = &now
	o.save(ctx, state)
	if o.metrics != nil {
		o.metrics.RecordSaga(ctx, state.Type, string(status))
	}
}

func (o *SagaOrchestrator) save(ctx context.Context, state *orchestration.SagaState) {
	if err := o.store.Save(ctx, state); err != nil {
		o.logger.Error("failed to persist saga state",
			zap.String("saga_id", state.ID),
			zap.String("status", string(state.Status)),
			zap.Error(err),
		)
	}
}
