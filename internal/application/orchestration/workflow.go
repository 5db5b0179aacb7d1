package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/ecomhub/gateway/internal/domain/orchestration"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/ecomhub/gateway/internal/infrastructure/scheduler"
	"github.com/ecomhub/gateway/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// workflowGate decides the cancellation race: Cancel wins only if it
// marks the gate before the worker marks the first step started.
type workflowGate struct {
	mu        sync.Mutex
	started   bool
	cancelled bool
}

// WorkflowOrchestrator runs ordered multi-step workflows with
// compensating rollback. A failing step rolls completed steps back in
// reverse order before the instance turns failed.
type WorkflowOrchestrator struct {
	store   orchestration.WorkflowStore
	runner  *stepRunner
	pool    *scheduler.Pool
	config  OrchestratorConfig
	logger  *zap.Logger
	metrics *telemetry.GatewayMetrics

	mu    sync.Mutex
	gates map[string]*workflowGate
}

// WorkflowOption configures a WorkflowOrchestrator
type WorkflowOption func(*WorkflowOrchestrator)

// WithWorkflowMetrics records terminal statuses on the gateway meter
func WithWorkflowMetrics(metrics *telemetry.GatewayMetrics) WorkflowOption {
	return func(o *WorkflowOrchestrator) {
		o.metrics = metrics
	}
}

// NewWorkflowOrchestrator creates a new WorkflowOrchestrator.
func NewWorkflowOrchestrator(
	store orchestration.WorkflowStore,
	registry gateway.ServiceRegistry,
	breaker gateway.CircuitBreaker,
	forwarder gateway.Forwarder,
	pool *scheduler.Pool,
	config OrchestratorConfig,
	logger *zap.Logger,
	opts ...WorkflowOption,
) *WorkflowOrchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultStepTimeout <= 0 {
		config.DefaultStepTimeout = DefaultOrchestratorConfig().DefaultStepTimeout
	}
	o := &WorkflowOrchestrator{
		store:  store,
		runner: &stepRunner{registry: registry, breaker: breaker, forwarder: forwarder},
		pool:   pool,
		config: config,
		logger: logger,
		gates:  make(map[string]*workflowGate),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start persists a running instance and schedules it on the worker
// pool. The call returns once the instance is queued; progress is
// observed through Get.
func (o *WorkflowOrchestrator) Start(ctx context.Context, workflowID string, steps []orchestration.WorkflowStep) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestration", "start_workflow")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrWorkflowID, workflowID)

	if strings.TrimSpace(workflowID) == "" {
		return shared.NewDomainError("INVALID_INPUT", "Workflow id is required")
	}
	if len(steps) == 0 {
		return shared.NewDomainError("INVALID_INPUT", "Workflow requires at least one step")
	}
	for _, step := range steps {
		if step.Service == "" || step.Action == "" {
			return shared.NewDomainError("INVALID_INPUT", "Workflow steps require service and action")
		}
	}

	if _, err := o.store.Get(ctx, workflowID); err == nil {
		return shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("Workflow %q already exists", workflowID))
	} else if !errors.Is(err, shared.ErrNotFound) {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to check workflow %q: %w", workflowID, err)
	}

	state := orchestration.NewWorkflowState(workflowID, steps)
	if err := o.store.Save(ctx, state); err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to persist workflow %q: %w", workflowID, err)
	}

	gate := &workflowGate{}
	o.mu.Lock()
	o.gates[workflowID] = gate
	o.mu.Unlock()

	job := scheduler.NewJob("workflow", func(jobCtx context.Context) error {
		defer o.dropGate(workflowID)
		o.run(jobCtx, state, gate)
		return nil
	})
	if err := o.pool.Submit(job); err != nil {
		o.dropGate(workflowID)
		o.finish(ctx, state, orchestration.WorkflowStatusFailed, fmt.Sprintf("failed to schedule workflow: %v", err))
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to schedule workflow %q: %w", workflowID, err)
	}

	o.logger.Info("workflow started",
		zap.String("workflow_id", workflowID),
		zap.Int("steps", len(steps)),
	)
	return nil
}

// Cancel stops a workflow that has not begun executing. Once the first
// step starts the only way out is completion, failure or rollback.
func (o *WorkflowOrchestrator) Cancel(ctx context.Context, workflowID string) error {
	state, err := o.store.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if state.Terminal() {
		return shared.NewDomainError("INVALID_STATE", "Workflow has already finished")
	}

	o.mu.Lock()
	gate := o.gates[workflowID]
	o.mu.Unlock()
	if gate == nil {
		return shared.NewDomainError("INVALID_STATE", "Workflow has already started executing")
	}

	gate.mu.Lock()
	if gate.started {
		gate.mu.Unlock()
		return shared.NewDomainError("INVALID_STATE", "Workflow has already started executing")
	}
	gate.cancelled = true
	gate.mu.Unlock()

	o.finish(ctx, state, orchestration.WorkflowStatusCancelled, "")
	o.logger.Info("workflow cancelled", zap.String("workflow_id", workflowID))
	return nil
}

// Get returns one workflow instance.
func (o *WorkflowOrchestrator) Get(ctx context.Context, workflowID string) (*orchestration.WorkflowState, error) {
	return o.store.Get(ctx, workflowID)
}

// List returns all workflow instances ordered by start time.
func (o *WorkflowOrchestrator) List(ctx context.Context) ([]*orchestration.WorkflowState, error) {
	return o.store.List(ctx)
}

// run executes the instance on a pool worker. The context is the pool's
// lifecycle context, not the Start caller's.
func (o *WorkflowOrchestrator) run(ctx context.Context, state *orchestration.WorkflowState, gate *workflowGate) {
	ctx, span := telemetry.StartServiceSpan(ctx, "orchestration", "run_workflow")
	defer span.End()
	telemetry.SetAttributes(span, telemetry.SpanAttrWorkflowID, state.ID)

	gate.mu.Lock()
	if gate.cancelled {
		gate.mu.Unlock()
		o.finish(ctx, state, orchestration.WorkflowStatusCancelled, "")
		return
	}
	gate.started = true
	gate.mu.Unlock()

	for i := range state.Steps {
		step := state.Steps[i]
		state.CurrentStep = i
		o.save(ctx, state)

		output, err := o.runner.invoke(ctx, step.Service, step.Action, step.Payload, step.ResolveTimeout(o.config.DefaultStepTimeout))
		if err != nil {
			detail := fmt.Sprintf("step %d (%s.%s) failed: %v", i, step.Service, step.Action, err)
			o.logger.Warn("workflow step failed",
				zap.String("workflow_id", state.ID),
				zap.Int("step", i),
				zap.String("service", step.Service),
				zap.String("action", step.Action),
				zap.Error(err),
			)
			telemetry.RecordError(span, err)
			o.rollback(ctx, state)
			o.finish(ctx, state, orchestration.WorkflowStatusFailed, detail)
			return
		}

		state.StepResults = append(state.StepResults, orchestration.StepResult{
			Index:   i,
			Service: step.Service,
			Action:  step.Action,
			Output:  output,
		})
		o.save(ctx, state)
	}

	o.finish(ctx, state, orchestration.WorkflowStatusCompleted, "")
	o.logger.Info("workflow completed",
		zap.String("workflow_id", state.ID),
		zap.Int("steps", len(state.Steps)),
	)
}

// rollback undoes completed steps in reverse order. Each rollback is
// isolated: a failing one is logged and the remaining still run. The
// rollback payload is the step's payload merged with its output, so the
// downstream sees both what was requested and what it created.
func (o *WorkflowOrchestrator) rollback(ctx context.Context, state *orchestration.WorkflowState) {
	for i := len(state.StepResults) - 1; i >= 0; i-- {
		result := state.StepResults[i]
		step := state.Steps[result.Index]

		payload := make(map[string]any, len(step.Payload)+len(result.Output))
		for k, v := range step.Payload {
			payload[k] = v
		}
		for k, v := range result.Output {
			payload[k] = v
		}

		action := step.ResolveRollbackAction()
		if _, err := o.runner.invoke(ctx, step.Service, action, payload, step.ResolveTimeout(o.config.DefaultStepTimeout)); err != nil {
			o.logger.Error("workflow rollback step failed",
				zap.String("workflow_id", state.ID),
				zap.Int("step", result.Index),
				zap.String("service", step.Service),
				zap.String("action", action),
				zap.Error(err),
			)
			continue
		}
		o.logger.Info("workflow step rolled back",
			zap.String("workflow_id", state.ID),
			zap.Int("step", result.Index),
			zap.String("service", step.Service),
			zap.String("action", action),
		)
	}
}

func (o *WorkflowOrchestrator) finish(ctx context.Context, state *orchestration.WorkflowState, status orchestration.WorkflowStatus, detail string) {
	now := time.Now().UTC()
	state.Status = status
	state.Error = detail
	state.FinishedAt = &now
	o.save(ctx, state)
	if o.metrics != nil {
		o.metrics.RecordWorkflow(ctx, string(status))
	}
}

func (o *WorkflowOrchestrator) save(ctx context.Context, state *orchestration.WorkflowState) {
	if err := o.store.Save(ctx, state); err != nil {
		o.logger.Error("failed to persist workflow state",
			zap.String("workflow_id", state.ID),
			zap.String("status", string(state.Status)),
			zap.Error(err),
		)
	}
}

func (o *WorkflowOrchestrator) dropGate(workflowID string) {
	o.mu.Lock()
	delete(o.gates, workflowID)
	o.mu.Unlock()
}
