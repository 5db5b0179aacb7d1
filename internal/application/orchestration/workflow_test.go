package orchestration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/ecomhub/gateway/internal/domain/orchestration"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/ecomhub/gateway/internal/infrastructure/circuitbreaker"
	"github.com/ecomhub/gateway/internal/infrastructure/registry"
	"github.com/ecomhub/gateway/internal/infrastructure/scheduler"
	"github.com/ecomhub/gateway/internal/infrastructure/statestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type invocation struct {
	service string
	action  string
	payload map[string]any
}

// scriptedForwarder records every orchestration invocation in order and
// answers with scripted outputs, errors or blocking waits per action.
type scriptedForwarder struct {
	mu       sync.Mutex
	calls    []invocation
	outputs  map[string]map[string]any
	failures map[string]error
	blocks   map[string]chan struct{}
}

func newScriptedForwarder() *scriptedForwarder {
	return &scriptedForwarder{
		outputs:  make(map[string]map[string]any),
		failures: make(map[string]error),
		blocks:   make(map[string]chan struct{}),
	}
}

func (f *scriptedForwarder) Forward(context.Context, *gateway.ServiceDescriptor, *gateway.ForwardRequest) (*gateway.ForwardResult, error) {
	return nil, errors.New("not used by orchestration")
}

func (f *scriptedForwarder) Invoke(_ context.Context, descriptor *gateway.ServiceDescriptor, action string, payload map[string]any, _ time.Duration) (map[string]any, error) {
	copied := make(map[string]any, len(payload))
	for k, v := range payload {
		copied[k] = v
	}

	f.mu.Lock()
	f.calls = append(f.calls, invocation{service: descriptor.Name, action: action, payload: copied})
	block := f.blocks[action]
	err := f.failures[action]
	output := f.outputs[action]
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	if output == nil {
		return map[string]any{}, nil
	}
	return output, nil
}

func (f *scriptedForwarder) returnOutput(action string, output map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outputs[action] = output
}

func (f *scriptedForwarder) failOn(action string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[action] = err
}

// blockOn makes the action hang until the returned release function is
// called. Release is safe to call more than once.
func (f *scriptedForwarder) blockOn(action string) func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.blocks[action] = ch
	f.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *scriptedForwarder) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, call := range f.calls {
		out[i] = call.action
	}
	return out
}

func (f *scriptedForwarder) countOf(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, call := range f.calls {
		if call.action == action {
			n++
		}
	}
	return n
}

func (f *scriptedForwarder) payloadFor(action string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, call := range f.calls {
		if call.action == action {
			return call.payload
		}
	}
	return nil
}

type orchestratorHarness struct {
	workflows *WorkflowOrchestrator
	sagas     *SagaOrchestrator
	wfStore   *statestore.InMemoryWorkflowStore
	sagaStore *statestore.InMemorySagaStore
	breaker   *circuitbreaker.Breaker
	forwarder *scriptedForwarder
	pool      *scheduler.Pool
}

func newOrchestratorHarness(t *testing.T, services ...string) *orchestratorHarness {
	return newOrchestratorHarnessWithPool(t, scheduler.Config{Workers: 2, QueueSize: 16}, services...)
}

func newOrchestratorHarnessWithPool(t *testing.T, poolCfg scheduler.Config, services ...string) *orchestratorHarness {
	t.Helper()

	pool := scheduler.NewPool(poolCfg, zap.NewNop())
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	reg := registry.NewInMemoryServiceRegistry()
	for _, name := range services {
		require.NoError(t, reg.Register(context.Background(), gateway.NewServiceDescriptor(name, "http://"+name+".internal")))
	}

	breaker := circuitbreaker.NewBreaker(5, time.Minute, zap.NewNop())
	forwarder := newScriptedForwarder()
	wfStore := statestore.NewInMemoryWorkflowStore()
	sagaStore := statestore.NewInMemorySagaStore()
	cfg := DefaultOrchestratorConfig()

	return &orchestratorHarness{
		workflows: NewWorkflowOrchestrator(wfStore, reg, breaker, forwarder, pool, cfg, zap.NewNop()),
		sagas:     NewSagaOrchestrator(sagaStore, reg, breaker, forwarder, pool, cfg, zap.NewNop()),
		wfStore:   wfStore,
		sagaStore: sagaStore,
		breaker:   breaker,
		forwarder: forwarder,
		pool:      pool,
	}
}

func (h *orchestratorHarness) awaitWorkflow(t *testing.T, id string) *orchestration.WorkflowState {
	t.Helper()
	require.Eventually(t, func() bool {
		state, err := h.wfStore.Get(context.Background(), id)
		return err == nil && state.Terminal()
	}, 2*time.Second, 5*time.Millisecond)

	state, err := h.wfStore.Get(context.Background(), id)
	require.NoError(t, err)
	return state
}

func (h *orchestratorHarness) awaitSaga(t *testing.T, id string) *orchestration.SagaState {
	t.Helper()
	require.Eventually(t, func() bool {
		state, err := h.sagaStore.Get(context.Background(), id)
		return err == nil && state.Terminal()
	}, 2*time.Second, 5*time.Millisecond)

	state, err := h.sagaStore.Get(context.Background(), id)
	require.NoError(t, err)
	return state
}

func requireDomainError(t *testing.T, err error, code string) *shared.DomainError {
	t.Helper()
	var domainErr *shared.DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, code, domainErr.Code)
	return domainErr
}

func TestWorkflowOrchestrator_Start(t *testing.T) {
	ctx := context.Background()
	validSteps := []orchestration.WorkflowStep{{Service: "payments", Action: "reserve_funds"}}

	t.Run("requires an id", func(t *testing.T) {
		h := newOrchestratorHarness(t, "payments")
		err := h.workflows.Start(ctx, "  ", validSteps)
		domainErr := requireDomainError(t, err, "INVALID_INPUT")
		assert.Equal(t, "Workflow id is required", domainErr.Message)
	})

	t.Run("requires at least one step", func(t *testing.T) {
		h := newOrchestratorHarness(t, "payments")
		err := h.workflows.Start(ctx, "wf-1", nil)
		domainErr := requireDomainError(t, err, "INVALID_INPUT")
		assert.Equal(t, "Workflow requires at least one step", domainErr.Message)
	})

	t.Run("requires service and action on every step", func(t *testing.T) {
		h := newOrchestratorHarness(t, "payments")
		err := h.workflows.Start(ctx, "wf-1", []orchestration.WorkflowStep{{Service: "payments"}})
		domainErr := requireDomainError(t, err, "INVALID_INPUT")
		assert.Equal(t, "Workflow steps require service and action", domainErr.Message)
	})

	t.Run("rejects a duplicate id", func(t *testing.T) {
		h := newOrchestratorHarness(t, "payments")
		require.NoError(t, h.workflows.Start(ctx, "wf-1", validSteps))

		err := h.workflows.Start(ctx, "wf-1", validSteps)
		domainErr := requireDomainError(t, err, "ALREADY_EXISTS")
		assert.Contains(t, domainErr.Message, "wf-1")
	})
}

func TestWorkflowOrchestrator_CompletesInOrder(t *testing.T) {
	ctx := context.Background()
	h := newOrchestratorHarness(t, "payments", "inventory", "shipping")
	h.forwarder.returnOutput("reserve_funds", map[string]any{"payment_id": "pay-1"})
	h.forwarder.returnOutput("reserve_stock", map[string]any{"reservation_id": "res-7"})

	steps := []orchestration.WorkflowStep{
		{Service: "payments", Action: "reserve_funds", Payload: map[string]any{"amount": 100}},
		{Service: "inventory", Action: "reserve_stock", Payload: map[string]any{"sku": "A-1"}},
		{Service: "shipping", Action: "create_shipment"},
	}
	require.NoError(t, h.workflows.Start(ctx, "wf-order-1", steps))

	state := h.awaitWorkflow(t, "wf-order-1")
	assert.Equal(t, orchestration.WorkflowStatusCompleted, state.Status)
	assert.Empty(t, state.Error)
	require.NotNil(t, state.FinishedAt)
	assert.Equal(t, 2, state.CurrentStep)

	require.Len(t, state.StepResults, 3)
	assert.Equal(t, 0, state.StepResults[0].Index)
	assert.Equal(t, map[string]any{"payment_id": "pay-1"}, state.StepResults[0].Output)
	assert.Equal(t, "inventory", state.StepResults[1].Service)
	assert.Equal(t, "create_shipment", state.StepResults[2].Action)

	assert.Equal(t, []string{"reserve_funds", "reserve_stock", "create_shipment"}, h.forwarder.actions())
	assert.Equal(t, map[string]any{"amount": 100}, h.forwarder.payloadFor("reserve_funds"))
}

func TestWorkflowOrchestrator_RollbackOnFailure(t *testing.T) {
	ctx := context.Background()
	h := newOrchestratorHarness(t, "payments", "inventory", "shipping")
	h.forwarder.returnOutput("reserve_funds", map[string]any{"payment_id": "pay-1"})
	h.forwarder.returnOutput("reserve_stock", map[string]any{"reservation_id": "res-7"})
	h.forwarder.failOn("create_shipment", errors.New("no couriers available"))

	steps := []orchestration.WorkflowStep{
		{Service: "payments", Action: "reserve_funds", Payload: map[string]any{"amount": 100}},
		{Service: "inventory", Action: "reserve_stock", RollbackAction: "release_stock"},
		{Service: "shipping", Action: "create_shipment"},
	}
	require.NoError(t, h.workflows.Start(ctx, "wf-order-2", steps))

	state := h.awaitWorkflow(t, "wf-order-2")
	assert.Equal(t, orchestration.WorkflowStatusFailed, state.Status)
	assert.Contains(t, state.Error, "step 2 (shipping.create_shipment) failed")
	assert.Contains(t, state.Error, "no couriers available")
	require.Len(t, state.StepResults, 2)

	// Completed steps roll back in reverse: the explicit rollback action
	// for the second step, the default name for the first
	assert.Equal(t, []string{
		"reserve_funds", "reserve_stock", "create_shipment",
		"release_stock", "rollback_reserve_funds",
	}, h.forwarder.actions())

	// The rollback payload carries the request and the step's output
	payload := h.forwarder.payloadFor("rollback_reserve_funds")
	assert.Equal(t, 100, payload["amount"])
	assert.Equal(t, "pay-1", payload["payment_id"])

	assert.Equal(t, 1, h.breaker.Snapshot("shipping").ConsecutiveFailures)
}

func TestWorkflowOrchestrator_RollbackFailuresDoNotStopRemaining(t *testing.T) {
	ctx := context.Background()
	h := newOrchestratorHarness(t, "payments", "inventory", "shipping")
	h.forwarder.failOn("create_shipment", errors.New("boom"))
	h.forwarder.failOn("rollback_reserve_stock", errors.New("stock service down"))

	steps := []orchestration.WorkflowStep{
		{Service: "payments", Action: "reserve_funds"},
		{Service: "inventory", Action: "reserve_stock"},
		{Service: "shipping", Action: "create_shipment"},
	}
	require.NoError(t, h.workflows.Start(ctx, "wf-order-3", steps))

	state := h.awaitWorkflow(t, "wf-order-3")
	assert.Equal(t, orchestration.WorkflowStatusFailed, state.Status)
	assert.Equal(t, []string{
		"reserve_funds", "reserve_stock", "create_shipment",
		"rollback_reserve_stock", "rollback_reserve_funds",
	}, h.forwarder.actions())
}

func TestWorkflowOrchestrator_OpenBreakerFailsStep(t *testing.T) {
	ctx := context.Background()
	h := newOrchestratorHarness(t, "payments", "shipping")
	for i := 0; i < 5; i++ {
		h.breaker.RecordFailure("shipping")
	}

	steps := []orchestration.WorkflowStep{
		{Service: "payments", Action: "reserve_funds"},
		{Service: "shipping", Action: "create_shipment"},
	}
	require.NoError(t, h.workflows.Start(ctx, "wf-order-4", steps))

	state := h.awaitWorkflow(t, "wf-order-4")
	assert.Equal(t, orchestration.WorkflowStatusFailed, state.Status)
	assert.Contains(t, state.Error, `circuit breaker open for service "shipping"`)

	// The gated step never reaches the forwarder and the rejection does
	// not count as another breaker failure
	assert.Equal(t, []string{"reserve_funds", "rollback_reserve_funds"}, h.forwarder.actions())
	assert.Equal(t, 5, h.breaker.Snapshot("shipping").ConsecutiveFailures)
}

func TestWorkflowOrchestrator_UnknownServiceFailsStep(t *testing.T) {
	ctx := context.Background()
	h := newOrchestratorHarness(t, "payments")

	steps := []orchestration.WorkflowStep{{Service: "ghost", Action: "do_thing"}}
	require.NoError(t, h.workflows.Start(ctx, "wf-order-5", steps))

	state := h.awaitWorkflow(t, "wf-order-5")
	assert.Equal(t, orchestration.WorkflowStatusFailed, state.Status)
	assert.Contains(t, state.Error, "not registered")
	assert.Empty(t, h.forwarder.actions())
}

func TestWorkflowOrchestrator_Cancel(t *testing.T) {
	ctx := context.Background()

	t.Run("cancels before the first step starts", func(t *testing.T) {
		h := newOrchestratorHarnessWithPool(t, scheduler.Config{Workers: 1, QueueSize: 16}, "payments")

		// Occupy the only worker so the workflow job stays queued
		blocker := make(chan struct{})
		var once sync.Once
		release := func() { once.Do(func() { close(blocker) }) }
		t.Cleanup(release)
		require.NoError(t, h.pool.Submit(scheduler.NewJob("blocker", func(context.Context) error {
			<-blocker
			return nil
		})))

		steps := []orchestration.WorkflowStep{{Service: "payments", Action: "reserve_funds"}}
		require.NoError(t, h.workflows.Start(ctx, "wf-cancel-1", steps))
		require.NoError(t, h.workflows.Cancel(ctx, "wf-cancel-1"))

		state, err := h.workflows.Get(ctx, "wf-cancel-1")
		require.NoError(t, err)
		assert.Equal(t, orchestration.WorkflowStatusCancelled, state.Status)

		release()
		state = h.awaitWorkflow(t, "wf-cancel-1")
		assert.Equal(t, orchestration.WorkflowStatusCancelled, state.Status)
		assert.Empty(t, h.forwarder.actions(), "no step may run after cancellation")
	})

	t.Run("fails once the first step has started", func(t *testing.T) {
		h := newOrchestratorHarness(t, "payments")
		release := h.forwarder.blockOn("slow_action")
		t.Cleanup(release)

		steps := []orchestration.WorkflowStep{{Service: "payments", Action: "slow_action"}}
		require.NoError(t, h.workflows.Start(ctx, "wf-cancel-2", steps))
		require.Eventually(t, func() bool {
			return h.forwarder.countOf("slow_action") == 1
		}, 2*time.Second, 5*time.Millisecond)

		err := h.workflows.Cancel(ctx, "wf-cancel-2")
		domainErr := requireDomainError(t, err, "INVALID_STATE")
		assert.Equal(t, "Workflow has already started executing", domainErr.Message)

		release()
		state := h.awaitWorkflow(t, "wf-cancel-2")
		assert.Equal(t, orchestration.WorkflowStatusCompleted, state.Status)
	})

	t.Run("fails for a finished workflow", func(t *testing.T) {
		h := newOrchestratorHarness(t, "payments")
		steps := []orchestration.WorkflowStep{{Service: "payments", Action: "reserve_funds"}}
		require.NoError(t, h.workflows.Start(ctx, "wf-cancel-3", steps))
		h.awaitWorkflow(t, "wf-cancel-3")

		err := h.workflows.Cancel(ctx, "wf-cancel-3")
		domainErr := requireDomainError(t, err, "INVALID_STATE")
		assert.Equal(t, "Workflow has already finished", domainErr.Message)
	})

	t.Run("fails for an unknown workflow", func(t *testing.T) {
		h := newOrchestratorHarness(t)
		err := h.workflows.Cancel(ctx, "ghost")
		require.ErrorIs(t, err, shared.ErrNotFound)
	})
}

func TestWorkflowOrchestrator_List(t *testing.T) {
	ctx := context.Background()
	h := newOrchestratorHarness(t, "payments")

	steps := []orchestration.WorkflowStep{{Service: "payments", Action: "reserve_funds"}}
	require.NoError(t, h.workflows.Start(ctx, "wf-a", steps))
	require.NoError(t, h.workflows.Start(ctx, "wf-b", steps))
	h.awaitWorkflow(t, "wf-a")
	h.awaitWorkflow(t, "wf-b")

	states, err := h.workflows.List(ctx)
	require.NoError(t, err)
	assert.Len(t, states, 2)
}
