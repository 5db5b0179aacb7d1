package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/ecomhub/gateway/internal/domain/cqrs"
	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/ecomhub/gateway/internal/domain/orchestration"
	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/ecomhub/gateway/internal/infrastructure/eventstore"
	"github.com/ecomhub/gateway/internal/infrastructure/registry"
	"github.com/ecomhub/gateway/internal/infrastructure/statestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainer()
	os.Exit(code)
}

// TestEventStore_AppendAndRead verifies the append-only log against a
// real PostgreSQL instance: append order, per-aggregate reads, version
// tracking and event-id deduplication.
func TestEventStore_AppendAndRead(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := NewTestDB(t)
	store := eventstore.NewGormEventStore(tdb.DB)
	ctx := context.Background()

	first := cqrs.NewEvent(cqrs.EventTypeDomain, "order-1", "order", map[string]any{
		"eventType": "order_created",
		"sku":       "A1",
	})
	first.Version = 1
	second := cqrs.NewEvent(cqrs.EventTypeDomain, "order-1", "order", map[string]any{
		"eventType": "order_updated",
	})
	second.Version = 2
	other := cqrs.NewEvent(cqrs.EventTypeDomain, "order-2", "order", map[string]any{
		"eventType": "order_created",
	})
	other.Version = 1

	require.NoError(t, store.Append(ctx, &first))
	require.NoError(t, store.Append(ctx, &second))
	require.NoError(t, store.Append(ctx, &other))

	// Re-appending the same event id is rejected and the log keeps the
	// stored event
	duplicate := first
	duplicate.Payload = map[string]any{"eventType": "tampered"}
	err := store.Append(ctx, &duplicate)
	require.ErrorIs(t, err, cqrs.ErrDuplicateEvent)

	all, err := store.Events(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, other.ID, all[2].ID)
	assert.Equal(t, "order_created", all[0].Payload["eventType"])

	forAggregate, err := store.EventsForAggregate(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, forAggregate, 2)
	assert.Equal(t, first.ID, forAggregate[0].ID)
	assert.Equal(t, second.ID, forAggregate[1].ID)

	version, err := store.AggregateVersion(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	version, err = store.AggregateVersion(ctx, "order-404")
	require.NoError(t, err)
	assert.Equal(t, 0, version)
}

// TestServiceRegistry_RoundTrip verifies register/get/list/deregister
// and that re-registering a name replaces the stored descriptor.
func TestServiceRegistry_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := NewSharedTestDB(t)
	tdb.CleanTables()
	reg := registry.NewGormServiceRegistry(tdb.DB)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, &gateway.ServiceDescriptor{
		Name:         "orders",
		BaseURL:      "http://orders:8080",
		AuthRequired: true,
	}))
	require.NoError(t, reg.Register(ctx, &gateway.ServiceDescriptor{
		Name:             "inventory",
		BaseURL:          "http://inventory:8080",
		RateLimitPerHour: gateway.RateLimitUnlimited,
	}))

	got, err := reg.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "http://orders:8080", got.BaseURL)
	assert.True(t, got.AuthRequired)
	// Registration defaults were applied
	assert.Equal(t, gateway.DefaultTimeout, got.Timeout)
	assert.Equal(t, gateway.DefaultRateLimitPerHour, got.RateLimitPerHour)
	assert.Equal(t, gateway.DefaultHealthEndpoint, got.HealthEndpoint)

	got, err = reg.Get(ctx, "inventory")
	require.NoError(t, err)
	assert.True(t, got.Unlimited())

	// Re-registering the same name replaces the descriptor in place
	require.NoError(t, reg.Register(ctx, &gateway.ServiceDescriptor{
		Name:    "orders",
		BaseURL: "http://orders-v2:8080",
		Timeout: 5 * time.Second,
	}))
	got, err = reg.Get(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "http://orders-v2:8080", got.BaseURL)
	assert.Equal(t, 5*time.Second, got.Timeout)

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "inventory", list[0].Name)
	assert.Equal(t, "orders", list[1].Name)

	require.NoError(t, reg.Deregister(ctx, "inventory"))
	_, err = reg.Get(ctx, "inventory")
	require.ErrorIs(t, err, shared.ErrNotFound)
	err = reg.Deregister(ctx, "inventory")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

// TestStateStores_RoundTrip verifies workflow and saga instance state
// survives a save/load cycle with steps and results intact.
func TestStateStores_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tdb := NewSharedTestDB(t)
	ctx := context.Background()

	// The rolled-back transaction keeps this test invisible to the
	// other tests on the shared container
	tdb.WithTransaction(func(tx *gorm.DB) {
		workflows := statestore.NewGormWorkflowStore(tx)
		workflow := orchestration.NewWorkflowState("wf-1", []orchestration.WorkflowStep{
			{Service: "inventory", Action: "reserve_stock", Payload: map[string]any{"sku": "A1"}},
			{Service: "payments", Action: "charge", TimeoutMs: 2000},
		})
		require.NoError(t, workflows.Save(ctx, workflow))

		workflow.CurrentStep = 1
		workflow.StepResults = append(workflow.StepResults, orchestration.StepResult{
			Index:   0,
			Service: "inventory",
			Action:  "reserve_stock",
			Output:  map[string]any{"reservationId": "r-9"},
		})
		require.NoError(t, workflows.Save(ctx, workflow))

		loaded, err := workflows.Get(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, orchestration.WorkflowStatusRunning, loaded.Status)
		assert.Equal(t, 1, loaded.CurrentStep)
		require.Len(t, loaded.Steps, 2)
		assert.Equal(t, "rollback_reserve_stock", loaded.Steps[0].ResolveRollbackAction())
		require.Len(t, loaded.StepResults, 1)
		assert.Equal(t, "r-9", loaded.StepResults[0].Output["reservationId"])

		_, err = workflows.Get(ctx, "wf-404")
		require.ErrorIs(t, err, shared.ErrNotFound)

		sagas := statestore.NewGormSagaStore(tx)
		saga := orchestration.NewSagaState("saga-1", "order_fulfillment", map[string]any{
			"orderId": "o-1",
		})
		saga.CurrentStep = 2
		saga.CompletedSteps = []string{"reserve_stock", "charge_payment"}
		saga.Status = orchestration.SagaStatusFailed
		saga.Error = "create_shipment: timeout"
		now := time.Now().UTC()
		saga.FinishedAt = &now
		require.NoError(t, sagas.Save(ctx, saga))

		loadedSaga, err := sagas.Get(ctx, "saga-1")
		require.NoError(t, err)
		assert.Equal(t, orchestration.SagaStatusFailed, loadedSaga.Status)
		assert.True(t, loadedSaga.Terminal())
		assert.Equal(t, []string{"reserve_stock", "charge_payment"}, loadedSaga.CompletedSteps)
		assert.Equal(t, "o-1", loadedSaga.Data["orderId"])
		require.NotNil(t, loadedSaga.FinishedAt)

		sagaList, err := sagas.List(ctx)
		require.NoError(t, err)
		require.Len(t, sagaList, 1)
	})
}
