package cqrs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ecomhub/gateway/internal/domain/cqrs"
	"github.com/ecomhub/gateway/internal/domain/shared"
)

// OrderAggregateType tags events of the built-in order aggregate.
const OrderAggregateType = "order"

// Order event discriminators, carried in the payload's eventType field.
const (
	OrderEventCreated   = "OrderCreated"
	OrderEventUpdated   = "OrderUpdated"
	OrderEventCancelled = "OrderCancelled"
)

const (
	defaultOrderPage     = 1
	defaultOrderPageSize = 10
)

// orderRecord is the projection's folded view of one order.
type orderRecord struct {
	fields    map[string]any
	status    string
	version   int
	createdAt time.Time
	updatedAt time.Time
}

// OrderProjection folds order events into an in-memory read model. The
// keys id, status, version, createdAt and updatedAt are owned by the
// projection and shadow identically named payload fields.
type OrderProjection struct {
	mu     sync.RWMutex
	orders map[string]*orderRecord
}

// NewOrderProjection creates an empty order read model.
func NewOrderProjection() *OrderProjection {
	return &OrderProjection{
		orders: make(map[string]*orderRecord),
	}
}

// Name implements cqrs.Projection.
func (p *OrderProjection) Name() string {
	return "orders"
}

// Reset clears the read model before a rebuild.
func (p *OrderProjection) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = make(map[string]*orderRecord)
}

// Apply folds one event. Events of other aggregates and unknown order
// event types are ignored, so the projection can subscribe to the full
// domain-event stream.
func (p *OrderProjection) Apply(_ context.Context, event cqrs.APIEvent) error {
	if event.AggregateType != OrderAggregateType {
		return nil
	}
	eventType, _ := event.Payload["eventType"].(string)

	p.mu.Lock()
	defer p.mu.Unlock()

	switch eventType {
	case OrderEventCreated:
		record := &orderRecord{
			fields:    make(map[string]any),
			status:    "created",
			version:   event.Version,
			createdAt: event.Timestamp,
			updatedAt: event.Timestamp,
		}
		if order, ok := event.Payload["order"].(map[string]any); ok {
			for k, v := range order {
				record.fields[k] = v
			}
		}
		p.orders[event.AggregateID] = record

	case OrderEventUpdated:
		record, ok := p.orders[event.AggregateID]
		if !ok {
			return nil
		}
		if changes, ok := event.Payload["changes"].(map[string]any); ok {
			for k, v := range changes {
				record.fields[k] = v
			}
		}
		record.status = "updated"
		record.version = event.Version
		record.updatedAt = event.Timestamp

	case OrderEventCancelled:
		record, ok := p.orders[event.AggregateID]
		if !ok {
			return nil
		}
		record.status = "cancelled"
		record.version = event.Version
		record.updatedAt = event.Timestamp
	}

	return nil
}

// Get returns one order's folded state.
func (p *OrderProjection) Get(orderID string) (map[string]any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	record, ok := p.orders[orderID]
	if !ok {
		return nil, false
	}
	return record.snapshot(orderID), true
}

// List returns orders sorted by creation time, optionally filtered by
// status, windowed by page/pageSize.
func (p *OrderProjection) List(status string, page, pageSize int) ([]map[string]any, int) {
	if page <= 0 {
		page = defaultOrderPage
	}
	if pageSize <= 0 {
		pageSize = defaultOrderPageSize
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	type entry struct {
		id     string
		record *orderRecord
	}
	matched := make([]entry, 0, len(p.orders))
	for id, record := range p.orders {
		if status != "" && record.status != status {
			continue
		}
		matched = append(matched, entry{id: id, record: record})
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].record.createdAt.Equal(matched[j].record.createdAt) {
			return matched[i].record.createdAt.Before(matched[j].record.createdAt)
		}
		return matched[i].id < matched[j].id
	})

	total := len(matched)
	start := (page - 1) * pageSize
	if start >= total {
		return []map[string]any{}, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	orders := make([]map[string]any, 0, end-start)
	for _, e := range matched[start:end] {
		orders = append(orders, e.record.snapshot(e.id))
	}
	return orders, total
}

// snapshot renders a detached copy; callers never see live maps.
func (r *orderRecord) snapshot(orderID string) map[string]any {
	out := make(map[string]any, len(r.fields)+5)
	for k, v := range r.fields {
		out[k] = v
	}
	out["id"] = orderID
	out["status"] = r.status
	out["version"] = r.version
	out["createdAt"] = r.createdAt
	out["updatedAt"] = r.updatedAt
	return out
}

// RegisterOrderHandlers wires the built-in order aggregate: create,
// update and cancel commands, the projection fed by the publisher, and
// the queries serving it. Returns the projection so callers can rebuild
// it from a persistent event log on startup.
func RegisterOrderHandlers(commands *CommandBus, queries *QueryBus, publisher cqrs.EventPublisher) *OrderProjection {
	projection := NewOrderProjection()
	publisher.Subscribe(cqrs.EventTypeDomain, cqrs.EventHandlerFunc(projection.Apply))

	commands.RegisterCommandHandler("create_order", cqrs.CommandHandlerFunc(
		func(_ context.Context, cmd cqrs.Command) ([]cqrs.APIEvent, error) {
			if _, exists := projection.Get(cmd.AggregateID); exists {
				return nil, shared.NewDomainError("ALREADY_EXISTS", fmt.Sprintf("Order %q already exists", cmd.AggregateID))
			}
			event := cqrs.NewEvent(cqrs.EventTypeDomain, cmd.AggregateID, OrderAggregateType, map[string]any{
				"eventType": OrderEventCreated,
				"order":     cmd.Payload,
			})
			return []cqrs.APIEvent{event}, nil
		}))

	commands.RegisterCommandHandler("update_order", cqrs.CommandHandlerFunc(
		func(_ context.Context, cmd cqrs.Command) ([]cqrs.APIEvent, error) {
			current, exists := projection.Get(cmd.AggregateID)
			if !exists {
				return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("Order %q not found", cmd.AggregateID))
			}
			if current["status"] == "cancelled" {
				return nil, shared.NewDomainError("INVALID_STATE", "Cancelled orders cannot be updated")
			}
			event := cqrs.NewEvent(cqrs.EventTypeDomain, cmd.AggregateID, OrderAggregateType, map[string]any{
				"eventType": OrderEventUpdated,
				"changes":   cmd.Payload,
			})
			return []cqrs.APIEvent{event}, nil
		}))

	commands.RegisterCommandHandler("cancel_order", cqrs.CommandHandlerFunc(
		func(_ context.Context, cmd cqrs.Command) ([]cqrs.APIEvent, error) {
			current, exists := projection.Get(cmd.AggregateID)
			if !exists {
				return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("Order %q not found", cmd.AggregateID))
			}
			if current["status"] == "cancelled" {
				return nil, shared.NewDomainError("INVALID_STATE", "Order has already been cancelled")
			}
			payload := map[string]any{"eventType": OrderEventCancelled}
			if reason, ok := cmd.Payload["reason"]; ok {
				payload["reason"] = reason
			}
			event := cqrs.NewEvent(cqrs.EventTypeDomain, cmd.AggregateID, OrderAggregateType, payload)
			return []cqrs.APIEvent{event}, nil
		}))

	queries.RegisterQueryHandler("get_order", cqrs.QueryHandlerFunc(
		func(_ context.Context, q cqrs.Query) (any, error) {
			orderID, _ := q.Filters["id"].(string)
			if orderID == "" {
				return nil, shared.NewDomainError("INVALID_INPUT", "Query filter \"id\" is required")
			}
			order, ok := projection.Get(orderID)
			if !ok {
				return nil, shared.NewDomainError("NOT_FOUND", fmt.Sprintf("Order %q not found", orderID))
			}
			return order, nil
		}))

	queries.RegisterQueryHandler("get_orders", cqrs.QueryHandlerFunc(
		func(_ context.Context, q cqrs.Query) (any, error) {
			status, _ := q.Filters["status"].(string)
			page, pageSize := defaultOrderPage, defaultOrderPageSize
			if q.Pagination != nil {
				if q.Pagination.Page > 0 {
					page = q.Pagination.Page
				}
				if q.Pagination.PageSize > 0 {
					pageSize = q.Pagination.PageSize
				}
			}
			orders, total := projection.List(status, page, pageSize)
			return map[string]any{
				"orders":   orders,
				"total":    total,
				"page":     page,
				"pageSize": pageSize,
			}, nil
		}))

	return projection
}
