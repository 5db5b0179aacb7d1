// Package cqrs holds the command/query/event model of the orchestration
// core: the append-only event contract, command and query shapes, and the
// handler and store interfaces the bus is built on.
package cqrs

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies an event on the bus. Subscriptions are keyed by
// this type; EventTypeWildcard receives everything.
type EventType string

const (
	EventTypeCommand     EventType = "command"
	EventTypeQuery       EventType = "query"
	EventTypeDomain      EventType = "domain_event"
	EventTypeIntegration EventType = "integration_event"

	EventTypeWildcard EventType = "*"
)

// APIEvent is one immutable entry of the event log. Once appended it is
// never mutated or deleted; readers always observe append order. Version
// increases monotonically per aggregate.
type APIEvent struct {
	ID            string         `json:"id"`
	Type          EventType      `json:"type"`
	AggregateID   string         `json:"aggregateId"`
	AggregateType string         `json:"aggregateType"`
	Payload       map[string]any `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Version       int            `json:"version"`
	CorrelationID string         `json:"correlationId,omitempty"`
	CausationID   string         `json:"causationId,omitempty"`
}

// NewEvent creates a domain event for an aggregate. The bus stamps
// version, correlation and causation when the event passes through
// Execute.
func NewEvent(eventType EventType, aggregateID, aggregateType string, payload map[string]any) APIEvent {
	return APIEvent{
		ID:            uuid.NewString(),
		Type:          eventType,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}
