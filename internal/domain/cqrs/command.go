package cqrs

import (
	"fmt"
	"time"

	"github.com/ecomhub/gateway/internal/domain/shared"
	"github.com/google/uuid"
)

// Command is a state-mutating request routed to exactly one handler.
// ExpectedVersion, when positive, is checked against the aggregate's
// current version before the handler runs.
type Command struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	AggregateID     string         `json:"aggregateId"`
	Payload         map[string]any `json:"payload"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
	ExpectedVersion int            `json:"expectedVersion,omitempty"`
}

// NewCommand creates a command with a fresh id and timestamp.
func NewCommand(commandType, aggregateID string, payload map[string]any) Command {
	return Command{
		ID:          uuid.NewString(),
		Type:        commandType,
		AggregateID: aggregateID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}
}

// Validate checks the required fields before dispatch.
func (c Command) Validate() error {
	switch {
	case c.ID == "":
		return fmt.Errorf("command field %q is required: %w", "id", shared.ErrInvalidInput)
	case c.Type == "":
		return fmt.Errorf("command field %q is required: %w", "type", shared.ErrInvalidInput)
	case c.AggregateID == "":
		return fmt.Errorf("command field %q is required: %w", "aggregateId", shared.ErrInvalidInput)
	case c.Payload == nil:
		return fmt.Errorf("command field %q is required: %w", "payload", shared.ErrInvalidInput)
	}
	return nil
}

// CorrelationID resolves the correlation id carried in metadata, falling
// back to the command id so every event chain has one.
func (c Command) CorrelationID() string {
	if c.Metadata != nil {
		if v, ok := c.Metadata["correlationId"].(string); ok && v != "" {
			return v
		}
	}
	return c.ID
}
