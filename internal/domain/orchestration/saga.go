package orchestration

import (
	"time"

	"github.com/ecomhub/gateway/internal/domain/shared"
)

// SagaStatus is the lifecycle state of a saga instance.
type SagaStatus string

const (
	SagaStatusRunning   SagaStatus = "running"
	SagaStatusCompleted SagaStatus = "completed"
	SagaStatusFailed    SagaStatus = "failed"
)

// SagaStep is one ordered unit of a saga. Each step receives the saga's
// accumulated data as payload and merges its result back into it.
type SagaStep struct {
	Name      string `json:"name"`
	Service   string `json:"service"`
	Action    string `json:"action"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// ResolveTimeout converts the step timeout, falling back to the given
// default when unset.
func (s SagaStep) ResolveTimeout(fallback time.Duration) time.Duration {
	if s.TimeoutMs > 0 {
		return time.Duration(s.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// CompensatingAction undoes saga effects after a step failure. The whole
// list runs on any failure, independent of how far the saga advanced.
type CompensatingAction struct {
	Service   string `json:"service"`
	Action    string `json:"action"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// ResolveTimeout converts the action timeout, falling back to the given
// default when unset.
func (a CompensatingAction) ResolveTimeout(fallback time.Duration) time.Duration {
	if a.TimeoutMs > 0 {
		return time.Duration(a.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// SagaDefinition is a registered saga type: its ordered steps and the
// compensating actions run on failure.
type SagaDefinition struct {
	Type                string               `json:"type"`
	Steps               []SagaStep           `json:"steps"`
	CompensatingActions []CompensatingAction `json:"compensatingActions"`
}

// Validate checks a definition before registration.
func (d SagaDefinition) Validate() error {
	if d.Type == "" {
		return shared.NewDomainError("INVALID_INPUT", "Saga type is required")
	}
	if len(d.Steps) == 0 {
		return shared.NewDomainError("INVALID_INPUT", "Saga definition requires at least one step")
	}
	for _, step := range d.Steps {
		if step.Name == "" || step.Service == "" || step.Action == "" {
			return shared.NewDomainError("INVALID_INPUT", "Saga steps require name, service and action")
		}
	}
	return nil
}

// SagaState is one saga instance.
type SagaState struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Status         SagaStatus     `json:"status"`
	CurrentStep    int            `json:"currentStep"`
	Data           map[string]any `json:"data"`
	CompletedSteps []string       `json:"completedSteps,omitempty"`
	Error          string         `json:"error,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     *time.Time     `json:"finishedAt,omitempty"`
}

// Terminal reports whether the saga reached a final status.
func (s *SagaState) Terminal() bool {
	return s.Status != SagaStatusRunning
}

// NewSagaState creates a running instance seeded with the initial data.
func NewSagaState(id, sagaType string, initialData map[string]any) *SagaState {
	data := make(map[string]any, len(initialData))
	for k, v := range initialData {
		data[k] = v
	}
	return &SagaState{
		ID:        id,
		Type:      sagaType,
		Status:    SagaStatusRunning,
		Data:      data,
		StartedAt: time.Now().UTC(),
	}
}
