package statestore

import (
	"context"
	"sort"
	"sync"

	"github.com/ecomhub/gateway/internal/domain/orchestration"
	"github.com/ecomhub/gateway/internal/domain/shared"
)

// InMemoryWorkflowStore implements orchestration.WorkflowStore with a
// process-local map. States are deep-copied on save and read so the
// orchestrator's live instance never aliases a stored one.
type InMemoryWorkflowStore struct {
	mu        sync.RWMutex
	workflows map[string]*orchestration.WorkflowState
}

// NewInMemoryWorkflowStore creates a new InMemoryWorkflowStore
func NewInMemoryWorkflowStore() *InMemoryWorkflowStore {
	return &InMemoryWorkflowStore{
		workflows: make(map[string]*orchestration.WorkflowState),
	}
}

// Save stores a deep copy of the instance keyed by id
func (s *InMemoryWorkflowStore) Save(_ context.Context, state *orchestration.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[state.ID] = copyWorkflowState(state)
	return nil
}

// Get finds a workflow instance by id
func (s *InMemoryWorkflowStore) Get(_ context.Context, id string) (*orchestration.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.workflows[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return copyWorkflowState(state), nil
}

// List returns all workflow instances ordered by start time
func (s *InMemoryWorkflowStore) List(_ context.Context) ([]*orchestration.WorkflowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*orchestration.WorkflowState, 0, len(s.workflows))
	for _, state := range s.workflows {
		states = append(states, copyWorkflowState(state))
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].StartedAt.Equal(states[j].StartedAt) {
			return states[i].ID < states[j].ID
		}
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
	return states, nil
}

// Ensure InMemoryWorkflowStore implements WorkflowStore
var _ orchestration.WorkflowStore = (*InMemoryWorkflowStore)(nil)

// InMemorySagaStore implements orchestration.SagaStore with a
// process-local map and the same copy-on-read semantics.
type InMemorySagaStore struct {
	mu    sync.RWMutex
	sagas map[string]*orchestration.SagaState
}

// NewInMemorySagaStore creates a new InMemorySagaStore
func NewInMemorySagaStore() *InMemorySagaStore {
	return &InMemorySagaStore{
		sagas: make(map[string]*orchestration.SagaState),
	}
}

// Save stores a deep copy of the instance keyed by id
func (s *InMemorySagaStore) Save(_ context.Context, state *orchestration.SagaState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sagas[state.ID] = copySagaState(state)
	return nil
}

// Get finds a saga instance by id
func (s *InMemorySagaStore) Get(_ context.Context, id string) (*orchestration.SagaState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sagas[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return copySagaState(state), nil
}

// List returns all saga instances ordered by start time
func (s *InMemorySagaStore) List(_ context.Context) ([]*orchestration.SagaState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*orchestration.SagaState, 0, len(s.sagas))
	for _, state := range s.sagas {
		states = append(states, copySagaState(state))
	}
	sort.Slice(states, func(i, j int) bool {
		if states[i].StartedAt.Equal(states[j].StartedAt) {
			return states[i].ID < states[j].ID
		}
		return states[i].StartedAt.Before(states[j].StartedAt)
	})
	return states, nil
}

// Ensure InMemorySagaStore implements SagaStore
var _ orchestration.SagaStore = (*InMemorySagaStore)(nil)

func copyWorkflowState(state *orchestration.WorkflowState) *orchestration.WorkflowState {
	clone := *state

	clone.Steps = make([]orchestration.WorkflowStep, len(state.Steps))
	for i, step := range state.Steps {
		clone.Steps[i] = step
		clone.Steps[i].Payload = copyMap(step.Payload)
	}

	if state.StepResults != nil {
		clone.StepResults = make([]orchestration.StepResult, len(state.StepResults))
		for i, result := range state.StepResults {
			clone.StepResults[i] = result
			clone.StepResults[i].Output = copyMap(result.Output)
		}
	}

	if state.FinishedAt != nil {
		finished := *state.FinishedAt
		clone.FinishedAt = &finished
	}
	return &clone
}

func copySagaState(state *orchestration.SagaState) *orchestration.SagaState {
	clone := *state
	clone.Data = copyMap(state.Data)

	if state.CompletedSteps != nil {
		clone.CompletedSteps = make([]string, len(state.CompletedSteps))
		copy(clone.CompletedSteps, state.CompletedSteps)
	}

	if state.FinishedAt != nil {
		finished := *state.FinishedAt
		clone.FinishedAt = &finished
	}
	return &clone
}

// copyMap shallow-copies one level of a payload map. Nested values are
// shared; orchestration payloads are treated as immutable once built.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
