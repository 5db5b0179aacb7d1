package orchestration

import "context"

// WorkflowStore persists workflow instances. Get returns
// shared.ErrNotFound for unknown ids.
type WorkflowStore interface {
	Save(ctx context.Context, state *WorkflowState) error
	Get(ctx context.Context, id string) (*WorkflowState, error)
	List(ctx context.Context) ([]*WorkflowState, error)
}

// SagaStore persists saga instances. Get returns shared.ErrNotFound for
// unknown ids.
type SagaStore interface {
	Save(ctx context.Context, state *SagaState) error
	Get(ctx context.Context, id string) (*SagaState, error)
	List(ctx context.Context) ([]*SagaState, error)
}
