// Package orchestration holds the workflow and saga state machines: step
// definitions, instance state, and the store contracts the orchestrators
// persist through.
package orchestration

import (
	"time"
)

// WorkflowStatus is the lifecycle state of a workflow instance.
// running is the only non-terminal state; cancelled is reachable only
// before the first step starts.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// WorkflowStep is one ordered unit of a workflow. RollbackAction names
// the downstream action undoing this step; empty means rollback_<action>.
type WorkflowStep struct {
	Service        string         `json:"service"`
	Action         string         `json:"action"`
	Payload        map[string]any `json:"payload,omitempty"`
	TimeoutMs      int            `json:"timeoutMs,omitempty"`
	RollbackAction string         `json:"rollbackAction,omitempty"`
}

// ResolveRollbackAction returns the action invoked when this step is
// rolled back.
func (s WorkflowStep) ResolveRollbackAction() string {
	if s.RollbackAction != "" {
		return s.RollbackAction
	}
	return "rollback_" + s.Action
}

// ResolveTimeout converts the step timeout, falling back to the given
// default when unset.
func (s WorkflowStep) ResolveTimeout(fallback time.Duration) time.Duration {
	if s.TimeoutMs > 0 {
		return time.Duration(s.TimeoutMs) * time.Millisecond
	}
	return fallback
}

// StepResult records a completed step's downstream output.
type StepResult struct {
	Index   int            `json:"index"`
	Service string         `json:"service"`
	Action  string         `json:"action"`
	Output  map[string]any `json:"output,omitempty"`
}

// WorkflowState is one workflow instance. Steps run strictly in order;
// on failure the completed steps are rolled back in reverse before the
// instance turns failed.
type WorkflowState struct {
	ID          string         `json:"id"`
	Status      WorkflowStatus `json:"status"`
	Steps       []WorkflowStep `json:"steps"`
	CurrentStep int            `json:"currentStep"`
	StepResults []StepResult   `json:"stepResults,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"startedAt"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
}

// Terminal reports whether the workflow reached a final status.
func (w *WorkflowState) Terminal() bool {
	return w.Status != WorkflowStatusRunning
}

// NewWorkflowState creates a running instance positioned before the
// first step.
func NewWorkflowState(id string, steps []WorkflowStep) *WorkflowState {
	return &WorkflowState{
		ID:          id,
		Status:      WorkflowStatusRunning,
		Steps:       steps,
		CurrentStep: 0,
		StartedAt:   time.Now().UTC(),
	}
}
