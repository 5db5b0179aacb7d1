package handler

import (
	orchestrationapp "github.com/ecomhub/gateway/internal/application/orchestration"
	"github.com/ecomhub/gateway/internal/domain/orchestration"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WorkflowHandler handles workflow orchestration endpoints
type WorkflowHandler struct {
	BaseHandler
	orchestrator *orchestrationapp.WorkflowOrchestrator
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(orchestrator *orchestrationapp.WorkflowOrchestrator) *WorkflowHandler {
	return &WorkflowHandler{
		orchestrator: orchestrator,
	}
}

// StartWorkflowRequest represents a request to start a workflow
type StartWorkflowRequest struct {
	WorkflowID string                `json:"workflowId" binding:"omitempty,max=100"`
	Steps      []WorkflowStepRequest `json:"steps" binding:"required,min=1,dive"`
}

// WorkflowStepRequest represents one step of a workflow
type WorkflowStepRequest struct {
	Service        string         `json:"service" binding:"required"`
	Action         string         `json:"action" binding:"required"`
	Payload        map[string]any `json:"payload"`
	TimeoutMs      int            `json:"timeoutMs" binding:"omitempty,gte=0"`
	RollbackAction string         `json:"rollbackAction"`
}

func (r *StartWorkflowRequest) steps() []orchestration.WorkflowStep {
	steps := make([]orchestration.WorkflowStep, 0, len(r.Steps))
	for _, step := range r.Steps {
		steps = append(steps, orchestration.WorkflowStep{
			Service:        step.Service,
			Action:         step.Action,
			Payload:        step.Payload,
			TimeoutMs:      step.TimeoutMs,
			RollbackAction: step.RollbackAction,
		})
	}
	return steps
}

// Start schedules a workflow on the worker pool and returns 202; the
// caller polls Get for progress.
func (h *WorkflowHandler) Start(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	workflowID := req.WorkflowID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	if err := h.orchestrator.Start(c.Request.Context(), workflowID, req.steps()); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Accepted(c, gin.H{"workflowId": workflowID})
}

// Get returns the state of one workflow instance.
func (h *WorkflowHandler) Get(c *gin.Context) {
	state, err := h.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, state)
}

// List returns all workflow instances.
func (h *WorkflowHandler) List(c *gin.Context) {
	states, err := h.orchestrator.List(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, states)
}

// Cancel stops a workflow that has not begun executing.
func (h *WorkflowHandler) Cancel(c *gin.Context) {
	workflowID := c.Param("id")
	if err := h.orchestrator.Cancel(c.Request.Context(), workflowID); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, gin.H{"workflowId": workflowID, "status": string(orchestration.WorkflowStatusCancelled)})
}
