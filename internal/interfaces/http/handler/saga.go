package handler

import (
	orchestrationapp "github.com/ecomhub/gateway/internal/application/orchestration"
	"github.com/gin-gonic/gin"
)

// SagaHandler handles saga orchestration endpoints
type SagaHandler struct {
	BaseHandler
	orchestrator *orchestrationapp.SagaOrchestrator
}

// NewSagaHandler creates a new SagaHandler
func NewSagaHandler(orchestrator *orchestrationapp.SagaOrchestrator) *SagaHandler {
	return &SagaHandler{
		orchestrator: orchestrator,
	}
}

// StartSagaRequest represents a request to start a saga instance
type StartSagaRequest struct {
	Type        string         `json:"type" binding:"required"`
	InitialData map[string]any `json:"initialData"`
}

// Start schedules a saga instance of a registered definition and
// returns 202 with the generated id.
func (h *SagaHandler) Start(c *gin.Context) {
	var req StartSagaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	sagaID, err := h.orchestrator.Start(c.Request.Context(), req.Type, req.InitialData)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Accepted(c, gin.H{"sagaId": sagaID, "type": req.Type})
}

// Get returns the state of one saga instance.
func (h *SagaHandler) Get(c *gin.Context) {
	state, err := h.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, state)
}

// List returns all saga instances.
func (h *SagaHandler) List(c *gin.Context) {
	states, err := h.orchestrator.List(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, states)
}

// Definitions returns the registered saga definitions.
func (h *SagaHandler) Definitions(c *gin.Context) {
	h.Success(c, h.orchestrator.Definitions())
}
