package handler

import (
	cqrsapp "github.com/ecomhub/gateway/internal/application/cqrs"
	"github.com/ecomhub/gateway/internal/domain/cqrs"
	"github.com/gin-gonic/gin"
)

// DispatchHandler handles command and query submission endpoints
type DispatchHandler struct {
	BaseHandler
	commands *cqrsapp.CommandBus
	queries  *cqrsapp.QueryBus
}

// NewDispatchHandler creates a new DispatchHandler
func NewDispatchHandler(commands *cqrsapp.CommandBus, queries *cqrsapp.QueryBus) *DispatchHandler {
	return &DispatchHandler{
		commands: commands,
		queries:  queries,
	}
}

// ExecuteCommandRequest represents a command submitted to the bus
type ExecuteCommandRequest struct {
	Type            string         `json:"type" binding:"required"`
	AggregateID     string         `json:"aggregateId" binding:"required"`
	Payload         map[string]any `json:"payload"`
	Metadata        map[string]any `json:"metadata"`
	ExpectedVersion int            `json:"expectedVersion" binding:"omitempty,gte=0"`
}

// CommandResultResponse carries the events a command produced
type CommandResultResponse struct {
	CommandID string          `json:"commandId"`
	Events    []cqrs.APIEvent `json:"events"`
}

// RunQueryRequest represents a query submitted to the bus
type RunQueryRequest struct {
	Type        string           `json:"type" binding:"required"`
	Filters     map[string]any   `json:"filters"`
	Pagination  *cqrs.Pagination `json:"pagination"`
	Projections []string         `json:"projections"`
}

// ExecuteCommand dispatches one command and returns the events it
// produced. Payload validation beyond presence belongs to the handler
// registered for the command type.
func (h *DispatchHandler) ExecuteCommand(c *gin.Context) {
	var req ExecuteCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	cmd := cqrs.NewCommand(req.Type, req.AggregateID, req.Payload)
	cmd.Metadata = req.Metadata
	cmd.ExpectedVersion = req.ExpectedVersion

	events, err := h.commands.Execute(c.Request.Context(), cmd)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	if events == nil {
		events = []cqrs.APIEvent{}
	}
	h.Success(c, CommandResultResponse{CommandID: cmd.ID, Events: events})
}

// RunQuery dispatches one query and returns its result verbatim.
func (h *DispatchHandler) RunQuery(c *gin.Context) {
	var req RunQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	q := cqrs.NewQuery(req.Type, req.Filters)
	q.Pagination = req.Pagination
	q.Projections = req.Projections

	result, err := h.queries.Query(c.Request.Context(), q)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, result)
}
