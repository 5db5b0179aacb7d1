package handler

import (
	"strconv"
	"time"

	gatewayapp "github.com/ecomhub/gateway/internal/application/gateway"
	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/gin-gonic/gin"
)

// ServiceHandler handles the service-registry admin endpoints
type ServiceHandler struct {
	BaseHandler
	service *gatewayapp.Service
}

// NewServiceHandler creates a new ServiceHandler
func NewServiceHandler(service *gatewayapp.Service) *ServiceHandler {
	return &ServiceHandler{
		service: service,
	}
}

// RegisterServiceRequest represents a request to register a downstream service
type RegisterServiceRequest struct {
	Name                  string `json:"name" binding:"required,min=1,max=100"`
	BaseURL               string `json:"baseUrl" binding:"required,url"`
	HealthEndpoint        string `json:"healthEndpoint" binding:"omitempty,max=200"`
	TimeoutMs             int    `json:"timeoutMs" binding:"omitempty,gte=0"`
	RetryCount            int    `json:"retryCount" binding:"omitempty,gte=0,lte=10"`
	AuthRequired          *bool  `json:"authRequired"`
	CircuitBreakerEnabled *bool  `json:"circuitBreakerEnabled"`
	RateLimitPerHour      int    `json:"rateLimitPerHour" binding:"omitempty,gte=-1"`
	Version               string `json:"version" binding:"omitempty,max=20"`
}

// descriptor converts the request into a domain descriptor. Absent
// booleans resolve to true: protection is opt-out, not opt-in.
func (r *RegisterServiceRequest) descriptor() *gateway.ServiceDescriptor {
	d := gateway.NewServiceDescriptor(r.Name, r.BaseURL)
	if r.HealthEndpoint != "" {
		d.HealthEndpoint = r.HealthEndpoint
	}
	if r.TimeoutMs > 0 {
		d.Timeout = time.Duration(r.TimeoutMs) * time.Millisecond
	}
	if r.RetryCount > 0 {
		d.RetryCount = r.RetryCount
	}
	if r.AuthRequired != nil {
		d.AuthRequired = *r.AuthRequired
	}
	if r.CircuitBreakerEnabled != nil {
		d.CircuitBreakerEnabled = *r.CircuitBreakerEnabled
	}
	if r.RateLimitPerHour != 0 {
		d.RateLimitPerHour = r.RateLimitPerHour
	}
	if r.Version != "" {
		d.Version = r.Version
	}
	return d
}

// Register registers or replaces a downstream service.
func (h *ServiceHandler) Register(c *gin.Context) {
	var req RegisterServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	descriptor := req.descriptor()
	if err := h.service.RegisterService(c.Request.Context(), descriptor); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Created(c, toServiceResponse(descriptor))
}

// List returns every registered service.
func (h *ServiceHandler) List(c *gin.Context) {
	descriptors, err := h.service.ListServices(c.Request.Context())
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toServiceResponses(descriptors))
}

// Get returns one registered service by name.
func (h *ServiceHandler) Get(c *gin.Context) {
	descriptor, err := h.service.GetService(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, toServiceResponse(descriptor))
}

// Deregister removes a service from the registry.
func (h *ServiceHandler) Deregister(c *gin.Context) {
	if err := h.service.DeregisterService(c.Request.Context(), c.Param("name")); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.NoContent(c)
}

// Circuit reports the circuit breaker snapshot for one service.
func (h *ServiceHandler) Circuit(c *gin.Context) {
	snapshot, err := h.service.BreakerSnapshot(c.Request.Context(), c.Param("name"))
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, snapshot)
}

// Metrics aggregates request metrics for one service over a trailing
// window of hours, default 24.
func (h *ServiceHandler) Metrics(c *gin.Context) {
	hours := 0
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.BadRequest(c, "hours must be a positive integer")
			return
		}
		hours = parsed
	}

	summary, err := h.service.ServiceMetrics(c.Request.Context(), c.Param("service"), hours)
	if err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, summary)
}
