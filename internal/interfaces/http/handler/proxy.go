package handler

import (
	"io"
	"strconv"
	"time"

	gatewayapp "github.com/ecomhub/gateway/internal/application/gateway"
	"github.com/ecomhub/gateway/internal/domain/gateway"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ProxyHandler funnels every /api/* request into the routing pipeline.
// It speaks the proxy envelope rather than the admin response format;
// the HTTP status always mirrors the envelope's statusCode field so a
// caller can trust either one.
type ProxyHandler struct {
	service *gatewayapp.Service
	logger  *zap.Logger
}

// NewProxyHandler creates a new ProxyHandler
func NewProxyHandler(service *gatewayapp.Service, logger *zap.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: service,
		logger:  logger,
	}
}

// Handle routes one request through the pipeline and writes the
// resulting envelope.
func (h *ProxyHandler) Handle(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			// Nothing downstream has run yet, so this never reaches the
			// pipeline's own logging
			h.logger.Warn("failed to read proxy request body",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			h.writeError(c, gateway.ErrInternal(err))
			return
		}
		body = data
	}

	envelope, gwErr := h.service.Route(c.Request.Context(), gatewayapp.RouteRequest{
		Path:    c.Request.URL.Path,
		Method:  c.Request.Method,
		Headers: c.Request.Header,
		Query:   c.Request.URL.Query(),
		Body:    body,
	})
	if gwErr != nil {
		h.writeError(c, gwErr)
		return
	}

	c.JSON(envelope.StatusCode, envelope)
}

// writeError renders a typed pipeline rejection. Rate-limit rejections
// also carry the X-RateLimit-* headers so clients can back off without
// parsing the body.
func (h *ProxyHandler) writeError(c *gin.Context, gwErr *gateway.Error) {
	if gwErr.RateLimit != nil {
		c.Header("X-RateLimit-Limit", strconv.Itoa(gwErr.RateLimit.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(gwErr.RateLimit.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(gwErr.RateLimit.ResetAt.Unix(), 10))
	}
	c.JSON(gwErr.Status, gateway.NewErrorEnvelope(gwErr, time.Now()))
}
