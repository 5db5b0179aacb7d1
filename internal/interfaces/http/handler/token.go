package handler

import (
	gatewayapp "github.com/ecomhub/gateway/internal/application/gateway"
	"github.com/gin-gonic/gin"
)

// TokenHandler handles token revocation endpoints
type TokenHandler struct {
	BaseHandler
	service *gatewayapp.Service
}

// NewTokenHandler creates a new TokenHandler
func NewTokenHandler(service *gatewayapp.Service) *TokenHandler {
	return &TokenHandler{
		service: service,
	}
}

// BlacklistTokenRequest represents a request to revoke a bearer token
type BlacklistTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// Blacklist revokes a token for the remainder of its lifetime. The
// pipeline rejects blacklisted tokens before signature validation.
func (h *TokenHandler) Blacklist(c *gin.Context) {
	var req BlacklistTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, err.Error())
		return
	}

	if err := h.service.BlacklistToken(c.Request.Context(), req.Token); err != nil {
		h.HandleDomainError(c, err)
		return
	}

	h.Success(c, gin.H{"blacklisted": true})
}
