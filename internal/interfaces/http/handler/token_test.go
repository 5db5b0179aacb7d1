package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/ecomhub/gateway/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenHandlerBlacklist(t *testing.T) {
	app := newAdminApp(t)

	token, err := app.tokens.GenerateToken("svc-orders", []string{"orders:write"}, time.Hour)
	require.NoError(t, err)

	w := app.do(http.MethodPost, "/admin/tokens/blacklist", gin.H{"token": token})

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeAdmin(t, w)
	assert.True(t, resp.Success)
	blacklisted := decodeData[map[string]bool](t, resp)
	assert.True(t, blacklisted["blacklisted"])

	// Revoking again is a no-op, not an error
	w = app.do(http.MethodPost, "/admin/tokens/blacklist", gin.H{"token": token})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTokenHandlerBlacklistValidation(t *testing.T) {
	app := newAdminApp(t)

	t.Run("missing token field", func(t *testing.T) {
		w := app.do(http.MethodPost, "/admin/tokens/blacklist", gin.H{})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeAdmin(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
	})

	t.Run("garbage token", func(t *testing.T) {
		w := app.do(http.MethodPost, "/admin/tokens/blacklist", gin.H{"token": "not-a-jwt"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeAdmin(t, w)
		require.NotNil(t, resp.Error)
		assert.Equal(t, dto.ErrCodeInvalidInput, resp.Error.Code)
		assert.Equal(t, "Token is not valid, nothing to revoke", resp.Error.Message)
	})

	t.Run("expired token", func(t *testing.T) {
		token, err := app.tokens.GenerateToken("svc-orders", nil, -time.Minute)
		require.NoError(t, err)

		w := app.do(http.MethodPost, "/admin/tokens/blacklist", gin.H{"token": token})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
