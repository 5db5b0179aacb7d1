package middleware

import (
	"errors"
	"strings"

	"github.com/ecomhub/gateway/internal/infrastructure/auth"
	"github.com/ecomhub/gateway/internal/infrastructure/logger"
	"github.com/ecomhub/gateway/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Keys under which the middleware stashes token data on the gin context.
const (
	JWTClaimsKey   = "jwt_claims"
	JWTCallerIDKey = "jwt_caller_id"
	JWTScopesKey   = "jwt_scopes"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
)

// JWTMiddlewareConfig tunes the admin auth middleware. Only JWTService
// is mandatory; a nil TokenBlacklist skips revocation checks and a nil
// OnError falls back to the standard 401 JSON body.
type JWTMiddlewareConfig struct {
	JWTService       *auth.JWTService
	TokenBlacklist   auth.TokenBlacklist
	SkipPaths        []string
	SkipPathPrefixes []string
	OnError          func(c *gin.Context, err error)
	Logger           *zap.Logger
}

// JWTAuthMiddleware creates JWT authentication middleware guarding the
// admin surface. The proxy routes never pass through here; their
// authentication is per-descriptor inside the routing pipeline.
func JWTAuthMiddleware(jwtService *auth.JWTService) gin.HandlerFunc {
	return JWTAuthMiddlewareWithConfig(JWTMiddlewareConfig{JWTService: jwtService})
}

// JWTAuthMiddlewareWithConfig builds the middleware from an explicit
// config. Request flow: skip-list check, bearer extraction, blacklist
// lookup, signature validation, then claims land on the context.
func JWTAuthMiddlewareWithConfig(cfg JWTMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.exemptPath(c.Request.URL.Path) {
			c.Next()
			return
		}

		tokenString, parseErr := bearerToken(c)
		if parseErr != "" {
			handleAuthError(c, cfg, auth.ErrInvalidToken, parseErr)
			return
		}

		// A revoked token is rejected even while its signature still
		// validates, so the blacklist runs first
		if cfg.TokenBlacklist != nil {
			blacklisted, err := cfg.TokenBlacklist.Contains(c.Request.Context(), tokenString)
			switch {
			case err != nil:
				// Fail open for availability: a broken blacklist store
				// must not lock every operator out
				if cfg.Logger != nil {
					cfg.Logger.Error("Failed to check token blacklist", zap.Error(err))
				}
			case blacklisted:
				handleAuthError(c, cfg, auth.ErrTokenBlacklisted, "Token has been revoked")
				return
			}
		}

		claims, err := cfg.JWTService.ValidateToken(tokenString)
		if err != nil {
			handleAuthError(c, cfg, err, "Token validation failed")
			return
		}

		attachClaims(c, cfg, claims)
		c.Next()
	}
}

func (cfg JWTMiddlewareConfig) exemptPath(path string) bool {
	for _, skipPath := range cfg.SkipPaths {
		if path == skipPath {
			return true
		}
	}
	for _, prefix := range cfg.SkipPathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// bearerToken pulls the raw token out of the Authorization header. A
// non-empty second return is the rejection message.
func bearerToken(c *gin.Context) (string, string) {
	header := c.GetHeader(AuthHeaderKey)
	switch {
	case header == "":
		return "", "Missing authorization header"
	case !strings.HasPrefix(header, BearerPrefix):
		return "", "Invalid authorization header format"
	}
	token := strings.TrimPrefix(header, BearerPrefix)
	if token == "" {
		return "", "Missing token"
	}
	return token, ""
}

// attachClaims exposes the validated claims to handlers and tags the
// request-scoped logger with the caller identity.
func attachClaims(c *gin.Context, cfg JWTMiddlewareConfig, claims *auth.Claims) {
	c.Set(JWTClaimsKey, claims)
	c.Set(JWTCallerIDKey, claims.Caller())
	c.Set(JWTScopesKey, claims.Scopes)

	ctx := c.Request.Context()
	ctx, _ = logger.WithCallerID(ctx, logger.FromContext(ctx), claims.Caller())
	c.Request = c.Request.WithContext(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Debug("JWT authentication successful",
			zap.String("caller_id", claims.Caller()),
			zap.Strings("scopes", claims.Scopes),
		)
	}
}

// authRejections maps token validation failures to the client-facing
// error code and message. Order matters: the first matching sentinel
// wins.
var authRejections = []struct {
	sentinel error
	code     string
	message  string
}{
	{auth.ErrExpiredToken, dto.ErrCodeTokenExpired, "Token has expired"},
	{auth.ErrTokenBlacklisted, dto.ErrCodeTokenRevoked, "Token has been revoked"},
	{auth.ErrTokenNotYetValid, dto.ErrCodeTokenInvalid, "Token is not yet valid"},
	{auth.ErrInvalidToken, dto.ErrCodeTokenInvalid, "Invalid token"},
	{auth.ErrInvalidClaims, dto.ErrCodeTokenInvalid, "Invalid token"},
	{auth.ErrMissingSubject, dto.ErrCodeTokenInvalid, "Invalid token"},
}

func handleAuthError(c *gin.Context, cfg JWTMiddlewareConfig, err error, message string) {
	if cfg.OnError != nil {
		cfg.OnError(c, err)
		return
	}

	if cfg.Logger != nil {
		cfg.Logger.Warn("JWT authentication failed",
			zap.Error(err),
			zap.String("message", message),
			zap.String("path", c.Request.URL.Path),
		)
	}

	errorCode := dto.ErrCodeUnauthorized
	errorMessage := "Authentication required"
	for _, r := range authRejections {
		if errors.Is(err, r.sentinel) {
			errorCode, errorMessage = r.code, r.message
			break
		}
	}

	c.AbortWithStatusJSON(
		dto.GetHTTPStatus(errorCode),
		dto.NewErrorResponseWithRequestID(errorCode, errorMessage, GetRequestID(c)),
	)
}

// GetJWTClaims returns the claims a prior auth middleware stored, nil
// when the request never went through it.
func GetJWTClaims(c *gin.Context) *auth.Claims {
	if claims, exists := c.Get(JWTClaimsKey); exists {
		if jwtClaims, ok := claims.(*auth.Claims); ok {
			return jwtClaims
		}
	}
	return nil
}

// GetJWTCallerID returns the authenticated caller id, empty when
// unauthenticated.
func GetJWTCallerID(c *gin.Context) string {
	if callerID, exists := c.Get(JWTCallerIDKey); exists {
		if id, ok := callerID.(string); ok {
			return id
		}
	}
	return ""
}

// GetJWTScopes returns the scopes granted to the caller.
func GetJWTScopes(c *gin.Context) []string {
	if scopes, exists := c.Get(JWTScopesKey); exists {
		if s, ok := scopes.([]string); ok {
			return s
		}
	}
	return nil
}
