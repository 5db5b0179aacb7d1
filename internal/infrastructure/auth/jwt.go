// Package auth validates the bearer tokens callers present to the gateway.
// The gateway does not issue tokens to clients; GenerateToken exists for
// operational tooling and tests that need tokens signed with the same secret.
package auth

import (
	"errors"
	"slices"
	"time"

	"github.com/ecomhub/gateway/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Sentinel validation failures, mapped to response codes by the
// middleware.
var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrTokenNotYetValid = errors.New("token is not yet valid")
	ErrInvalidClaims    = errors.New("invalid token claims")
	ErrMissingSubject   = errors.New("missing subject in claims")
	ErrTokenBlacklisted = errors.New("token has been revoked")
)

// Claims represents the JWT claims the gateway understands. CallerID takes
// precedence over the registered subject when both are present, mirroring
// tokens minted by older identity providers.
type Claims struct {
	jwt.RegisteredClaims
	CallerID string   `json:"caller_id,omitempty"`
	Scopes   []string `json:"scopes,omitempty"`
}

// Caller returns the identity used for rate limiting and audit logging.
func (c *Claims) Caller() string {
	if c.CallerID != "" {
		return c.CallerID
	}
	return c.Subject
}

// HasScope reports whether the caller was granted the scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// GetExpiresAtTime returns the expiry, zero when the token has none.
func (c *Claims) GetExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// GetRemainingTTL returns how long the token stays valid, clamped at
// zero for expired or unbounded tokens.
func (c *Claims) GetRemainingTTL() time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return max(time.Until(c.ExpiresAt.Time), 0)
}

// JWTService signs and verifies tokens with a shared HMAC secret.
type JWTService struct {
	secret []byte
	issuer string
}

func NewJWTService(cfg config.JWTConfig) *JWTService {
	return &JWTService{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// GenerateToken creates a signed HS256 token for the given caller
func (s *JWTService) GenerateToken(callerID string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			Subject:   callerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateToken validates a bearer token and returns its claims.
// Only HMAC-signed tokens are accepted; anything else is ErrInvalidToken.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	})

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case errors.Is(err, jwt.ErrTokenNotValidYet):
		return nil, ErrTokenNotYetValid
	case err != nil:
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}

	if claims.Caller() == "" {
		return nil, ErrMissingSubject
	}

	return claims, nil
}
