package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eliteGoblin/focusd/app_gate/internal/domain"
)

// Roles carried in bridge tokens.
const (
	RoleRenderer = "renderer"
	RoleDetector = "detector"
	RoleAdmin    = "admin"
)

const tokenIssuer = "appgate"

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// TokenClaims is the JWT payload for bridge clients.
type TokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// TokenManager issues and verifies HS256 bridge tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	clock  domain.Clock
}

// NewTokenManager creates a manager signing with secret. A zero ttl issues
// tokens without expiry.
func NewTokenManager(secret []byte, ttl time.Duration, clock domain.Clock) *TokenManager {
	return &TokenManager{secret: secret, ttl: ttl, clock: clock}
}

// CreateToken issues a token for role.
func (m *TokenManager) CreateToken(role string) (string, error) {
	switch role {
	case RoleRenderer, RoleDetector, RoleAdmin:
	default:
		return "", fmt.Errorf("unknown role %q", role)
	}

	now := m.clock.Now()
	claims := TokenClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
		},
	}
	if m.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(m.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// VerifyToken verifies and parses a token.
func (m *TokenManager) VerifyToken(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(m.clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
