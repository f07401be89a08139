// Package auth implements the minimal bearer check spec.md §6 and
// SPEC_FULL.md §4.10 call for: a JWT asserting which user's dataset a
// request may touch, never an OIDC login flow (issuing the token is out
// of scope — Non-goals §1).
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/listsync/listsync/server/config"
)

//nolint:govet // fieldalignment: struct field order optimized for readability
type UserClaims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTService validates (and, for local development, mints) the bearer
// tokens gating the sync endpoints to one user's single dataset.
type JWTService struct {
	secret              string
	accessTokenDuration time.Duration
}

// NewJWTService builds a JWTService from the reference server's JWT config
// section.
func NewJWTService(cfg *config.JWTConfig) (*JWTService, error) {
	duration, err := cfg.GetAccessTokenDuration()
	if err != nil {
		return nil, fmt.Errorf("invalid access token duration: %w", err)
	}
	return &JWTService{secret: cfg.Secret, accessTokenDuration: duration}, nil
}

// GenerateUserToken mints a bearer token for userID. Issuance is a
// development convenience only; a production deployment would front this
// with whatever already-provisioned identity system hands the user their
// token before any of their devices talk to the sync endpoints.
func (s *JWTService) GenerateUserToken(userID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(s.accessTokenDuration)

	claims := &UserClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "listsync-sync",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign user token: %w", err)
	}
	return tokenString, expiresAt, nil
}

// ValidateBearerToken validates a bearer token and returns its claims.
func (s *JWTService) ValidateBearerToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*UserClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
