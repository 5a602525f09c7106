package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-grid-api/internal/models"
	appErrors "github.com/noah-isme/lesson-grid-api/pkg/errors"
)

func signToken(t *testing.T, secret string, claims *models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func managerClaims(issuer string, expires time.Time) *models.JWTClaims {
	return &models.JWTClaims{
		UserID: "u-1",
		Name:   "Мария",
		Role:   models.RoleManager,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

func TestTokenVerifierAcceptsValidToken(t *testing.T) {
	verifier := NewTokenVerifier("secret", "auth")
	token := signToken(t, "secret", managerClaims("auth", time.Now().Add(time.Hour)))

	claims, err := verifier.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleManager, claims.Role)
	assert.Equal(t, "Мария", claims.ActorName())
}

func TestTokenVerifierRejects(t *testing.T) {
	verifier := NewTokenVerifier("secret", "auth")
	unknownRole := managerClaims("auth", time.Now().Add(time.Hour))
	unknownRole.Role = "STUDENT"

	cases := map[string]string{
		"wrong secret": signToken(t, "other", managerClaims("auth", time.Now().Add(time.Hour))),
		"expired":      signToken(t, "secret", managerClaims("auth", time.Now().Add(-time.Hour))),
		"wrong issuer": signToken(t, "secret", managerClaims("someone", time.Now().Add(time.Hour))),
		"unknown role": signToken(t, "secret", unknownRole),
		"garbage":      "not-a-token",
	}
	for name, token := range cases {
		_, err := verifier.ValidateToken(token)
		assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code), name)
	}
}
