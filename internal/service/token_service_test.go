package service

import (
	"testing"
	"time"

	"anchor-payout/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-jwt-secret-key-for-unit-tests"

func TestJWTTokenService_GenerateAndValidate(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 8*time.Hour, "anchor-payout")

	tokenStr, expiresAt, err := svc.Generate("alice", domain.RoleOperator)
	require.NoError(t, err)
	assert.NotEmpty(t, tokenStr)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.Validate(tokenStr)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, domain.RoleOperator, claims.Role)
}

func TestJWTTokenService_GenerateErrors(t *testing.T) {
	_, _, err := NewJWTTokenService("", time.Hour, "iss").Generate("alice", domain.RoleOperator)
	assert.Error(t, err, "empty secret must not sign")

	_, _, err = NewJWTTokenService(testJWTSecret, time.Hour, "iss").Generate("  ", domain.RoleOperator)
	assert.Error(t, err)
}

func TestJWTTokenService_ExpiredToken(t *testing.T) {
	// Token with -1 hour expiry = already expired
	svc := NewJWTTokenService(testJWTSecret, -1*time.Hour, "anchor-payout")

	tokenStr, _, err := svc.Generate("alice", domain.RoleOperator)
	require.NoError(t, err)

	_, err = svc.Validate(tokenStr)
	assert.Error(t, err, "expired token should fail validation")
}

func TestJWTTokenService_InvalidSignature(t *testing.T) {
	svc1 := NewJWTTokenService("secret-1", 24*time.Hour, "issuer")
	svc2 := NewJWTTokenService("secret-2", 24*time.Hour, "issuer")

	tokenStr, _, err := svc1.Generate("alice", domain.RoleOperator)
	require.NoError(t, err)

	_, err = svc2.Validate(tokenStr)
	assert.Error(t, err, "token signed with different secret should fail")
}

func TestJWTTokenService_WrongIssuer(t *testing.T) {
	tokenStr, _, err := NewJWTTokenService(testJWTSecret, time.Hour, "other").Generate("alice", domain.RoleOperator)
	require.NoError(t, err)

	_, err = NewJWTTokenService(testJWTSecret, time.Hour, "anchor-payout").Validate(tokenStr)
	assert.Error(t, err)
}

func TestJWTTokenService_InvalidTokenString(t *testing.T) {
	svc := NewJWTTokenService(testJWTSecret, 24*time.Hour, "issuer")

	_, err := svc.Validate("not.a.valid.jwt")
	assert.Error(t, err)

	_, err = svc.Validate("")
	assert.Error(t, err)
}
