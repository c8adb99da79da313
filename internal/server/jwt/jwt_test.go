package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidateAccessToken(t *testing.T) {
	service := NewService("test-secret", time.Hour, 24*time.Hour)

	token, expiresIn, err := service.GenerateAccessToken("store-1", "register-3")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, int64(3600), expiresIn)

	claims, err := service.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "store-1", claims.TenantID)
	assert.Equal(t, "register-3", claims.DeviceID)
}

func TestValidateAccessToken_Expired(t *testing.T) {
	// Отрицательный TTL дает уже истекший токен
	service := NewService("test-secret", -time.Hour, 24*time.Hour)

	token, _, err := service.GenerateAccessToken("store-1", "register-1")
	require.NoError(t, err)

	_, err = service.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestValidateAccessToken_WrongSecret(t *testing.T) {
	issuer := NewService("secret-a", time.Hour, 24*time.Hour)
	validator := NewService("secret-b", time.Hour, 24*time.Hour)

	token, _, err := issuer.GenerateAccessToken("store-1", "register-1")
	require.NoError(t, err)

	_, err = validator.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestValidateAccessToken_Garbage(t *testing.T) {
	service := NewService("test-secret", time.Hour, 24*time.Hour)

	_, err := service.ValidateAccessToken("not-a-token")
	assert.Error(t, err)
}

func TestGenerateRefreshToken(t *testing.T) {
	service := NewService("test-secret", time.Hour, 24*time.Hour)

	first, expiresAt, err := service.GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEmpty(t, first)
	assert.True(t, expiresAt.After(time.Now()))

	second, _, err := service.GenerateRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
