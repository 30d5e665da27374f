package ops

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuth(t *testing.T, expiry time.Duration) *AuthService {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewAuthService("ops@getcomplical.dev", string(hash), "test-jwt-secret", expiry)
}

func TestLoginAndValidate(t *testing.T) {
	auth := newTestAuth(t, time.Hour)

	token, err := auth.Login("ops@getcomplical.dev", "s3cret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@getcomplical.dev", claims["sub"])
	assert.Equal(t, "ops", claims["role"])
}

func TestLoginWrongPassword(t *testing.T) {
	auth := newTestAuth(t, time.Hour)

	_, err := auth.Login("ops@getcomplical.dev", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginWrongEmail(t *testing.T) {
	auth := newTestAuth(t, time.Hour)

	_, err := auth.Login("intruder@example.com", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateGarbageToken(t *testing.T) {
	auth := newTestAuth(t, time.Hour)

	_, err := auth.ValidateToken("not.a.jwt")
	assert.Error(t, err)
}

func TestValidateTokenFromOtherSecret(t *testing.T) {
	auth := newTestAuth(t, time.Hour)

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	other := NewAuthService("ops@getcomplical.dev", string(hash), "different-secret", time.Hour)

	token, err := other.Login("ops@getcomplical.dev", "s3cret")
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateExpiredToken(t *testing.T) {
	auth := newTestAuth(t, -time.Minute)

	token, err := auth.Login("ops@getcomplical.dev", "s3cret")
	require.NoError(t, err)

	_, err = auth.ValidateToken(token)
	assert.Error(t, err)
}
