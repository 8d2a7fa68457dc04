package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager() *TokenManager {
	return NewTokenManager(
		"access-secret-for-tests-0123456789",
		"refresh-secret-for-tests-0123456789",
		15*time.Minute,
		7*24*time.Hour,
	)
}

func TestTokenManager_AccessTokenRoundTrip(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateAccessToken("user123", "sess456", "dev789")
	require.NoError(t, err)

	claims, err := tm.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeAccess, claims.Type)
	assert.Equal(t, "user123", claims.UserID)
	assert.Equal(t, "sess456", claims.SessionID)
	assert.Equal(t, "dev789", claims.DeviceID)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenManager_RefreshTokenCarriesJTI(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateRefreshToken("user123", "sess456", "dev789", "jti-abc")
	require.NoError(t, err)

	claims, err := tm.ValidateRefreshToken(token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeRefresh, claims.Type)
	assert.Equal(t, "jti-abc", claims.ID)
}

func TestTokenManager_RejectsCrossTypeUse(t *testing.T) {
	tm := newTestTokenManager()

	access, err := tm.GenerateAccessToken("user123", "sess456", "dev789")
	require.NoError(t, err)

	refresh, err := tm.GenerateRefreshToken("user123", "sess456", "dev789", "jti-abc")
	require.NoError(t, err)

	// Distinct signing secrets mean cross-type validation fails at the
	// signature, not just the type claim.
	_, err = tm.ValidateRefreshToken(access)
	assert.Error(t, err)

	_, err = tm.ValidateAccessToken(refresh)
	assert.Error(t, err)
}

func TestTokenManager_RejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager("access-secret-for-tests-0123456789", "refresh-secret-for-tests-0123456789", -time.Minute, -time.Minute)

	token, err := tm.GenerateAccessToken("user123", "sess456", "dev789")
	require.NoError(t, err)

	_, err = tm.ValidateAccessToken(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsTamperedToken(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateAccessToken("user123", "sess456", "dev789")
	require.NoError(t, err)

	_, err = tm.ValidateAccessToken(token + "x")
	assert.Error(t, err)
}

func TestTokenManager_RejectsForeignSignature(t *testing.T) {
	tm := newTestTokenManager()
	other := NewTokenManager("other-access-secret-0123456789ab", "other-refresh-secret-0123456789a", 15*time.Minute, time.Hour)

	token, err := other.GenerateAccessToken("user123", "sess456", "dev789")
	require.NoError(t, err)

	_, err = tm.ValidateAccessToken(token)
	assert.Error(t, err)
}
