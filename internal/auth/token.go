package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token types carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// SessionClaims are the claims carried by access and refresh tokens. Both
// kinds are bound to (session, user, device); the refresh token's JTI must
// additionally match the session's current RefreshTokenID.
type SessionClaims struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	DeviceID  string `json:"device_id"`
	jwt.RegisteredClaims
}

// TokenManager handles JWT token generation and validation. Access and
// refresh tokens are signed with separate secrets so a leaked access secret
// cannot mint refresh tokens.
type TokenManager struct {
	accessSecret  string
	refreshSecret string
	accessExpiry  time.Duration
	refreshExpiry time.Duration
}

// NewTokenManager creates a new TokenManager.
func NewTokenManager(accessSecret, refreshSecret string, accessExpiry, refreshExpiry time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  accessSecret,
		refreshSecret: refreshSecret,
		accessExpiry:  accessExpiry,
		refreshExpiry: refreshExpiry,
	}
}

// AccessExpiry returns the configured access token lifetime.
func (tm *TokenManager) AccessExpiry() time.Duration {
	return tm.accessExpiry
}

// GenerateAccessToken creates a short-lived access token for a session.
func (tm *TokenManager) GenerateAccessToken(userID, sessionID, deviceID string) (string, error) {
	return tm.sign(TokenTypeAccess, userID, sessionID, deviceID, uuid.New().String(), tm.accessExpiry, tm.accessSecret)
}

// GenerateRefreshToken creates a refresh token whose JTI the caller records
// on the session as the currently valid RefreshTokenID.
func (tm *TokenManager) GenerateRefreshToken(userID, sessionID, deviceID, jti string) (string, error) {
	return tm.sign(TokenTypeRefresh, userID, sessionID, deviceID, jti, tm.refreshExpiry, tm.refreshSecret)
}

func (tm *TokenManager) sign(tokenType, userID, sessionID, deviceID, jti string, expiry time.Duration, secret string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		Type:      tokenType,
		UserID:    userID,
		SessionID: sessionID,
		DeviceID:  deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return signed, nil
}

// ValidateAccessToken verifies an access token and returns its claims.
func (tm *TokenManager) ValidateAccessToken(tokenString string) (*SessionClaims, error) {
	return tm.validate(tokenString, TokenTypeAccess, tm.accessSecret)
}

// ValidateRefreshToken verifies a refresh token's signature and type. The
// rotation check against the session's RefreshTokenID happens at the store.
func (tm *TokenManager) ValidateRefreshToken(tokenString string) (*SessionClaims, error) {
	return tm.validate(tokenString, TokenTypeRefresh, tm.refreshSecret)
}

func (tm *TokenManager) validate(tokenString, wantType, secret string) (*SessionClaims, error) {
	claims := &SessionClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if claims.Type != wantType {
		return nil, fmt.Errorf("invalid token: expected type %q", wantType)
	}
	if claims.SessionID == "" || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token: missing session binding")
	}

	return claims, nil
}
