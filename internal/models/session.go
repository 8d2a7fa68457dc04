package models

import (
	"time"
)

// Location is the approximate geography derived from a client IP.
type Location struct {
	Country string `json:"country,omitempty"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// Session represents a logged-in, continuously-valid credential grant.
type Session struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	DeviceID       string            `json:"device_id"`
	IPAddress      string            `json:"ip_address"`
	UserAgent      string            `json:"user_agent"`
	Location       Location          `json:"location"`
	Device         string            `json:"device"` // human-readable descriptor, e.g. "Chrome on macOS"
	CreatedAt      time.Time         `json:"created_at"`
	LastActivityAt time.Time         `json:"last_activity_at"`
	ExpiresAt      time.Time         `json:"expires_at"`
	RefreshTokenID string            `json:"refresh_token_id"` // JTI of the one currently valid refresh token
	MFAVerified    bool              `json:"mfa_verified"`
	ElevatedUntil  *time.Time        `json:"elevated_until,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// IsExpired checks the explicit expiry timestamp; store TTL enforces the
// same bound but every read path re-checks here.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// IsElevated reports whether the session currently holds temporary elevated
// trust for sensitive operations.
func (s *Session) IsElevated(now time.Time) bool {
	return s.ElevatedUntil != nil && now.Before(*s.ElevatedUntil)
}
