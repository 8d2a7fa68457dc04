package models

import (
	"time"
)

// ExternalProfile is a normalized identity asserted by an SSO provider,
// independent of its OAuth2/SAML origin. Produced transiently per callback.
type ExternalProfile struct {
	Provider       string
	ProviderUserID string
	Email          string
	Name           string
	Raw            map[string]any
}

// LinkedAccount persists the association between an external identity and a
// local user. Linking is idempotent on (Provider, ProviderUserID).
type LinkedAccount struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	Email          string
	CreatedAt      time.Time
}
