package models

import (
	"time"
)

// BiometricDevice represents one registered WebAuthn authenticator
// (platform or roaming).
type BiometricDevice struct {
	ID              string
	UserID          string
	CredentialID    []byte
	PublicKey       []byte
	AttestationType string
	AAGUID          []byte
	SignCount       uint32 // must strictly increase between authentications
	Transports      []string
	Name            string
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}
