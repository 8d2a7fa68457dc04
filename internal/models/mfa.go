package models

import (
	"time"
)

// MFASecret represents a user's enrolled TOTP factor.
// The shared secret and backup codes are stored encrypted (AES-256-GCM,
// nonce travels with the ciphertext); plaintext only exists in the
// enrollment response.
type MFASecret struct {
	UserID          string
	SecretEncrypted []byte
	BackupCodes     [][]byte // each entry is one encrypted backup code
	Verified        bool     // set after the first successful TOTP verification
	CreatedAt       time.Time
}

// RemainingBackupCodes reports how many unused backup codes are left.
func (s *MFASecret) RemainingBackupCodes() int {
	return len(s.BackupCodes)
}
