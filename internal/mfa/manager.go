package mfa

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/lekesiz/bdc-auth/internal/secretbox"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	totpPeriod = 30
	// Codes up to 2 time steps away from now are accepted to absorb
	// client clock drift.
	totpSkew = 2

	backupCodeLength = 8
	// Charset: A-Z 2-9 excluding 0/O/1/I/L which are ambiguous
	backupCodeCharset = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
)

// Manager issues and verifies time-based codes and backup codes. It never
// persists state; encrypted material is handed back to the caller for
// storage in the identity store.
type Manager struct {
	codec           *secretbox.Codec
	issuer          string
	backupCodeCount int
}

// NewManager creates a Manager. issuer is the name shown in authenticator
// apps; backupCodeCount is the number of one-time codes issued at enrollment.
func NewManager(codec *secretbox.Codec, issuer string, backupCodeCount int) *Manager {
	return &Manager{
		codec:           codec,
		issuer:          issuer,
		backupCodeCount: backupCodeCount,
	}
}

// Enrollment is the one and only plaintext exposure of a user's TOTP
// material. Callers persist the encrypted fields and return the rest to the
// user exactly once.
type Enrollment struct {
	Secret          string   // base32 shared secret, for manual entry
	OTPAuthURL      string   // otpauth:// provisioning URI
	QRCode          string   // data URL with a PNG rendering of OTPAuthURL
	BackupCodes     []string // single-use recovery codes
	SecretEncrypted []byte
	BackupCodesEncrypted [][]byte
}

// Enroll generates a fresh TOTP secret and backup codes for identityLabel
// (typically the user's email).
func (m *Manager) Enroll(identityLabel string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: identityLabel,
		SecretSize:  32,
		Period:      totpPeriod,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	encryptedSecret, err := m.codec.Seal([]byte(key.Secret()))
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	codes, err := m.generateBackupCodes(m.backupCodeCount)
	if err != nil {
		return nil, err
	}

	encryptedCodes := make([][]byte, len(codes))
	for i, code := range codes {
		encryptedCodes[i], err = m.codec.Seal([]byte(code))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt backup code: %w", err)
		}
	}

	qr, err := qrcode.New(key.URL(), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to create QR code: %w", err)
	}
	qrImage, err := qr.PNG(200)
	if err != nil {
		return nil, fmt.Errorf("failed to encode QR code: %w", err)
	}

	return &Enrollment{
		Secret:               key.Secret(),
		OTPAuthURL:           key.URL(),
		QRCode:               "data:image/png;base64," + base64.StdEncoding.EncodeToString(qrImage),
		BackupCodes:          codes,
		SecretEncrypted:      encryptedSecret,
		BackupCodesEncrypted: encryptedCodes,
	}, nil
}

// VerifyTOTP checks a submitted code against the encrypted shared secret.
// The code is accepted within a +/-2 time-step window.
func (m *Manager) VerifyTOTP(encryptedSecret []byte, code string) (bool, error) {
	return m.VerifyTOTPAt(encryptedSecret, code, time.Now())
}

// VerifyTOTPAt is VerifyTOTP at an explicit instant.
func (m *Manager) VerifyTOTPAt(encryptedSecret []byte, code string, at time.Time) (bool, error) {
	secret, err := m.codec.Open(encryptedSecret)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt secret: %w", err)
	}

	valid, err := totp.ValidateCustom(code, string(secret), at, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate TOTP: %w", err)
	}

	return valid, nil
}

// VerifyBackupCode matches a submitted code (case-sensitive) against the
// encrypted set. On a match it returns the remaining set minus the consumed
// code; the caller must persist the update. Codes are single-use.
func (m *Manager) VerifyBackupCode(encryptedCodes [][]byte, submitted string) (bool, [][]byte, error) {
	matched := -1
	for i, blob := range encryptedCodes {
		code, err := m.codec.Open(blob)
		if err != nil {
			return false, nil, fmt.Errorf("failed to decrypt backup code: %w", err)
		}
		if subtle.ConstantTimeCompare(code, []byte(submitted)) == 1 {
			matched = i
			// keep scanning so timing does not reveal the match position
		}
	}

	if matched < 0 {
		return false, encryptedCodes, nil
	}

	remaining := make([][]byte, 0, len(encryptedCodes)-1)
	remaining = append(remaining, encryptedCodes[:matched]...)
	remaining = append(remaining, encryptedCodes[matched+1:]...)
	return true, remaining, nil
}

// RegenerateBackupCodes issues a fresh set of backup codes, invalidating any
// previous set once the caller persists the encrypted replacement.
func (m *Manager) RegenerateBackupCodes() ([]string, [][]byte, error) {
	codes, err := m.generateBackupCodes(m.backupCodeCount)
	if err != nil {
		return nil, nil, err
	}

	encrypted := make([][]byte, len(codes))
	for i, code := range codes {
		encrypted[i], err = m.codec.Seal([]byte(code))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encrypt backup code: %w", err)
		}
	}

	return codes, encrypted, nil
}

func (m *Manager) generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	buf := make([]byte, backupCodeLength)
	for i := range codes {
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		code := make([]byte, backupCodeLength)
		for j, b := range buf {
			code[j] = backupCodeCharset[int(b)%len(backupCodeCharset)]
		}
		codes[i] = string(code)
	}
	return codes, nil
}
