package mfa

import (
	"context"
	"errors"
	"fmt"

	"github.com/lekesiz/bdc-auth/internal/identity"
	"github.com/lekesiz/bdc-auth/internal/models"
	pkglogger "github.com/lekesiz/bdc-auth/pkg/logger"
)

// Service manages per-account TOTP enrollment and verification on top of
// Manager's pure crypto operations.
type Service struct {
	manager *Manager
	store   identity.Store
	audit   *pkglogger.AuditLogger
}

func NewService(manager *Manager, store identity.Store, audit *pkglogger.AuditLogger) *Service {
	return &Service{manager: manager, store: store, audit: audit}
}

// StartEnrollment generates and stores a fresh, unverified TOTP secret.
// Re-enrolling replaces a previous unverified secret but never an active
// one.
func (s *Service) StartEnrollment(ctx context.Context, userID string) (*Enrollment, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if existing, err := s.store.GetMFASecret(ctx, userID); err == nil && existing.Verified {
		return nil, fmt.Errorf("%w: MFA already active", models.ErrConflict)
	} else if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	enrollment, err := s.manager.Enroll(user.Email)
	if err != nil {
		return nil, err
	}

	err = s.store.SaveMFASecret(ctx, &models.MFASecret{
		UserID:          userID,
		SecretEncrypted: enrollment.SecretEncrypted,
		BackupCodes:     enrollment.BackupCodesEncrypted,
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// ActivateEnrollment turns a pending enrollment on after the user proves
// possession of the authenticator.
func (s *Service) ActivateEnrollment(ctx context.Context, userID, code string) error {
	secret, err := s.store.GetMFASecret(ctx, userID)
	if err != nil {
		return err
	}
	if secret.Verified {
		return fmt.Errorf("%w: MFA already active", models.ErrConflict)
	}

	ok, err := s.manager.VerifyTOTP(secret.SecretEncrypted, code)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrCredentialRejected
	}

	if err := s.store.MarkMFAVerified(ctx, userID); err != nil {
		return err
	}
	s.audit.LogAccountAction(pkglogger.AuditEvent{
		EventType: "mfa_enabled",
		UserID:    userID,
		Success:   true,
	})
	return nil
}

// RegenerateBackupCodes replaces the user's remaining backup codes with a
// fresh set and returns the plaintext codes exactly once.
func (s *Service) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if _, err := s.store.GetMFASecret(ctx, userID); err != nil {
		return nil, err
	}

	plain, encrypted, err := s.manager.RegenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	if err := s.store.UpdateBackupCodes(ctx, userID, encrypted); err != nil {
		return nil, err
	}

	s.audit.LogAccountAction(pkglogger.AuditEvent{
		EventType: "backup_codes_regenerated",
		UserID:    userID,
		Success:   true,
	})
	return plain, nil
}

// Disable removes the user's TOTP secret and backup codes.
func (s *Service) Disable(ctx context.Context, userID string) error {
	if err := s.store.DeleteMFASecret(ctx, userID); err != nil {
		return err
	}
	s.audit.LogAccountAction(pkglogger.AuditEvent{
		EventType: "mfa_disabled",
		UserID:    userID,
		Success:   true,
	})
	return nil
}

// VerifyFactor checks a second-factor code against the user's active
// enrollment. Backup codes are consumed on success. A pending enrollment
// proves nothing: anyone holding the session could have started it and read
// the secret from the enrollment response, so only a Verified secret counts.
func (s *Service) VerifyFactor(ctx context.Context, userID, factor, code string) (bool, error) {
	secret, err := s.store.GetMFASecret(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !secret.Verified {
		return false, nil
	}

	switch factor {
	case models.FactorTOTP:
		return s.manager.VerifyTOTP(secret.SecretEncrypted, code)
	case models.FactorBackupCode:
		ok, remaining, err := s.manager.VerifyBackupCode(secret.BackupCodes, code)
		if err != nil || !ok {
			return false, err
		}
		if err := s.store.UpdateBackupCodes(ctx, userID, remaining); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: unknown factor %q", models.ErrBadRequest, factor)
	}
}

// AvailableFactors lists the second factors the user can present.
func (s *Service) AvailableFactors(ctx context.Context, userID string) []string {
	factors := []string{models.FactorTOTP}
	if secret, err := s.store.GetMFASecret(ctx, userID); err == nil && len(secret.BackupCodes) > 0 {
		factors = append(factors, models.FactorBackupCode)
	}
	return factors
}
