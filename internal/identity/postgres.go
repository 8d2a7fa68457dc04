package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lekesiz/bdc-auth/internal/database"
	"github.com/lekesiz/bdc-auth/internal/models"
	pkgauth "github.com/lekesiz/bdc-auth/pkg/auth"
)

// PostgresStore implements Store on top of pgx. Schema lives in
// migrations/.
type PostgresStore struct {
	db *database.DB
}

func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(scanner rowScanner) (*models.User, error) {
	var user models.User
	var passwordHash *string

	err := scanner.Scan(
		&user.ID, &user.Email, &passwordHash, &user.Name,
		&user.MFAEnabled, &user.Status, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	if passwordHash != nil {
		user.PasswordHash = *passwordHash
	}
	return &user, nil
}

const userColumns = `id, email, password_hash, name, mfa_enabled, status, created_at, updated_at`

func (s *PostgresStore) FindUserByCredentials(ctx context.Context, username, password string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUserRow(s.db.Pool.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(username))))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Burn comparable time so unknown users are not distinguishable
			// from wrong passwords.
			_ = pkgauth.ComparePassword("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW", password)
			return nil, models.ErrCredentialRejected
		}
		return nil, fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}

	if user.PasswordHash == "" || pkgauth.ComparePassword(user.PasswordHash, password) != nil {
		return nil, models.ErrCredentialRejected
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUserRow(s.db.Pool.QueryRow(ctx, query, id))
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUserRow(s.db.Pool.QueryRow(ctx, query, strings.ToLower(email)))
}

func (s *PostgresStore) GetMFASecret(ctx context.Context, userID string) (*models.MFASecret, error) {
	query := `
		SELECT user_id, secret_encrypted, backup_codes, verified, created_at
		FROM mfa_secrets WHERE user_id = $1
	`

	var secret models.MFASecret
	err := s.db.Pool.QueryRow(ctx, query, userID).Scan(
		&secret.UserID, &secret.SecretEncrypted, &secret.BackupCodes,
		&secret.Verified, &secret.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &secret, nil
}

func (s *PostgresStore) SaveMFASecret(ctx context.Context, secret *models.MFASecret) error {
	query := `
		INSERT INTO mfa_secrets (user_id, secret_encrypted, backup_codes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET secret_encrypted = EXCLUDED.secret_encrypted,
		    backup_codes = EXCLUDED.backup_codes,
		    verified = EXCLUDED.verified,
		    created_at = EXCLUDED.created_at
	`

	createdAt := secret.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.db.Pool.Exec(ctx, query, secret.UserID, secret.SecretEncrypted, secret.BackupCodes, secret.Verified, createdAt)
	return database.MapPostgresError(err)
}

func (s *PostgresStore) UpdateBackupCodes(ctx context.Context, userID string, codes [][]byte) error {
	query := `UPDATE mfa_secrets SET backup_codes = $2 WHERE user_id = $1`

	tag, err := s.db.Pool.Exec(ctx, query, userID, codes)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkMFAVerified(ctx context.Context, userID string) error {
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE mfa_secrets SET verified = TRUE WHERE user_id = $1`, userID)
		if err != nil {
			return database.MapPostgresError(err)
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		_, err = tx.Exec(ctx, `UPDATE users SET mfa_enabled = TRUE, updated_at = NOW() WHERE id = $1`, userID)
		return database.MapPostgresError(err)
	})
}

func (s *PostgresStore) DeleteMFASecret(ctx context.Context, userID string) error {
	return s.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM mfa_secrets WHERE user_id = $1`, userID); err != nil {
			return database.MapPostgresError(err)
		}
		_, err := tx.Exec(ctx, `UPDATE users SET mfa_enabled = FALSE, updated_at = NOW() WHERE id = $1`, userID)
		return database.MapPostgresError(err)
	})
}

func (s *PostgresStore) GetUserDevices(ctx context.Context, userID string) ([]*models.BiometricDevice, error) {
	query := `
		SELECT id, user_id, credential_id, public_key, attestation_type, aaguid,
		       sign_count, transports, name, backup_eligible, backup_state, created_at, last_used_at
		FROM biometric_devices WHERE user_id = $1 ORDER BY created_at
	`

	rows, err := s.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	devices := make([]*models.BiometricDevice, 0)
	for rows.Next() {
		var device models.BiometricDevice
		err := rows.Scan(
			&device.ID, &device.UserID, &device.CredentialID, &device.PublicKey,
			&device.AttestationType, &device.AAGUID, &device.SignCount,
			&device.Transports, &device.Name, &device.BackupEligible,
			&device.BackupState, &device.CreatedAt, &device.LastUsedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, &device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return devices, nil
}

func (s *PostgresStore) SaveDevice(ctx context.Context, device *models.BiometricDevice) error {
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO biometric_devices
			(id, user_id, credential_id, public_key, attestation_type, aaguid,
			 sign_count, transports, name, backup_eligible, backup_state, created_at, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE
		SET sign_count = EXCLUDED.sign_count,
		    name = EXCLUDED.name,
		    last_used_at = EXCLUDED.last_used_at
	`

	_, err := s.db.Pool.Exec(ctx, query,
		device.ID, device.UserID, device.CredentialID, device.PublicKey,
		device.AttestationType, device.AAGUID, device.SignCount, device.Transports,
		device.Name, device.BackupEligible, device.BackupState, device.CreatedAt, device.LastUsedAt,
	)
	return database.MapPostgresError(err)
}

func (s *PostgresStore) DeleteDevice(ctx context.Context, userID, deviceID string) error {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM biometric_devices WHERE id = $1 AND user_id = $2`, deviceID, userID)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetLinkedAccounts(ctx context.Context, userID string) ([]*models.LinkedAccount, error) {
	query := `
		SELECT id, user_id, provider, provider_user_id, email, created_at
		FROM linked_accounts WHERE user_id = $1 ORDER BY created_at
	`

	rows, err := s.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	defer rows.Close()

	links := make([]*models.LinkedAccount, 0)
	for rows.Next() {
		var link models.LinkedAccount
		if err := rows.Scan(&link.ID, &link.UserID, &link.Provider, &link.ProviderUserID, &link.Email, &link.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, &link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return links, nil
}

func (s *PostgresStore) FindLink(ctx context.Context, provider, providerUserID string) (*models.LinkedAccount, error) {
	query := `
		SELECT id, user_id, provider, provider_user_id, email, created_at
		FROM linked_accounts WHERE provider = $1 AND provider_user_id = $2
	`

	var link models.LinkedAccount
	err := s.db.Pool.QueryRow(ctx, query, provider, providerUserID).Scan(
		&link.ID, &link.UserID, &link.Provider, &link.ProviderUserID, &link.Email, &link.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &link, nil
}

func (s *PostgresStore) SaveLink(ctx context.Context, link *models.LinkedAccount) error {
	if link.ID == "" {
		link.ID = uuid.New().String()
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO linked_accounts (id, user_id, provider, provider_user_id, email, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, provider_user_id) DO NOTHING
	`

	_, err := s.db.Pool.Exec(ctx, query, link.ID, link.UserID, link.Provider, link.ProviderUserID, link.Email, link.CreatedAt)
	return database.MapPostgresError(err)
}

func (s *PostgresStore) DeleteLink(ctx context.Context, userID, provider string) error {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM linked_accounts WHERE user_id = $1 AND provider = $2`, userID, provider)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindOrCreateUserFromExternalProfile(ctx context.Context, profile *models.ExternalProfile) (*models.User, error) {
	if link, err := s.FindLink(ctx, profile.Provider, profile.ProviderUserID); err == nil {
		return s.GetUserByID(ctx, link.UserID)
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	user, err := s.GetUserByEmail(ctx, profile.Email)
	if errors.Is(err, models.ErrNotFound) {
		now := time.Now()
		user = &models.User{
			ID:        uuid.New().String(),
			Email:     strings.ToLower(profile.Email),
			Name:      profile.Name,
			Status:    "active",
			CreatedAt: now,
			UpdatedAt: now,
		}
		query := `
			INSERT INTO users (id, email, password_hash, name, mfa_enabled, status, created_at, updated_at)
			VALUES ($1, $2, NULL, $3, FALSE, $4, $5, $6)
		`
		if _, err := s.db.Pool.Exec(ctx, query, user.ID, user.Email, user.Name, user.Status, user.CreatedAt, user.UpdatedAt); err != nil {
			return nil, database.MapPostgresError(err)
		}
	} else if err != nil {
		return nil, err
	}

	err = s.SaveLink(ctx, &models.LinkedAccount{
		UserID:         user.ID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}
