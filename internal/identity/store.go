// Package identity defines the contract the authentication core consumes
// from the identity store that holds user credentials, MFA secrets, linked
// SSO accounts, and registered biometric devices. The core treats all of it
// as fallible I/O and never embeds storage specifics.
package identity

import (
	"context"

	"github.com/lekesiz/bdc-auth/internal/models"
)

// Store is the identity-store contract.
//
// FindUserByCredentials returns models.ErrCredentialRejected for an unknown
// username and for a wrong password alike; callers must not be able to tell
// the two apart. Password hashing policy belongs to the implementation.
type Store interface {
	FindUserByCredentials(ctx context.Context, username, password string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	GetMFASecret(ctx context.Context, userID string) (*models.MFASecret, error)
	SaveMFASecret(ctx context.Context, secret *models.MFASecret) error
	// UpdateBackupCodes persists the remaining encrypted set after a backup
	// code has been consumed or the set regenerated.
	UpdateBackupCodes(ctx context.Context, userID string, codes [][]byte) error
	// MarkMFAVerified records the first successful TOTP verification and
	// enables MFA for the user.
	MarkMFAVerified(ctx context.Context, userID string) error
	DeleteMFASecret(ctx context.Context, userID string) error

	GetUserDevices(ctx context.Context, userID string) ([]*models.BiometricDevice, error)
	SaveDevice(ctx context.Context, device *models.BiometricDevice) error
	DeleteDevice(ctx context.Context, userID, deviceID string) error

	GetLinkedAccounts(ctx context.Context, userID string) ([]*models.LinkedAccount, error)
	FindLink(ctx context.Context, provider, providerUserID string) (*models.LinkedAccount, error)
	// SaveLink is idempotent on (Provider, ProviderUserID).
	SaveLink(ctx context.Context, link *models.LinkedAccount) error
	DeleteLink(ctx context.Context, userID, provider string) error

	// FindOrCreateUserFromExternalProfile resolves an SSO callback to a
	// local user: by existing link first, then by email, creating the user
	// when neither matches. The link is persisted either way.
	FindOrCreateUserFromExternalProfile(ctx context.Context, profile *models.ExternalProfile) (*models.User, error)
}
