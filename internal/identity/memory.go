package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lekesiz/bdc-auth/internal/models"
	pkgauth "github.com/lekesiz/bdc-auth/pkg/auth"
)

// MemoryStore is a process-local identity store for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*models.User // by ID
	secrets map[string]*models.MFASecret
	devices map[string][]*models.BiometricDevice
	links   map[string][]*models.LinkedAccount // by user ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*models.User),
		secrets: make(map[string]*models.MFASecret),
		devices: make(map[string][]*models.BiometricDevice),
		links:   make(map[string][]*models.LinkedAccount),
	}
}

// SeedUser registers a user with a plaintext password, for development
// bootstrap and tests.
func (s *MemoryStore) SeedUser(email, password, name string) (*models.User, error) {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	user := &models.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		Name:         name,
		Status:       "active",
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	return user, nil
}

func (s *MemoryStore) FindUserByCredentials(_ context.Context, username, password string) (*models.User, error) {
	s.mu.RLock()
	var found *models.User
	for _, user := range s.users {
		if user.Email == strings.ToLower(strings.TrimSpace(username)) {
			found = user
			break
		}
	}
	s.mu.RUnlock()

	if found == nil || found.PasswordHash == "" {
		// Burn comparable time so unknown users are not distinguishable
		// from wrong passwords.
		_ = pkgauth.ComparePassword("$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW", password)
		return nil, models.ErrCredentialRejected
	}
	if err := pkgauth.ComparePassword(found.PasswordHash, password); err != nil {
		return nil, models.ErrCredentialRejected
	}

	dup := *found
	return &dup, nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	dup := *user
	return &dup, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, user := range s.users {
		if user.Email == strings.ToLower(email) {
			dup := *user
			return &dup, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStore) GetMFASecret(_ context.Context, userID string) (*models.MFASecret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	secret, ok := s.secrets[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	dup := *secret
	dup.BackupCodes = append([][]byte(nil), secret.BackupCodes...)
	return &dup, nil
}

func (s *MemoryStore) SaveMFASecret(_ context.Context, secret *models.MFASecret) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *secret
	dup.BackupCodes = append([][]byte(nil), secret.BackupCodes...)
	s.secrets[secret.UserID] = &dup
	return nil
}

func (s *MemoryStore) UpdateBackupCodes(_ context.Context, userID string, codes [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[userID]
	if !ok {
		return models.ErrNotFound
	}
	secret.BackupCodes = append([][]byte(nil), codes...)
	return nil
}

func (s *MemoryStore) MarkMFAVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	secret, ok := s.secrets[userID]
	if !ok {
		return models.ErrNotFound
	}
	secret.Verified = true

	if user, ok := s.users[userID]; ok {
		user.MFAEnabled = true
		user.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) DeleteMFASecret(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.secrets, userID)
	if user, ok := s.users[userID]; ok {
		user.MFAEnabled = false
		user.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryStore) GetUserDevices(_ context.Context, userID string) ([]*models.BiometricDevice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*models.BiometricDevice, 0, len(s.devices[userID]))
	for _, device := range s.devices[userID] {
		dup := *device
		devices = append(devices, &dup)
	}
	return devices, nil
}

func (s *MemoryStore) SaveDevice(_ context.Context, device *models.BiometricDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *device
	for i, existing := range s.devices[device.UserID] {
		if existing.ID == device.ID {
			s.devices[device.UserID][i] = &dup
			return nil
		}
	}
	s.devices[device.UserID] = append(s.devices[device.UserID], &dup)
	return nil
}

func (s *MemoryStore) DeleteDevice(_ context.Context, userID, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	devices := s.devices[userID]
	for i, device := range devices {
		if device.ID == deviceID {
			s.devices[userID] = append(devices[:i], devices[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *MemoryStore) GetLinkedAccounts(_ context.Context, userID string) ([]*models.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	links := make([]*models.LinkedAccount, 0, len(s.links[userID]))
	for _, link := range s.links[userID] {
		dup := *link
		links = append(links, &dup)
	}
	return links, nil
}

func (s *MemoryStore) FindLink(_ context.Context, provider, providerUserID string) (*models.LinkedAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, links := range s.links {
		for _, link := range links {
			if link.Provider == provider && link.ProviderUserID == providerUserID {
				dup := *link
				return &dup, nil
			}
		}
	}
	return nil, models.ErrNotFound
}

func (s *MemoryStore) SaveLink(_ context.Context, link *models.LinkedAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.links[link.UserID] {
		if existing.Provider == link.Provider && existing.ProviderUserID == link.ProviderUserID {
			return nil // idempotent
		}
	}

	dup := *link
	if dup.ID == "" {
		dup.ID = uuid.New().String()
	}
	if dup.CreatedAt.IsZero() {
		dup.CreatedAt = time.Now()
	}
	s.links[link.UserID] = append(s.links[link.UserID], &dup)
	return nil
}

func (s *MemoryStore) DeleteLink(_ context.Context, userID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	links := s.links[userID]
	for i, link := range links {
		if link.Provider == provider {
			s.links[userID] = append(links[:i], links[i+1:]...)
			return nil
		}
	}
	return models.ErrNotFound
}

func (s *MemoryStore) FindOrCreateUserFromExternalProfile(ctx context.Context, profile *models.ExternalProfile) (*models.User, error) {
	if link, err := s.FindLink(ctx, profile.Provider, profile.ProviderUserID); err == nil {
		return s.GetUserByID(ctx, link.UserID)
	}

	user, err := s.GetUserByEmail(ctx, profile.Email)
	if err != nil {
		s.mu.Lock()
		now := time.Now()
		user = &models.User{
			ID:        uuid.New().String(),
			Email:     strings.ToLower(profile.Email),
			Name:      profile.Name,
			Status:    "active",
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.users[user.ID] = user
		dup := *user
		user = &dup
		s.mu.Unlock()
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
