package sso

import (
	"context"
	"errors"
	"fmt"

	"github.com/lekesiz/bdc-auth/internal/identity"
	"github.com/lekesiz/bdc-auth/internal/models"
)

// LinkService manages the associations between local users and their
// external identities.
type LinkService struct {
	store identity.Store
}

func NewLinkService(store identity.Store) *LinkService {
	return &LinkService{store: store}
}

// ResolveUser maps an asserted external profile to a local user, creating
// the user and the link on first login.
func (s *LinkService) ResolveUser(ctx context.Context, profile *models.ExternalProfile) (*models.User, error) {
	return s.store.FindOrCreateUserFromExternalProfile(ctx, profile)
}

// Link attaches an external identity to an existing, already
// authenticated user. An identity linked to a different user is rejected.
func (s *LinkService) Link(ctx context.Context, userID string, profile *models.ExternalProfile) (*models.LinkedAccount, error) {
	existing, err := s.store.FindLink(ctx, profile.Provider, profile.ProviderUserID)
	if err == nil {
		if existing.UserID != userID {
			return nil, fmt.Errorf("%w: identity already linked to another account", models.ErrConflict)
		}
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}

	link := &models.LinkedAccount{
		UserID:         userID,
		Provider:       profile.Provider,
		ProviderUserID: profile.ProviderUserID,
		Email:          profile.Email,
	}
	if err := s.store.SaveLink(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

// Unlink removes a provider association. The last sign-in method of a
// passwordless user cannot be removed.
func (s *LinkService) Unlink(ctx context.Context, userID, provider string) error {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if user.PasswordHash == "" {
		links, err := s.store.GetLinkedAccounts(ctx, userID)
		if err != nil {
			return err
		}
		if len(links) <= 1 {
			return fmt.Errorf("%w: cannot remove the only sign-in method", models.ErrConflict)
		}
	}
	return s.store.DeleteLink(ctx, userID, provider)
}

func (s *LinkService) List(ctx context.Context, userID string) ([]*models.LinkedAccount, error) {
	return s.store.GetLinkedAccounts(ctx, userID)
}
