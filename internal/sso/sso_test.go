package sso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/lekesiz/bdc-auth/internal/identity"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestRegistry(t *testing.T) {
	google := NewGoogleProvider(OAuthCredentials{ClientID: "id", ClientSecret: "secret", RedirectURL: "https://auth.example.com/callback"})
	github := NewGitHubProvider(OAuthCredentials{ClientID: "id", ClientSecret: "secret", RedirectURL: "https://auth.example.com/callback"})

	registry := NewRegistry(google, github)

	assert.Equal(t, []string{"github", "google"}, registry.Names())

	p, err := registry.Get("google")
	require.NoError(t, err)
	assert.Equal(t, "google", p.Name())

	_, err = registry.Get("okta")
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestOAuthBeginCarriesState(t *testing.T) {
	p := NewGoogleProvider(OAuthCredentials{ClientID: "client-1", ClientSecret: "secret", RedirectURL: "https://auth.example.com/callback"})

	redirectURL, requestID, err := p.Begin("state-abc")
	require.NoError(t, err)
	assert.Empty(t, requestID)

	parsed, err := url.Parse(redirectURL)
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "state-abc", query.Get("state"))
	assert.Equal(t, "client-1", query.Get("client_id"))
	assert.Equal(t, "code", query.Get("response_type"))
	assert.Equal(t, "https://auth.example.com/callback", query.Get("redirect_uri"))
}

func TestOAuthComplete(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "code-123", r.FormValue("code"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-xyz",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token-xyz", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":    "google-user-1",
			"email": "Jane@Example.com",
			"name":  "Jane Doe",
		})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	p := &OAuthProvider{
		name: "google",
		config: &oauth2.Config{
			ClientID:     "client-1",
			ClientSecret: "secret",
			RedirectURL:  "https://auth.example.com/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:  server.URL + "/auth",
				TokenURL: server.URL + "/token",
			},
		},
		userInfoURL: server.URL + "/userinfo",
		mapProfile:  mapGoogleProfile,
	}

	profile, err := p.Complete(context.Background(), CallbackData{Code: "code-123"})
	require.NoError(t, err)
	assert.Equal(t, "google", profile.Provider)
	assert.Equal(t, "google-user-1", profile.ProviderUserID)
	assert.Equal(t, "jane@example.com", profile.Email)
	assert.Equal(t, "Jane Doe", profile.Name)
}

func TestOAuthCompleteProviderDown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()

	p := &OAuthProvider{
		name: "google",
		config: &oauth2.Config{
			ClientID: "client-1",
			Endpoint: oauth2.Endpoint{TokenURL: server.URL + "/token"},
		},
		userInfoURL: server.URL + "/userinfo",
		mapProfile:  mapGoogleProfile,
	}

	_, err := p.Complete(context.Background(), CallbackData{Code: "code-123"})
	assert.ErrorIs(t, err, models.ErrProviderError)
}

func TestOAuthCompleteMissingCode(t *testing.T) {
	p := NewGitHubProvider(OAuthCredentials{ClientID: "id"})
	_, err := p.Complete(context.Background(), CallbackData{})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestMapGitHubProfile(t *testing.T) {
	raw := map[string]json.RawMessage{
		"id":    json.RawMessage(`8437261`),
		"login": json.RawMessage(`"janedoe"`),
		"email": json.RawMessage(`"jane@example.com"`),
	}

	profile, err := mapGitHubProfile(raw)
	require.NoError(t, err)
	assert.Equal(t, "8437261", profile.ProviderUserID)
	assert.Equal(t, "janedoe", profile.Name, "falls back to login when name is absent")

	_, err = mapGitHubProfile(map[string]json.RawMessage{"login": json.RawMessage(`"janedoe"`)})
	assert.ErrorIs(t, err, models.ErrProviderError)
}

func TestMapGoogleProfileMissingEmail(t *testing.T) {
	_, err := mapGoogleProfile(map[string]json.RawMessage{"id": json.RawMessage(`"u1"`)})
	assert.ErrorIs(t, err, models.ErrProviderError)
}

func TestLinkServiceResolveCreatesOnce(t *testing.T) {
	store := identity.NewMemoryStore()
	svc := NewLinkService(store)
	ctx := context.Background()

	profile := &models.ExternalProfile{
		Provider:       "google",
		ProviderUserID: "google-user-1",
		Email:          "jane@example.com",
		Name:           "Jane Doe",
	}

	first, err := svc.ResolveUser(ctx, profile)
	require.NoError(t, err)

	second, err := svc.ResolveUser(ctx, profile)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "repeat callbacks resolve to the same user")

	links, err := svc.List(ctx, first.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
}

func TestLinkRejectsForeignIdentity(t *testing.T) {
	store := identity.NewMemoryStore()
	svc := NewLinkService(store)
	ctx := context.Background()

	owner, err := store.SeedUser("owner@example.com", "pw-owner-1", "Owner")
	require.NoError(t, err)
	other, err := store.SeedUser("other@example.com", "pw-other-1", "Other")
	require.NoError(t, err)

	profile := &models.ExternalProfile{Provider: "github", ProviderUserID: "42", Email: "owner@example.com"}

	_, err = svc.Link(ctx, owner.ID, profile)
	require.NoError(t, err)

	// Linking the same identity again for the owner is a no-op.
	_, err = svc.Link(ctx, owner.ID, profile)
	require.NoError(t, err)

	_, err = svc.Link(ctx, other.ID, profile)
	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestUnlinkKeepsLastSignInMethod(t *testing.T) {
	store := identity.NewMemoryStore()
	svc := NewLinkService(store)
	ctx := context.Background()

	// SSO-only user: no password hash.
	user, err := svc.ResolveUser(ctx, &models.ExternalProfile{
		Provider:       "google",
		ProviderUserID: "google-user-1",
		Email:          "jane@example.com",
	})
	require.NoError(t, err)

	err = svc.Unlink(ctx, user.ID, "google")
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = svc.Link(ctx, user.ID, &models.ExternalProfile{Provider: "github", ProviderUserID: "42", Email: "jane@example.com"})
	require.NoError(t, err)

	require.NoError(t, svc.Unlink(ctx, user.ID, "google"))

	links, err := svc.List(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "github", links[0].Provider)
}
