package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lekesiz/bdc-auth/internal/handlers"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/sso"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry() *sso.Registry {
	return sso.NewRegistry(
		sso.NewGoogleProvider(sso.OAuthCredentials{ClientID: "id", ClientSecret: "secret", RedirectURL: "https://app.example.com/callback"}),
		sso.NewGitHubProvider(sso.OAuthCredentials{ClientID: "id", ClientSecret: "secret", RedirectURL: "https://app.example.com/callback"}),
	)
}

func TestProviders_PublicList(t *testing.T) {
	handler := handlers.NewSSOHandler(&handlers.MockLinkService{}, testRegistry())
	req := handlers.NewTestRequest(t, "GET", "/sso/providers", nil)

	w := httptest.NewRecorder()
	handler.Providers(w, req)

	var resp map[string][]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.ElementsMatch(t, []string{"google", "github"}, resp["providers"])
}

func TestListLinks(t *testing.T) {
	mock := &handlers.MockLinkService{
		ListFunc: func(ctx context.Context, userID string) ([]*models.LinkedAccount, error) {
			assert.Equal(t, "user-1", userID)
			return []*models.LinkedAccount{
				{Provider: "google", Email: "u@example.com", CreatedAt: time.Now()},
			}, nil
		},
	}

	handler := handlers.NewSSOHandler(mock, testRegistry())
	req := handlers.NewTestRequest(t, "GET", "/sso/links", nil)
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))

	w := httptest.NewRecorder()
	handler.ListLinks(w, req)

	var resp []map[string]any
	handlers.AssertJSONResponse(t, w, 200, &resp)
	require.Len(t, resp, 1)
	assert.Equal(t, "google", resp[0]["provider"])
	assert.Equal(t, "u@example.com", resp[0]["email"])
}

func TestListLinks_Unauthenticated(t *testing.T) {
	handler := handlers.NewSSOHandler(&handlers.MockLinkService{}, testRegistry())
	req := handlers.NewTestRequest(t, "GET", "/sso/links", nil)

	w := httptest.NewRecorder()
	handler.ListLinks(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestUnlink(t *testing.T) {
	var unlinked string
	mock := &handlers.MockLinkService{
		UnlinkFunc: func(ctx context.Context, userID, provider string) error {
			unlinked = provider
			return nil
		},
	}

	handler := handlers.NewSSOHandler(mock, testRegistry())
	req := handlers.NewTestRequest(t, "DELETE", "/sso/links/github", nil)
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))
	req = handlers.WithChiRouteContext(req, map[string]string{"provider": "github"})

	w := httptest.NewRecorder()
	handler.Unlink(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "github", unlinked)
}

func TestUnlink_LastSignInMethod(t *testing.T) {
	mock := &handlers.MockLinkService{
		UnlinkFunc: func(ctx context.Context, userID, provider string) error {
			return models.ErrConflict
		},
	}

	handler := handlers.NewSSOHandler(mock, testRegistry())
	req := handlers.NewTestRequest(t, "DELETE", "/sso/links/google", nil)
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))
	req = handlers.WithChiRouteContext(req, map[string]string{"provider": "google"})

	w := httptest.NewRecorder()
	handler.Unlink(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestSAMLMetadata_NonSAMLProvider(t *testing.T) {
	handler := handlers.NewSSOHandler(&handlers.MockLinkService{}, testRegistry())
	req := handlers.NewTestRequest(t, "GET", "/sso/saml/google/metadata", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"provider": "google"})

	w := httptest.NewRecorder()
	handler.SAMLMetadata(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestSAMLMetadata_UnknownProvider(t *testing.T) {
	handler := handlers.NewSSOHandler(&handlers.MockLinkService{}, testRegistry())
	req := handlers.NewTestRequest(t, "GET", "/sso/saml/okta/metadata", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"provider": "okta"})

	w := httptest.NewRecorder()
	handler.SAMLMetadata(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}
