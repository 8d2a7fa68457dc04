package sso

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lekesiz/bdc-auth/internal/models"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
	"golang.org/x/oauth2/google"
)

const userInfoTimeout = 10 * time.Second

// profileMapper turns a provider's userinfo document into an
// ExternalProfile.
type profileMapper func(raw map[string]json.RawMessage) (*models.ExternalProfile, error)

// OAuthProvider implements Provider for the authorization-code grant.
type OAuthProvider struct {
	name        string
	config      *oauth2.Config
	userInfoURL string
	mapProfile  profileMapper
}

type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewGoogleProvider configures login with Google accounts.
func NewGoogleProvider(creds OAuthCredentials) *OAuthProvider {
	return &OAuthProvider{
		name: "google",
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		mapProfile:  mapGoogleProfile,
	}
}

// NewGitHubProvider configures login with GitHub accounts.
func NewGitHubProvider(creds OAuthCredentials) *OAuthProvider {
	return &OAuthProvider{
		name: "github",
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			RedirectURL:  creds.RedirectURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		userInfoURL: "https://api.github.com/user",
		mapProfile:  mapGitHubProfile,
	}
}

func (p *OAuthProvider) Name() string { return p.name }

func (p *OAuthProvider) Begin(state string) (string, string, error) {
	return p.config.AuthCodeURL(state), "", nil
}

func (p *OAuthProvider) Complete(ctx context.Context, callback CallbackData) (*models.ExternalProfile, error) {
	if callback.Code == "" {
		return nil, fmt.Errorf("%w: missing authorization code", models.ErrBadRequest)
	}

	token, err := p.config.Exchange(ctx, callback.Code)
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange with %s failed: %v", models.ErrProviderError, p.name, err)
	}

	raw, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, err
	}
	return p.mapProfile(raw)
}

func (p *OAuthProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (map[string]json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, userInfoTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create user info request: %w", err)
	}

	resp, err := p.config.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: user info request to %s failed: %v", models.ErrProviderError, p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %s user info returned status %d: %s", models.ErrProviderError, p.name, resp.StatusCode, string(body))
	}

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: failed to decode %s user info: %v", models.ErrProviderError, p.name, err)
	}
	return raw, nil
}

func mapGoogleProfile(raw map[string]json.RawMessage) (*models.ExternalProfile, error) {
	id := rawString(raw, "id")
	email := rawString(raw, "email")
	if id == "" || email == "" {
		return nil, fmt.Errorf("%w: google profile missing id or email", models.ErrProviderError)
	}
	return &models.ExternalProfile{
		Provider:       "google",
		ProviderUserID: id,
		Email:          strings.ToLower(email),
		Name:           rawString(raw, "name"),
		Raw:            rawToMap(raw),
	}, nil
}

func mapGitHubProfile(raw map[string]json.RawMessage) (*models.ExternalProfile, error) {
	// GitHub serializes the account ID as a JSON number.
	var id int64
	if payload, ok := raw["id"]; ok {
		if err := json.Unmarshal(payload, &id); err != nil || id == 0 {
			return nil, fmt.Errorf("%w: github profile has invalid id", models.ErrProviderError)
		}
	} else {
		return nil, fmt.Errorf("%w: github profile missing id", models.ErrProviderError)
	}

	name := rawString(raw, "name")
	if name == "" {
		name = rawString(raw, "login")
	}
	return &models.ExternalProfile{
		Provider:       "github",
		ProviderUserID: fmt.Sprintf("%d", id),
		Email:          strings.ToLower(rawString(raw, "email")),
		Name:           name,
		Raw:            rawToMap(raw),
	}, nil
}

func rawString(raw map[string]json.RawMessage, key string) string {
	payload, ok := raw[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(payload, &value); err != nil {
		return ""
	}
	return value
}

func rawToMap(raw map[string]json.RawMessage) map[string]any {
	out := make(map[string]any, len(raw))
	for key, payload := range raw {
		var value any
		if err := json.Unmarshal(payload, &value); err == nil {
			out[key] = value
		}
	}
	return out
}
