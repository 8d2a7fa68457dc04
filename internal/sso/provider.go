// Package sso implements federated login against external identity
// providers. OAuth2 and SAML providers share one Provider contract so the
// flow orchestrator can treat a callback uniformly.
package sso

import (
	"context"
	"fmt"
	"sort"

	"github.com/lekesiz/bdc-auth/internal/models"
)

// CallbackData carries the provider-specific parameters of a callback
// request. Code is set for OAuth2 providers, SAMLResponse for SAML ones.
type CallbackData struct {
	Code         string
	SAMLResponse string
	// RequestID is the outbound SAML request ID issued by Begin. SAML
	// responses to any other request are rejected.
	RequestID string
}

// Provider is one configured external identity provider.
type Provider interface {
	Name() string

	// Begin returns the URL the user agent must be redirected to. The
	// state value is echoed back on the callback. requestID is non-empty
	// only for SAML providers and must be round-tripped in CallbackData.
	Begin(state string) (redirectURL string, requestID string, err error)

	// Complete validates the callback and returns the asserted external
	// identity. Validation failures surface as models.ErrProviderError or
	// models.ErrTokenInvalid.
	Complete(ctx context.Context, callback CallbackData) (*models.ExternalProfile, error)
}

// Registry holds the configured providers keyed by name.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown provider %q", models.ErrBadRequest, name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
