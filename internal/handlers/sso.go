package handlers

import (
	"context"
	"encoding/xml"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lekesiz/bdc-auth/internal/middleware"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/sso"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
)

// LinkServiceInterface defines the account linking operations the handler needs
type LinkServiceInterface interface {
	List(ctx context.Context, userID string) ([]*models.LinkedAccount, error)
	Unlink(ctx context.Context, userID, provider string) error
}

// SSOHandler handles linked account management and SAML metadata
type SSOHandler struct {
	links     LinkServiceInterface
	registry  *sso.Registry
	providers []string
}

// NewSSOHandler creates a new SSOHandler
func NewSSOHandler(links LinkServiceInterface, registry *sso.Registry) *SSOHandler {
	return &SSOHandler{
		links:     links,
		registry:  registry,
		providers: registry.Names(),
	}
}

// linkedAccountView is the API shape for a linked external account
type linkedAccountView struct {
	Provider string `json:"provider"`
	Email    string `json:"email,omitempty"`
	LinkedAt string `json:"linked_at"`
}

// Providers lists the identity providers available for sign-in
// @Summary List configured identity providers
// @Produce json
// @Success 200 {object} map[string][]string
// @Router /sso/providers [get]
func (h *SSOHandler) Providers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"providers": h.providers})
}

// ListLinks returns the external accounts linked to the user
// @Summary List linked accounts
// @Produce json
// @Success 200 {array} linkedAccountView
// @Failure 401 {object} ErrorResponse
// @Router /sso/links [get]
func (h *SSOHandler) ListLinks(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	links, err := h.links.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]linkedAccountView, 0, len(links))
	for _, link := range links {
		views = append(views, linkedAccountView{
			Provider: link.Provider,
			Email:    link.Email,
			LinkedAt: link.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

// Unlink removes a linked external account. Requires an elevated session.
// @Summary Unlink an external account
// @Success 204
// @Failure 409 {object} ErrorResponse
// @Router /sso/links/{provider} [delete]
func (h *SSOHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	provider := chi.URLParam(r, "provider")
	if err := h.links.Unlink(r.Context(), userID, provider); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SAMLMetadata serves the service provider metadata document
// @Summary SAML SP metadata
// @Produce xml
// @Success 200
// @Failure 404 {object} ErrorResponse
// @Router /sso/saml/{provider}/metadata [get]
func (h *SSOHandler) SAMLMetadata(w http.ResponseWriter, r *http.Request) {
	provider, err := h.registry.Get(chi.URLParam(r, "provider"))
	if err != nil {
		pkghttp.WriteNotFound(w, "Provider not found")
		return
	}
	samlProvider, ok := provider.(*sso.SAMLProvider)
	if !ok {
		pkghttp.WriteNotFound(w, "Provider not found")
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	if err := xml.NewEncoder(w).Encode(samlProvider.Metadata()); err != nil {
		// headers already sent, nothing more to do
		return
	}
}
