package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lekesiz/bdc-auth/internal/middleware"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/session"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
)

// SessionServiceInterface defines the session operations the handler needs
type SessionServiceInterface interface {
	Refresh(ctx context.Context, refreshToken string) (*models.Session, *session.TokenPair, error)
	Terminate(ctx context.Context, id string) error
	TerminateAllExcept(ctx context.Context, userID, keepID string) (int, error)
	List(ctx context.Context, userID string) ([]*models.Session, error)
	Elevate(ctx context.Context, id string, duration time.Duration) error
}

// StepUpVerifierInterface verifies a second factor outside a login flow
type StepUpVerifierInterface interface {
	VerifyFactor(ctx context.Context, userID, factor, code string) (bool, error)
}

// SessionHandler handles session lifecycle HTTP requests
type SessionHandler struct {
	sessions          SessionServiceInterface
	stepUp            StepUpVerifierInterface
	elevationDuration time.Duration
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(sessions SessionServiceInterface, stepUp StepUpVerifierInterface, elevationDuration time.Duration) *SessionHandler {
	return &SessionHandler{
		sessions:          sessions,
		stepUp:            stepUp,
		elevationDuration: elevationDuration,
	}
}

// RefreshRequest represents the request body for token refresh
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// ElevateRequest represents the request body for session elevation
type ElevateRequest struct {
	Factor string `json:"factor" validate:"required,oneof=totp backup_code"`
	Code   string `json:"code" validate:"required,min=6,max=16"`
}

// RefreshResponse carries the rotated token pair
type RefreshResponse struct {
	Session *models.Session    `json:"session"`
	Tokens  *session.TokenPair `json:"tokens"`
}

// Refresh handles token refresh with rotation
// @Summary Refresh token pair
// @Accept json
// @Param request body RefreshRequest true "Refresh request"
// @Produce json
// @Success 200 {object} RefreshResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	sess, tokens, err := h.sessions.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Session: sess, Tokens: tokens})
}

// Logout terminates the current session
// @Summary Log out
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout [post]
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.sessions.Terminate(r.Context(), sess.ID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll terminates every other session of the user
// @Summary Log out everywhere else
// @Produce json
// @Success 200 {object} map[string]int
// @Failure 401 {object} ErrorResponse
// @Router /auth/logout-all [post]
func (h *SessionHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	terminated, err := h.sessions.TerminateAllExcept(r.Context(), sess.UserID, sess.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"terminated": terminated})
}

// List returns the user's active sessions
// @Summary List active sessions
// @Produce json
// @Success 200 {array} models.Session
// @Failure 401 {object} ErrorResponse
// @Router /sessions [get]
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.sessions.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Terminate revokes one of the user's sessions by ID
// @Summary Terminate a session
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /sessions/{sessionID} [delete]
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	targetID := chi.URLParam(r, "sessionID")

	// Only the owner may revoke a session; look it up through the user's
	// own list to avoid exposing other sessions' existence.
	sessions, err := h.sessions.List(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	for _, sess := range sessions {
		if sess.ID == targetID {
			if err := h.sessions.Terminate(r.Context(), targetID); err != nil {
				writeDomainError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	pkghttp.WriteNotFound(w, "Session not found")
}

// Elevate grants a time-boxed elevated trust level after the user
// re-verifies a second factor.
// @Summary Elevate the current session
// @Accept json
// @Param request body ElevateRequest true "Step-up verification"
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 401 {object} ErrorResponse
// @Router /sessions/elevate [post]
func (h *SessionHandler) Elevate(w http.ResponseWriter, r *http.Request) {
	sess := middleware.SessionFromContext(r.Context())
	if sess == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ElevateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ok, err := h.stepUp.VerifyFactor(r.Context(), sess.UserID, req.Factor, req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		pkghttp.WriteUnauthorized(w, "Verification failed")
		return
	}

	if err := h.sessions.Elevate(r.Context(), sess.ID, h.elevationDuration); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"elevated_until": time.Now().Add(h.elevationDuration).UTC().Format(time.RFC3339),
	})
}
