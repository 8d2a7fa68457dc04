package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lekesiz/bdc-auth/internal/models"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
)

func writeJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeDomainError maps the error taxonomy onto HTTP status codes. Messages
// stay generic; the reason detail lives in the audit log, not the response.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrCredentialRejected):
		pkghttp.WriteUnauthorized(w, "Authentication failed")
	case errors.Is(err, models.ErrTooManyAttempts):
		pkghttp.WriteTooManyRequests(w, "Too many failed attempts")
	case errors.Is(err, models.ErrInvalidFlowState):
		pkghttp.WriteConflict(w, "Operation not valid for the current flow state")
	case errors.Is(err, models.ErrTokenInvalid):
		pkghttp.WriteUnauthorized(w, "Invalid or expired token")
	case errors.Is(err, models.ErrChallengeNotFound):
		pkghttp.WriteConflict(w, "No pending challenge; restart the ceremony")
	case errors.Is(err, models.ErrProviderError):
		pkghttp.WriteProviderError(w, "Identity provider request failed")
	case errors.Is(err, models.ErrStoreUnavailable):
		pkghttp.WriteStoreUnavailable(w, "Service temporarily unavailable")
	case errors.Is(err, models.ErrSessionNotFound):
		pkghttp.WriteUnauthorized(w, "Session is no longer active")
	case errors.Is(err, models.ErrElevationRequired):
		pkghttp.WriteForbidden(w, "Recent verification required for this operation")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Resource not found")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Request conflicts with current state")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "Invalid request")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "Forbidden")
	default:
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
