package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/lekesiz/bdc-auth/internal/mfa"
	"github.com/lekesiz/bdc-auth/internal/middleware"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
)

// MFAServiceInterface defines the MFA management operations the handler needs
type MFAServiceInterface interface {
	StartEnrollment(ctx context.Context, userID string) (*mfa.Enrollment, error)
	ActivateEnrollment(ctx context.Context, userID, code string) error
	RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error)
	Disable(ctx context.Context, userID string) error
}

// MFAHandler handles MFA enrollment HTTP requests
type MFAHandler struct {
	service MFAServiceInterface
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

// ActivateMFARequest represents the request body for confirming enrollment
type ActivateMFARequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// EnrollmentResponse carries the secret material shown to the user once
type EnrollmentResponse struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	QRCode      string   `json:"qr_code"`
	BackupCodes []string `json:"backup_codes"`
}

// Enroll starts TOTP enrollment and returns the provisioning material.
// The secret stays pending until Activate confirms a valid code.
// @Summary Start MFA enrollment
// @Produce json
// @Success 200 {object} EnrollmentResponse
// @Failure 409 {object} ErrorResponse
// @Router /mfa/enroll [post]
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	enrollment, err := h.service.StartEnrollment(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, EnrollmentResponse{
		Secret:      enrollment.Secret,
		OTPAuthURL:  enrollment.OTPAuthURL,
		QRCode:      enrollment.QRCode,
		BackupCodes: enrollment.BackupCodes,
	})
}

// Activate confirms a pending enrollment with a live code
// @Summary Activate MFA
// @Accept json
// @Param request body ActivateMFARequest true "Verification code"
// @Success 204
// @Failure 401 {object} ErrorResponse
// @Router /mfa/activate [post]
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req ActivateMFARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.ActivateEnrollment(r.Context(), userID, req.Code); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes replaces the remaining backup codes. Requires an
// elevated session.
// @Summary Regenerate backup codes
// @Produce json
// @Success 200 {object} map[string][]string
// @Failure 403 {object} ErrorResponse
// @Router /mfa/backup-codes [post]
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	codes, err := h.service.RegenerateBackupCodes(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"backup_codes": codes})
}

// Disable removes the user's MFA enrollment. Requires an elevated session.
// @Summary Disable MFA
// @Success 204
// @Failure 403 {object} ErrorResponse
// @Router /mfa [delete]
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.Disable(r.Context(), userID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
