package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/lekesiz/bdc-auth/internal/identity"
	"github.com/lekesiz/bdc-auth/internal/middleware"
	"github.com/lekesiz/bdc-auth/internal/models"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
)

// BiometricServiceInterface defines the credential registration operations
// the handler needs
type BiometricServiceInterface interface {
	BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error)
	FinishRegistration(ctx context.Context, userID, deviceName string, response io.Reader) (*models.BiometricDevice, error)
}

// BiometricHandler handles authenticator registration and device management
type BiometricHandler struct {
	service BiometricServiceInterface
	devices identity.Store
}

// NewBiometricHandler creates a new BiometricHandler
func NewBiometricHandler(service BiometricServiceInterface, devices identity.Store) *BiometricHandler {
	return &BiometricHandler{service: service, devices: devices}
}

// RegisterOptions starts a credential creation ceremony
// @Summary Begin authenticator registration
// @Produce json
// @Success 200 {object} protocol.CredentialCreation
// @Failure 401 {object} ErrorResponse
// @Router /biometric/register/options [post]
func (h *BiometricHandler) RegisterOptions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	options, err := h.service.BeginRegistration(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, options)
}

// FinishRegister completes the ceremony and stores the new credential.
// The device name comes from the X-Device-Name header so the body can be
// passed through to the attestation parser untouched.
// @Summary Finish authenticator registration
// @Accept json
// @Produce json
// @Success 201 {object} deviceView
// @Failure 400 {object} ErrorResponse
// @Router /biometric/register [post]
func (h *BiometricHandler) FinishRegister(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	deviceName := r.Header.Get("X-Device-Name")
	if deviceName == "" {
		deviceName = "Authenticator"
	}

	device, err := h.service.FinishRegistration(r.Context(), userID, deviceName, r.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deviceView{
		ID:        device.ID,
		Name:      device.Name,
		CreatedAt: device.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// deviceView hides credential material from API responses
type deviceView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	CreatedAt  string `json:"created_at"`
	LastUsedAt string `json:"last_used_at,omitempty"`
}

// ListDevices returns the user's registered authenticators
// @Summary List registered authenticators
// @Produce json
// @Success 200 {array} deviceView
// @Failure 401 {object} ErrorResponse
// @Router /biometric/devices [get]
func (h *BiometricHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	devices, err := h.devices.GetUserDevices(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	views := make([]deviceView, 0, len(devices))
	for _, d := range devices {
		view := deviceView{
			ID:        d.ID,
			Name:      d.Name,
			CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		}
		if d.LastUsedAt != nil {
			view.LastUsedAt = d.LastUsedAt.UTC().Format(time.RFC3339)
		}
		views = append(views, view)
	}
	writeJSON(w, http.StatusOK, views)
}

// RenameDeviceRequest represents a device rename request
type RenameDeviceRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

// RenameDevice changes the display name of a registered authenticator
// @Summary Rename an authenticator
// @Accept json
// @Produce json
// @Success 200 {object} deviceView
// @Failure 404 {object} ErrorResponse
// @Router /biometric/devices/{deviceID} [patch]
func (h *BiometricHandler) RenameDevice(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req RenameDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	devices, err := h.devices.GetUserDevices(r.Context(), userID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	for _, d := range devices {
		if d.ID != deviceID {
			continue
		}
		d.Name = req.Name
		if err := h.devices.SaveDevice(r.Context(), d); err != nil {
			writeDomainError(w, err)
			return
		}
		view := deviceView{
			ID:        d.ID,
			Name:      d.Name,
			CreatedAt: d.CreatedAt.UTC().Format(time.RFC3339),
		}
		if d.LastUsedAt != nil {
			view.LastUsedAt = d.LastUsedAt.UTC().Format(time.RFC3339)
		}
		writeJSON(w, http.StatusOK, view)
		return
	}
	pkghttp.WriteNotFound(w, "Device not found")
}

// DeleteDevice removes a registered authenticator. Requires an elevated
// session.
// @Summary Delete an authenticator
// @Success 204
// @Failure 404 {object} ErrorResponse
// @Router /biometric/devices/{deviceID} [delete]
func (h *BiometricHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	deviceID := chi.URLParam(r, "deviceID")
	if err := h.devices.DeleteDevice(r.Context(), userID, deviceID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
