package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lekesiz/bdc-auth/internal/flow"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/session"
	"github.com/lekesiz/bdc-auth/internal/sso"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
)

// FlowOrchestratorInterface defines the flow operations the handler needs
type FlowOrchestratorInterface interface {
	StartFlow(ctx context.Context, input flow.StartInput) (*flow.StartResult, error)
	GetFlow(ctx context.Context, id string) (*models.FlowState, error)
	SubmitCredentials(ctx context.Context, flowID, username, password string) (*flow.Result, error)
	SelectFactor(ctx context.Context, flowID, factor string) (*flow.Result, error)
	VerifyMFA(ctx context.Context, flowID, factor, code string) (*flow.Result, error)
	HandleSSOCallback(ctx context.Context, flowID, state string, callback sso.CallbackData) (*flow.Result, error)
	VerifyBiometric(ctx context.Context, flowID string, response io.Reader) (*flow.Result, error)
}

// FlowHandler handles authentication flow HTTP requests
type FlowHandler struct {
	orchestrator FlowOrchestratorInterface
	ipConfig     *pkghttp.IPConfig
}

// NewFlowHandler creates a new FlowHandler
func NewFlowHandler(orchestrator FlowOrchestratorInterface, ipConfig *pkghttp.IPConfig) *FlowHandler {
	return &FlowHandler{
		orchestrator: orchestrator,
		ipConfig:     ipConfig,
	}
}

// Request DTOs

// StartFlowRequest represents the request body for starting a flow
type StartFlowRequest struct {
	Method     string `json:"method" validate:"required,oneof=password sso biometric"`
	Provider   string `json:"provider" validate:"required_if=Method sso"`
	Identifier string `json:"identifier" validate:"required_if=Method biometric,omitempty,email"`
	RememberMe bool   `json:"remember_me"`
}

// SubmitCredentialsRequest represents the request body for the password step
type SubmitCredentialsRequest struct {
	Username string `json:"username" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SelectFactorRequest represents the request body for factor selection
type SelectFactorRequest struct {
	Factor string `json:"factor" validate:"required,oneof=totp backup_code"`
}

// VerifyMFARequest represents the request body for MFA verification
type VerifyMFARequest struct {
	Factor string `json:"factor" validate:"required,oneof=totp backup_code"`
	Code   string `json:"code" validate:"required,min=6,max=16"`
}

// FlowResponse represents the state of a flow returned to the client
type FlowResponse struct {
	FlowID            string             `json:"flow_id"`
	Step              models.FlowStep    `json:"step"`
	Method            string             `json:"method"`
	MFARequired       bool               `json:"mfa_required,omitempty"`
	Factors           []string           `json:"factors,omitempty"`
	AttemptsRemaining int                `json:"attempts_remaining"`
	ExpiresAt         time.Time          `json:"expires_at"`
	RedirectURL       string             `json:"redirect_url,omitempty"`
	AssertionOptions  interface{}        `json:"assertion_options,omitempty"`
	Session           *models.Session    `json:"session,omitempty"`
	Tokens            *session.TokenPair `json:"tokens,omitempty"`
}

func flowResponseFromState(state *models.FlowState) FlowResponse {
	remaining := state.MaxAttempts - state.Attempts
	if remaining < 0 {
		remaining = 0
	}
	return FlowResponse{
		FlowID:            state.ID,
		Step:              state.Step,
		Method:            state.Method,
		AttemptsRemaining: remaining,
		ExpiresAt:         state.ExpiresAt,
	}
}

func flowResponseFromResult(result *flow.Result) FlowResponse {
	resp := flowResponseFromState(result.Flow)
	resp.MFARequired = result.MFARequired
	resp.Factors = result.Factors
	resp.Session = result.Session
	resp.Tokens = result.Tokens
	return resp
}

// Start handles flow creation
// @Summary Start an authentication flow
// @Accept json
// @Param request body StartFlowRequest true "Start flow request"
// @Produce json
// @Success 201 {object} FlowResponse
// @Failure 400 {object} ErrorResponse
// @Router /auth/flows [post]
func (h *FlowHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartFlowRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Identifier = strings.ToLower(strings.TrimSpace(req.Identifier))

	result, err := h.orchestrator.StartFlow(r.Context(), flow.StartInput{
		Method:     req.Method,
		Provider:   req.Provider,
		Identifier: req.Identifier,
		RememberMe: req.RememberMe,
		Client:     pkghttp.ExtractClientContext(r, h.ipConfig),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := flowResponseFromState(result.Flow)
	resp.RedirectURL = result.RedirectURL
	if result.AssertionOptions != nil {
		resp.AssertionOptions = result.AssertionOptions
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Get handles flow status polling
// @Summary Get flow status
// @Produce json
// @Success 200 {object} FlowResponse
// @Failure 404 {object} ErrorResponse
// @Router /auth/flows/{flowID} [get]
func (h *FlowHandler) Get(w http.ResponseWriter, r *http.Request) {
	state, err := h.orchestrator.GetFlow(r.Context(), chi.URLParam(r, "flowID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponseFromState(state))
}

// SubmitCredentials handles the password step
// @Summary Submit credentials
// @Accept json
// @Param request body SubmitCredentialsRequest true "Credentials"
// @Produce json
// @Success 200 {object} FlowResponse
// @Failure 401 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/flows/{flowID}/credentials [post]
func (h *FlowHandler) SubmitCredentials(w http.ResponseWriter, r *http.Request) {
	var req SubmitCredentialsRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Username = strings.ToLower(strings.TrimSpace(req.Username))

	result, err := h.orchestrator.SubmitCredentials(r.Context(), chi.URLParam(r, "flowID"), req.Username, req.Password)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponseFromResult(result))
}

// SelectFactor handles second-factor selection
// @Summary Select MFA factor
// @Accept json
// @Param request body SelectFactorRequest true "Factor selection"
// @Produce json
// @Success 200 {object} FlowResponse
// @Failure 409 {object} ErrorResponse
// @Router /auth/flows/{flowID}/mfa/select [post]
func (h *FlowHandler) SelectFactor(w http.ResponseWriter, r *http.Request) {
	var req SelectFactorRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.orchestrator.SelectFactor(r.Context(), chi.URLParam(r, "flowID"), req.Factor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponseFromResult(result))
}

// VerifyMFA handles second-factor verification
// @Summary Verify MFA code
// @Accept json
// @Param request body VerifyMFARequest true "MFA verification"
// @Produce json
// @Success 200 {object} FlowResponse
// @Failure 401 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /auth/flows/{flowID}/mfa/verify [post]
func (h *FlowHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result, err := h.orchestrator.VerifyMFA(r.Context(), chi.URLParam(r, "flowID"), req.Factor, req.Code)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponseFromResult(result))
}

// SSOCallback handles the provider redirect back to us. OAuth2 providers
// arrive with GET query parameters, SAML with a POSTed form.
// @Summary Handle SSO provider callback
// @Produce json
// @Success 200 {object} FlowResponse
// @Failure 401 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /auth/flows/{flowID}/sso/callback [get]
func (h *FlowHandler) SSOCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		pkghttp.WriteBadRequest(w, "Malformed callback parameters")
		return
	}

	state := r.Form.Get("state")
	if state == "" {
		// SAML carries the round-tripped state in RelayState.
		state = r.Form.Get("RelayState")
	}

	callback := sso.CallbackData{
		Code:         r.Form.Get("code"),
		SAMLResponse: r.Form.Get("SAMLResponse"),
	}

	result, err := h.orchestrator.HandleSSOCallback(r.Context(), chi.URLParam(r, "flowID"), state, callback)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponseFromResult(result))
}

// VerifyBiometric handles the WebAuthn assertion for a biometric flow. The
// body is the authenticator's raw credential assertion response.
// @Summary Verify WebAuthn assertion
// @Accept json
// @Produce json
// @Success 200 {object} FlowResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/flows/{flowID}/biometric/verify [post]
func (h *FlowHandler) VerifyBiometric(w http.ResponseWriter, r *http.Request) {
	result, err := h.orchestrator.VerifyBiometric(r.Context(), chi.URLParam(r, "flowID"), r.Body)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flowResponseFromResult(result))
}
