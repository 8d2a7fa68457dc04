package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/lekesiz/bdc-auth/internal/flow"
	"github.com/lekesiz/bdc-auth/internal/mfa"
	"github.com/lekesiz/bdc-auth/internal/middleware"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/session"
	"github.com/lekesiz/bdc-auth/internal/sso"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext marks the request as authenticated for the given user and
// session, as SessionAuth middleware would
func WithAuthContext(req *http.Request, userID string, sess *models.Session) *http.Request {
	return req.WithContext(middleware.NewAuthenticatedContext(req.Context(), userID, sess))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	contentType := w.Header().Get("Content-Type")
	assert.Equal(t, "application/json", contentType, "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// TestSession builds a live session for authenticated handler tests
func TestSession(userID string) *models.Session {
	now := time.Now()
	return &models.Session{
		ID:             "sess-test-1",
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(time.Hour),
	}
}

// MockFlowOrchestrator implements FlowOrchestratorInterface for testing
type MockFlowOrchestrator struct {
	StartFlowFunc         func(ctx context.Context, input flow.StartInput) (*flow.StartResult, error)
	GetFlowFunc           func(ctx context.Context, id string) (*models.FlowState, error)
	SubmitCredentialsFunc func(ctx context.Context, flowID, username, password string) (*flow.Result, error)
	SelectFactorFunc      func(ctx context.Context, flowID, factor string) (*flow.Result, error)
	VerifyMFAFunc         func(ctx context.Context, flowID, factor, code string) (*flow.Result, error)
	HandleSSOCallbackFunc func(ctx context.Context, flowID, state string, callback sso.CallbackData) (*flow.Result, error)
	VerifyBiometricFunc   func(ctx context.Context, flowID string, response io.Reader) (*flow.Result, error)
}

func (m *MockFlowOrchestrator) StartFlow(ctx context.Context, input flow.StartInput) (*flow.StartResult, error) {
	if m.StartFlowFunc == nil {
		return nil, models.ErrBadRequest
	}
	return m.StartFlowFunc(ctx, input)
}

func (m *MockFlowOrchestrator) GetFlow(ctx context.Context, id string) (*models.FlowState, error) {
	if m.GetFlowFunc == nil {
		return nil, models.ErrInvalidFlowState
	}
	return m.GetFlowFunc(ctx, id)
}

func (m *MockFlowOrchestrator) SubmitCredentials(ctx context.Context, flowID, username, password string) (*flow.Result, error) {
	if m.SubmitCredentialsFunc == nil {
		return nil, models.ErrCredentialRejected
	}
	return m.SubmitCredentialsFunc(ctx, flowID, username, password)
}

func (m *MockFlowOrchestrator) SelectFactor(ctx context.Context, flowID, factor string) (*flow.Result, error) {
	if m.SelectFactorFunc == nil {
		return nil, models.ErrInvalidFlowState
	}
	return m.SelectFactorFunc(ctx, flowID, factor)
}

func (m *MockFlowOrchestrator) VerifyMFA(ctx context.Context, flowID, factor, code string) (*flow.Result, error) {
	if m.VerifyMFAFunc == nil {
		return nil, models.ErrCredentialRejected
	}
	return m.VerifyMFAFunc(ctx, flowID, factor, code)
}

func (m *MockFlowOrchestrator) HandleSSOCallback(ctx context.Context, flowID, state string, callback sso.CallbackData) (*flow.Result, error) {
	if m.HandleSSOCallbackFunc == nil {
		return nil, models.ErrInvalidFlowState
	}
	return m.HandleSSOCallbackFunc(ctx, flowID, state, callback)
}

func (m *MockFlowOrchestrator) VerifyBiometric(ctx context.Context, flowID string, response io.Reader) (*flow.Result, error) {
	if m.VerifyBiometricFunc == nil {
		return nil, models.ErrCredentialRejected
	}
	return m.VerifyBiometricFunc(ctx, flowID, response)
}

// MockSessionService implements SessionServiceInterface for testing
type MockSessionService struct {
	RefreshFunc            func(ctx context.Context, refreshToken string) (*models.Session, *session.TokenPair, error)
	TerminateFunc          func(ctx context.Context, id string) error
	TerminateAllExceptFunc func(ctx context.Context, userID, keepID string) (int, error)
	ListFunc               func(ctx context.Context, userID string) ([]*models.Session, error)
	ElevateFunc            func(ctx context.Context, id string, duration time.Duration) error
}

func (m *MockSessionService) Refresh(ctx context.Context, refreshToken string) (*models.Session, *session.TokenPair, error) {
	if m.RefreshFunc == nil {
		return nil, nil, models.ErrTokenInvalid
	}
	return m.RefreshFunc(ctx, refreshToken)
}

func (m *MockSessionService) Terminate(ctx context.Context, id string) error {
	if m.TerminateFunc == nil {
		return nil
	}
	return m.TerminateFunc(ctx, id)
}

func (m *MockSessionService) TerminateAllExcept(ctx context.Context, userID, keepID string) (int, error) {
	if m.TerminateAllExceptFunc == nil {
		return 0, nil
	}
	return m.TerminateAllExceptFunc(ctx, userID, keepID)
}

func (m *MockSessionService) List(ctx context.Context, userID string) ([]*models.Session, error) {
	if m.ListFunc == nil {
		return []*models.Session{}, nil
	}
	return m.ListFunc(ctx, userID)
}

func (m *MockSessionService) Elevate(ctx context.Context, id string, duration time.Duration) error {
	if m.ElevateFunc == nil {
		return nil
	}
	return m.ElevateFunc(ctx, id, duration)
}

// MockStepUpVerifier implements StepUpVerifierInterface for testing
type MockStepUpVerifier struct {
	VerifyFactorFunc func(ctx context.Context, userID, factor, code string) (bool, error)
}

func (m *MockStepUpVerifier) VerifyFactor(ctx context.Context, userID, factor, code string) (bool, error) {
	if m.VerifyFactorFunc == nil {
		return false, nil
	}
	return m.VerifyFactorFunc(ctx, userID, factor, code)
}

// MockMFAService implements MFAServiceInterface for testing
type MockMFAService struct {
	StartEnrollmentFunc       func(ctx context.Context, userID string) (*mfa.Enrollment, error)
	ActivateEnrollmentFunc    func(ctx context.Context, userID, code string) error
	RegenerateBackupCodesFunc func(ctx context.Context, userID string) ([]string, error)
	DisableFunc               func(ctx context.Context, userID string) error
}

func (m *MockMFAService) StartEnrollment(ctx context.Context, userID string) (*mfa.Enrollment, error) {
	if m.StartEnrollmentFunc == nil {
		return nil, models.ErrConflict
	}
	return m.StartEnrollmentFunc(ctx, userID)
}

func (m *MockMFAService) ActivateEnrollment(ctx context.Context, userID, code string) error {
	if m.ActivateEnrollmentFunc == nil {
		return models.ErrCredentialRejected
	}
	return m.ActivateEnrollmentFunc(ctx, userID, code)
}

func (m *MockMFAService) RegenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if m.RegenerateBackupCodesFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.RegenerateBackupCodesFunc(ctx, userID)
}

func (m *MockMFAService) Disable(ctx context.Context, userID string) error {
	if m.DisableFunc == nil {
		return nil
	}
	return m.DisableFunc(ctx, userID)
}

// MockBiometricService implements BiometricServiceInterface for testing
type MockBiometricService struct {
	BeginRegistrationFunc  func(ctx context.Context, userID string) (*protocol.CredentialCreation, error)
	FinishRegistrationFunc func(ctx context.Context, userID, deviceName string, response io.Reader) (*models.BiometricDevice, error)
}

func (m *MockBiometricService) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	if m.BeginRegistrationFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.BeginRegistrationFunc(ctx, userID)
}

func (m *MockBiometricService) FinishRegistration(ctx context.Context, userID, deviceName string, response io.Reader) (*models.BiometricDevice, error) {
	if m.FinishRegistrationFunc == nil {
		return nil, models.ErrTokenInvalid
	}
	return m.FinishRegistrationFunc(ctx, userID, deviceName, response)
}

// MockLinkService implements LinkServiceInterface for testing
type MockLinkService struct {
	ListFunc   func(ctx context.Context, userID string) ([]*models.LinkedAccount, error)
	UnlinkFunc func(ctx context.Context, userID, provider string) error
}

func (m *MockLinkService) List(ctx context.Context, userID string) ([]*models.LinkedAccount, error) {
	if m.ListFunc == nil {
		return []*models.LinkedAccount{}, nil
	}
	return m.ListFunc(ctx, userID)
}

func (m *MockLinkService) Unlink(ctx context.Context, userID, provider string) error {
	if m.UnlinkFunc == nil {
		return nil
	}
	return m.UnlinkFunc(ctx, userID, provider)
}
