package handlers_test

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lekesiz/bdc-auth/internal/flow"
	"github.com/lekesiz/bdc-auth/internal/handlers"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/session"
	"github.com/lekesiz/bdc-auth/internal/sso"
	"github.com/stretchr/testify/assert"
)

func testFlowState(step models.FlowStep) *models.FlowState {
	return &models.FlowState{
		ID:          "flow-1",
		Step:        step,
		Method:      "password",
		Attempts:    1,
		MaxAttempts: 5,
		ExpiresAt:   time.Now().Add(10 * time.Minute),
	}
}

func TestStartFlow_Password(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		StartFlowFunc: func(ctx context.Context, input flow.StartInput) (*flow.StartResult, error) {
			assert.Equal(t, "password", input.Method)
			return &flow.StartResult{Flow: testFlowState(models.StepCredentials)}, nil
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows", handlers.StartFlowRequest{
		Method: "password",
	})

	w := httptest.NewRecorder()
	handler.Start(w, req)

	var resp handlers.FlowResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, "flow-1", resp.FlowID)
	assert.Equal(t, models.StepCredentials, resp.Step)
	assert.Equal(t, 4, resp.AttemptsRemaining)
}

func TestStartFlow_SSOReturnsRedirect(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		StartFlowFunc: func(ctx context.Context, input flow.StartInput) (*flow.StartResult, error) {
			assert.Equal(t, "sso", input.Method)
			assert.Equal(t, "google", input.Provider)
			state := testFlowState(models.StepSSORedirect)
			state.Method = "sso"
			return &flow.StartResult{
				Flow:        state,
				RedirectURL: "https://idp.example.com/authorize?state=abc",
			}, nil
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows", handlers.StartFlowRequest{
		Method:   "sso",
		Provider: "google",
	})

	w := httptest.NewRecorder()
	handler.Start(w, req)

	var resp handlers.FlowResponse
	handlers.AssertJSONResponse(t, w, 201, &resp)
	assert.Equal(t, models.StepSSORedirect, resp.Step)
	assert.Contains(t, resp.RedirectURL, "idp.example.com")
}

func TestStartFlow_ValidationRejectsUnknownMethod(t *testing.T) {
	handler := handlers.NewFlowHandler(&handlers.MockFlowOrchestrator{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows", handlers.StartFlowRequest{
		Method: "carrier-pigeon",
	})

	w := httptest.NewRecorder()
	handler.Start(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestStartFlow_SSORequiresProvider(t *testing.T) {
	handler := handlers.NewFlowHandler(&handlers.MockFlowOrchestrator{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows", handlers.StartFlowRequest{
		Method: "sso",
	})

	w := httptest.NewRecorder()
	handler.Start(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestSubmitCredentials_NormalizesUsername(t *testing.T) {
	var gotUsername string
	mock := &handlers.MockFlowOrchestrator{
		SubmitCredentialsFunc: func(ctx context.Context, flowID, username, password string) (*flow.Result, error) {
			gotUsername = username
			return &flow.Result{
				Flow: testFlowState(models.StepCompleted),
				Session: &models.Session{ID: "sess-1", UserID: "user-1"},
				Tokens:  &session.TokenPair{AccessToken: "at", RefreshToken: "rt"},
			}, nil
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows/flow-1/credentials", handlers.SubmitCredentialsRequest{
		Username: "  User@Example.COM ",
		Password: "correct horse",
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.SubmitCredentials(w, req)

	var resp handlers.FlowResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "user@example.com", gotUsername)
	assert.NotNil(t, resp.Tokens)
	assert.Equal(t, "at", resp.Tokens.AccessToken)
}

func TestSubmitCredentials_Rejected(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		SubmitCredentialsFunc: func(ctx context.Context, flowID, username, password string) (*flow.Result, error) {
			return nil, models.ErrCredentialRejected
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows/flow-1/credentials", handlers.SubmitCredentialsRequest{
		Username: "user@example.com",
		Password: "wrong",
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.SubmitCredentials(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestSubmitCredentials_MFARequired(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		SubmitCredentialsFunc: func(ctx context.Context, flowID, username, password string) (*flow.Result, error) {
			return &flow.Result{
				Flow:        testFlowState(models.StepMFAChoice),
				MFARequired: true,
				Factors:     []string{"totp", "backup_code"},
			}, nil
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows/flow-1/credentials", handlers.SubmitCredentialsRequest{
		Username: "user@example.com",
		Password: "correct horse",
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.SubmitCredentials(w, req)

	var resp handlers.FlowResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.True(t, resp.MFARequired)
	assert.Equal(t, []string{"totp", "backup_code"}, resp.Factors)
	assert.Nil(t, resp.Tokens)
}

func TestVerifyMFA_TooManyAttempts(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		VerifyMFAFunc: func(ctx context.Context, flowID, factor, code string) (*flow.Result, error) {
			return nil, models.ErrTooManyAttempts
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows/flow-1/mfa/verify", handlers.VerifyMFARequest{
		Factor: "totp",
		Code:   "000000",
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.VerifyMFA(w, req)

	handlers.AssertErrorResponse(t, w, 429, "rate_limit_exceeded")
}

func TestVerifyMFA_WrongStateConflicts(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		VerifyMFAFunc: func(ctx context.Context, flowID, factor, code string) (*flow.Result, error) {
			return nil, models.ErrInvalidFlowState
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows/flow-1/mfa/verify", handlers.VerifyMFARequest{
		Factor: "totp",
		Code:   "123456",
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.VerifyMFA(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestSelectFactor_InvalidFactor(t *testing.T) {
	handler := handlers.NewFlowHandler(&handlers.MockFlowOrchestrator{}, nil)
	req := handlers.NewTestRequest(t, "POST", "/auth/flows/flow-1/mfa/select", handlers.SelectFactorRequest{
		Factor: "sms",
	})
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.SelectFactor(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestSSOCallback_QueryParameters(t *testing.T) {
	var gotState string
	var gotCallback sso.CallbackData
	mock := &handlers.MockFlowOrchestrator{
		HandleSSOCallbackFunc: func(ctx context.Context, flowID, state string, callback sso.CallbackData) (*flow.Result, error) {
			gotState = state
			gotCallback = callback
			return &flow.Result{
				Flow:    testFlowState(models.StepCompleted),
				Session: &models.Session{ID: "sess-1"},
				Tokens:  &session.TokenPair{AccessToken: "at", RefreshToken: "rt"},
			}, nil
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := httptest.NewRequest("GET", "/auth/flows/flow-1/sso/callback?code=authcode&state=xyz", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.SSOCallback(w, req)

	var resp handlers.FlowResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "xyz", gotState)
	assert.Equal(t, "authcode", gotCallback.Code)
	assert.Equal(t, models.StepCompleted, resp.Step)
}

func TestSSOCallback_RelayStateFallback(t *testing.T) {
	var gotState string
	mock := &handlers.MockFlowOrchestrator{
		HandleSSOCallbackFunc: func(ctx context.Context, flowID, state string, callback sso.CallbackData) (*flow.Result, error) {
			gotState = state
			return &flow.Result{Flow: testFlowState(models.StepCompleted)}, nil
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := httptest.NewRequest("GET", "/auth/flows/flow-1/sso/callback?SAMLResponse=abc&RelayState=relay-1", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.SSOCallback(w, req)

	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "relay-1", gotState)
}

func TestSSOCallback_ProviderDown(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		HandleSSOCallbackFunc: func(ctx context.Context, flowID, state string, callback sso.CallbackData) (*flow.Result, error) {
			return nil, models.ErrProviderError
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := httptest.NewRequest("GET", "/auth/flows/flow-1/sso/callback?code=x&state=y", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.SSOCallback(w, req)

	handlers.AssertErrorResponse(t, w, 502, "provider_error")
}

func TestGetFlow_UnknownID(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		GetFlowFunc: func(ctx context.Context, id string) (*models.FlowState, error) {
			return nil, models.ErrInvalidFlowState
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := httptest.NewRequest("GET", "/auth/flows/nope", nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "nope"})

	w := httptest.NewRecorder()
	handler.Get(w, req)

	handlers.AssertErrorResponse(t, w, 409, "conflict")
}

func TestVerifyBiometric_PassesBodyThrough(t *testing.T) {
	mock := &handlers.MockFlowOrchestrator{
		VerifyBiometricFunc: func(ctx context.Context, flowID string, response io.Reader) (*flow.Result, error) {
			body, err := io.ReadAll(response)
			assert.NoError(t, err)
			assert.JSONEq(t, `{"id":"cred-1"}`, string(body))
			return &flow.Result{
				Flow:    testFlowState(models.StepCompleted),
				Session: &models.Session{ID: "sess-1"},
			}, nil
		},
	}

	handler := handlers.NewFlowHandler(mock, nil)
	req := httptest.NewRequest("POST", "/auth/flows/flow-1/biometric/verify", strings.NewReader(`{"id":"cred-1"}`))
	req = handlers.WithChiRouteContext(req, map[string]string{"flowID": "flow-1"})

	w := httptest.NewRecorder()
	handler.VerifyBiometric(w, req)

	var resp handlers.FlowResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, models.StepCompleted, resp.Step)
}
