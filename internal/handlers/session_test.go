package handlers_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lekesiz/bdc-auth/internal/handlers"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/session"
	"github.com/stretchr/testify/assert"
)

func TestRefresh_RotatesTokens(t *testing.T) {
	mock := &handlers.MockSessionService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*models.Session, *session.TokenPair, error) {
			assert.Equal(t, "old-refresh", refreshToken)
			return &models.Session{ID: "sess-1", UserID: "user-1"},
				&session.TokenPair{AccessToken: "new-access", RefreshToken: "new-refresh"}, nil
		},
	}

	handler := handlers.NewSessionHandler(mock, &handlers.MockStepUpVerifier{}, 15*time.Minute)
	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", handlers.RefreshRequest{
		RefreshToken: "old-refresh",
	})

	w := httptest.NewRecorder()
	handler.Refresh(w, req)

	var resp handlers.RefreshResponse
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "new-access", resp.Tokens.AccessToken)
	assert.Equal(t, "new-refresh", resp.Tokens.RefreshToken)
}

func TestRefresh_ReusedTokenRejected(t *testing.T) {
	mock := &handlers.MockSessionService{
		RefreshFunc: func(ctx context.Context, refreshToken string) (*models.Session, *session.TokenPair, error) {
			return nil, nil, models.ErrTokenInvalid
		},
	}

	handler := handlers.NewSessionHandler(mock, &handlers.MockStepUpVerifier{}, 15*time.Minute)
	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", handlers.RefreshRequest{
		RefreshToken: "already-used",
	})

	w := httptest.NewRecorder()
	handler.Refresh(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestRefresh_MissingToken(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{}, &handlers.MockStepUpVerifier{}, 15*time.Minute)
	req := handlers.NewTestRequest(t, "POST", "/auth/refresh", handlers.RefreshRequest{})

	w := httptest.NewRecorder()
	handler.Refresh(w, req)

	handlers.AssertErrorResponse(t, w, 400, "bad_request")
}

func TestLogout_TerminatesCurrentSession(t *testing.T) {
	var terminated string
	mock := &handlers.MockSessionService{
		TerminateFunc: func(ctx context.Context, id string) error {
			terminated = id
			return nil
		},
	}

	handler := handlers.NewSessionHandler(mock, &handlers.MockStepUpVerifier{}, 15*time.Minute)
	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "sess-test-1", terminated)
}

func TestLogout_Unauthenticated(t *testing.T) {
	handler := handlers.NewSessionHandler(&handlers.MockSessionService{}, &handlers.MockStepUpVerifier{}, 15*time.Minute)
	req := handlers.NewTestRequest(t, "POST", "/auth/logout", nil)

	w := httptest.NewRecorder()
	handler.Logout(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}

func TestLogoutAll_KeepsCurrentSession(t *testing.T) {
	mock := &handlers.MockSessionService{
		TerminateAllExceptFunc: func(ctx context.Context, userID, keepID string) (int, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, "sess-test-1", keepID)
			return 3, nil
		},
	}

	handler := handlers.NewSessionHandler(mock, &handlers.MockStepUpVerifier{}, 15*time.Minute)
	req := handlers.NewTestRequest(t, "POST", "/auth/logout-all", nil)
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))

	w := httptest.NewRecorder()
	handler.LogoutAll(w, req)

	var resp map[string]int
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, 3, resp["terminated"])
}

func TestTerminate_OwnSession(t *testing.T) {
	var terminated string
	mock := &handlers.MockSessionService{
		ListFunc: func(ctx context.Context, userID string) ([]*models.Session, error) {
			return []*models.Session{
				{ID: "sess-a", UserID: "user-1"},
				{ID: "sess-b", UserID: "user-1"},
			}, nil
		},
		TerminateFunc: func(ctx context.Context, id string) error {
			terminated = id
			return nil
		},
	}

	handler := handlers.NewSessionHandler(mock, &handlers.MockStepUpVerifier{}, 15*time.Minute)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions/sess-b", nil)
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))
	req = handlers.WithChiRouteContext(req, map[string]string{"sessionID": "sess-b"})

	w := httptest.NewRecorder()
	handler.Terminate(w, req)

	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "sess-b", terminated)
}

func TestTerminate_ForeignSessionNotFound(t *testing.T) {
	mock := &handlers.MockSessionService{
		ListFunc: func(ctx context.Context, userID string) ([]*models.Session, error) {
			return []*models.Session{{ID: "sess-a", UserID: "user-1"}}, nil
		},
		TerminateFunc: func(ctx context.Context, id string) error {
			t.Fatal("should not terminate a session outside the user's list")
			return nil
		},
	}

	handler := handlers.NewSessionHandler(mock, &handlers.MockStepUpVerifier{}, 15*time.Minute)
	req := handlers.NewTestRequest(t, "DELETE", "/sessions/someone-elses", nil)
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))
	req = handlers.WithChiRouteContext(req, map[string]string{"sessionID": "someone-elses"})

	w := httptest.NewRecorder()
	handler.Terminate(w, req)

	handlers.AssertErrorResponse(t, w, 404, "not_found")
}

func TestElevate_VerifiesFactorFirst(t *testing.T) {
	var elevatedID string
	mockSessions := &handlers.MockSessionService{
		ElevateFunc: func(ctx context.Context, id string, duration time.Duration) error {
			elevatedID = id
			assert.Equal(t, 15*time.Minute, duration)
			return nil
		},
	}
	mockVerifier := &handlers.MockStepUpVerifier{
		VerifyFactorFunc: func(ctx context.Context, userID, factor, code string) (bool, error) {
			assert.Equal(t, "user-1", userID)
			assert.Equal(t, "totp", factor)
			return true, nil
		},
	}

	handler := handlers.NewSessionHandler(mockSessions, mockVerifier, 15*time.Minute)
	req := handlers.NewTestRequest(t, "POST", "/sessions/elevate", handlers.ElevateRequest{
		Factor: "totp",
		Code:   "123456",
	})
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))

	w := httptest.NewRecorder()
	handler.Elevate(w, req)

	var resp map[string]string
	handlers.AssertJSONResponse(t, w, 200, &resp)
	assert.Equal(t, "sess-test-1", elevatedID)
	assert.NotEmpty(t, resp["elevated_until"])
}

func TestElevate_WrongCode(t *testing.T) {
	mockSessions := &handlers.MockSessionService{
		ElevateFunc: func(ctx context.Context, id string, duration time.Duration) error {
			t.Fatal("should not elevate on failed verification")
			return nil
		},
	}
	mockVerifier := &handlers.MockStepUpVerifier{
		VerifyFactorFunc: func(ctx context.Context, userID, factor, code string) (bool, error) {
			return false, nil
		},
	}

	handler := handlers.NewSessionHandler(mockSessions, mockVerifier, 15*time.Minute)
	req := handlers.NewTestRequest(t, "POST", "/sessions/elevate", handlers.ElevateRequest{
		Factor: "totp",
		Code:   "000000",
	})
	req = handlers.WithAuthContext(req, "user-1", handlers.TestSession("user-1"))

	w := httptest.NewRecorder()
	handler.Elevate(w, req)

	handlers.AssertErrorResponse(t, w, 401, "unauthorized")
}
