package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/lekesiz/bdc-auth/internal/auth"
	"github.com/lekesiz/bdc-auth/internal/biometric"
	"github.com/lekesiz/bdc-auth/internal/challenge"
	"github.com/lekesiz/bdc-auth/internal/database"
	"github.com/lekesiz/bdc-auth/internal/flow"
	"github.com/lekesiz/bdc-auth/internal/handlers"
	"github.com/lekesiz/bdc-auth/internal/identity"
	"github.com/lekesiz/bdc-auth/internal/mfa"
	middlewareCustom "github.com/lekesiz/bdc-auth/internal/middleware"
	"github.com/lekesiz/bdc-auth/internal/notify"
	"github.com/lekesiz/bdc-auth/internal/routes"
	"github.com/lekesiz/bdc-auth/internal/secretbox"
	"github.com/lekesiz/bdc-auth/internal/session"
	"github.com/lekesiz/bdc-auth/internal/sso"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
	pkglogger "github.com/lekesiz/bdc-auth/pkg/logger"
)

// TestServer wraps httptest.Server with a real database and in-memory
// flow/session state
type TestServer struct {
	Server   *httptest.Server
	DB       *database.DB
	Identity identity.Store
	Flows    *flow.MemoryStore
	Sessions *session.Service
	MFA      *mfa.Service

	logger *slog.Logger
}

// NewTestServer initializes a complete HTTP server against the given database.
// External providers are left unconfigured; SSO tests register fakes through
// their own registries.
func NewTestServer(db *database.DB, providers ...sso.Provider) (*TestServer, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))

	identityStore := identity.NewPostgresStore(db)
	flowStore := flow.NewMemoryStore()
	challengeStore := challenge.NewMemoryStore()
	sessionStore := session.NewMemoryStore()

	tokenManager := auth.NewTokenManager(
		"test-access-secret-32-chars-long!!",
		"test-refresh-secret-32-chars-long",
		15*time.Minute,
		24*time.Hour,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	codec, err := secretbox.New([]byte("test-mfa-encryption-key-32-chars"))
	if err != nil {
		return nil, err
	}
	mfaManager := mfa.NewManager(codec, "BDC Auth Test", 8)
	mfaService := mfa.NewService(mfaManager, identityStore, auditLogger)

	biometricService, err := biometric.NewService(biometric.Config{
		RPDisplayName: "BDC Auth Test",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost"},
	}, identityStore, challengeStore)
	if err != nil {
		return nil, err
	}

	registry := sso.NewRegistry(providers...)
	linkService := sso.NewLinkService(identityStore)

	sessionService := session.NewService(
		sessionStore,
		tokenManager,
		session.NoopResolver{},
		notify.NewNoopNotifier(logger),
		logger,
		auditLogger,
		session.Config{},
	)

	orchestrator := flow.NewOrchestrator(
		flowStore,
		identityStore,
		mfaService,
		biometricService,
		registry,
		linkService,
		sessionService,
		nil,
		logger,
		auditLogger,
		flow.Config{},
	)

	ipConfig := &pkghttp.IPConfig{}

	flowHandler := handlers.NewFlowHandler(orchestrator, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService, mfaService, 15*time.Minute)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	biometricHandler := handlers.NewBiometricHandler(biometricService, identityStore)
	ssoHandler := handlers.NewSSOHandler(linkService, registry)

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: "test"}))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(r, flowHandler, sessionHandler, mfaHandler, biometricHandler, ssoHandler, tokenManager, sessionService, ipConfig, logger)

	server := httptest.NewServer(r)

	return &TestServer{
		Server:   server,
		DB:       db,
		Identity: identityStore,
		Flows:    flowStore,
		Sessions: sessionService,
		MFA:      mfaService,
		logger:   logger,
	}, nil
}

// Close shuts down the test server
func (ts *TestServer) Close() {
	if ts.Server != nil {
		ts.Server.Close()
	}
}

// Request makes an HTTP request to the test server
func (ts *TestServer) Request(method, path string, body interface{}, headers map[string]string) (*http.Response, error) {
	url := ts.Server.URL + path

	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	return http.DefaultClient.Do(req)
}

// RequestWithAuth makes an authenticated HTTP request with access token
func (ts *TestServer) RequestWithAuth(method, path, accessToken string, body interface{}) (*http.Response, error) {
	headers := map[string]string{
		"Authorization": "Bearer " + accessToken,
	}
	return ts.Request(method, path, body, headers)
}

// ParseJSONResponse parses JSON response body into target struct
func ParseJSONResponse(resp *http.Response, target interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

// ExtractTokensFromResponse extracts session tokens from a flow response
func ExtractTokensFromResponse(resp *http.Response) (accessToken, refreshToken string, mfaRequired bool, err error) {
	defer resp.Body.Close()

	var flowResp handlers.FlowResponse
	if err := json.NewDecoder(resp.Body).Decode(&flowResp); err != nil {
		return "", "", false, err
	}

	if flowResp.Tokens != nil {
		accessToken = flowResp.Tokens.AccessToken
		refreshToken = flowResp.Tokens.RefreshToken
	}
	return accessToken, refreshToken, flowResp.MFARequired, nil
}

// GetErrorMessage extracts error message from error response
func GetErrorMessage(resp *http.Response) (string, error) {
	defer resp.Body.Close()
	var errResp map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		return "", err
	}
	if msg, ok := errResp["message"].(string); ok {
		return msg, nil
	}
	return "", nil
}
