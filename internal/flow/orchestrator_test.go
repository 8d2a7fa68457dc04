package flow

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lekesiz/bdc-auth/internal/auth"
	"github.com/lekesiz/bdc-auth/internal/biometric"
	"github.com/lekesiz/bdc-auth/internal/challenge"
	"github.com/lekesiz/bdc-auth/internal/identity"
	"github.com/lekesiz/bdc-auth/internal/mfa"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/secretbox"
	"github.com/lekesiz/bdc-auth/internal/session"
	"github.com/lekesiz/bdc-auth/internal/sso"
	pkglogger "github.com/lekesiz/bdc-auth/pkg/logger"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name        string
	profile     *models.ExternalProfile
	completeErr error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Begin(state string) (string, string, error) {
	return "https://idp.example.com/authorize?state=" + state, "", nil
}

func (p *fakeProvider) Complete(_ context.Context, _ sso.CallbackData) (*models.ExternalProfile, error) {
	if p.completeErr != nil {
		return nil, p.completeErr
	}
	return p.profile, nil
}

type testEnv struct {
	orchestrator *Orchestrator
	identity     *identity.MemoryStore
	mfa          *mfa.Manager
	provider     *fakeProvider
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	codec, err := secretbox.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := pkglogger.NewAuditLogger(logger)

	identityStore := identity.NewMemoryStore()
	mfaManager := mfa.NewManager(codec, "BDC Auth", 8)
	mfaService := mfa.NewService(mfaManager, identityStore, audit)

	biometricSvc, err := biometric.NewService(biometric.Config{
		RPDisplayName: "BDC Auth",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:8080"},
	}, identityStore, challenge.NewMemoryStore())
	require.NoError(t, err)

	provider := &fakeProvider{
		name: "google",
		profile: &models.ExternalProfile{
			Provider:       "google",
			ProviderUserID: "google-user-1",
			Email:          "sso@example.com",
			Name:           "SSO User",
		},
	}

	tokens := auth.NewTokenManager("access-secret-for-tests", "refresh-secret-for-tests", 15*time.Minute, 24*time.Hour)
	sessions := session.NewService(session.NewMemoryStore(), tokens, session.NoopResolver{}, nil, logger, audit, session.Config{})

	orchestrator := NewOrchestrator(
		NewMemoryStore(),
		identityStore,
		mfaService,
		biometricSvc,
		sso.NewRegistry(provider),
		sso.NewLinkService(identityStore),
		sessions,
		nil,
		logger,
		audit,
		cfg,
	)
	return &testEnv{orchestrator: orchestrator, identity: identityStore, mfa: mfaManager, provider: provider}
}

func (e *testEnv) seedUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	user, err := e.identity.SeedUser(email, password, "Test User")
	require.NoError(t, err)
	return user
}

// seedMFAUser enrolls and verifies a TOTP secret for the user and returns
// the plaintext enrollment material.
func (e *testEnv) seedMFAUser(t *testing.T, email, password string) (*models.User, *mfa.Enrollment) {
	t.Helper()
	ctx := context.Background()

	user := e.seedUser(t, email, password)
	enrollment, err := e.mfa.Enroll(email)
	require.NoError(t, err)
	require.NoError(t, e.identity.SaveMFASecret(ctx, &models.MFASecret{
		UserID:          user.ID,
		SecretEncrypted: enrollment.SecretEncrypted,
		BackupCodes:     enrollment.BackupCodesEncrypted,
	}))
	require.NoError(t, e.identity.MarkMFAVerified(ctx, user.ID))
	return user, enrollment
}

func currentTOTP(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

func startPasswordFlow(t *testing.T, env *testEnv) *models.FlowState {
	t.Helper()
	result, err := env.orchestrator.StartFlow(context.Background(), StartInput{
		Method: models.MethodPassword,
		Client: models.ClientContext{IPAddress: "203.0.113.10", UserAgent: "test-agent"},
	})
	require.NoError(t, err)
	require.Equal(t, models.StepCredentials, result.Flow.Step)
	return result.Flow
}

func TestPasswordFlowCompletes(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	user := env.seedUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)

	result, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	require.NoError(t, err)

	assert.Equal(t, models.StepCompleted, result.Flow.Step)
	require.NotNil(t, result.Session)
	require.NotNil(t, result.Tokens)
	assert.Equal(t, user.ID, result.Session.UserID)
	assert.False(t, result.Session.MFAVerified)
	assert.NotEmpty(t, result.Tokens.AccessToken)
	assert.NotEmpty(t, result.Tokens.RefreshToken)

	// Terminal flows stay readable for status polling.
	got, err := env.orchestrator.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, got.Step)
}

func TestPasswordFlowWithTOTP(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	user, enrollment := env.seedMFAUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)

	result, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	require.NoError(t, err)
	assert.True(t, result.MFARequired)
	assert.Nil(t, result.Session)
	assert.Equal(t, models.StepMFAChoice, result.Flow.Step)
	assert.Contains(t, result.Factors, models.FactorTOTP)
	assert.Contains(t, result.Factors, models.FactorBackupCode)

	result, err = env.orchestrator.SelectFactor(ctx, flow.ID, models.FactorTOTP)
	require.NoError(t, err)
	assert.Equal(t, models.StepMFAVerification, result.Flow.Step)

	result, err = env.orchestrator.VerifyMFA(ctx, flow.ID, models.FactorTOTP, currentTOTP(t, enrollment.Secret))
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, result.Flow.Step)
	require.NotNil(t, result.Session)
	assert.Equal(t, user.ID, result.Session.UserID)
	assert.True(t, result.Session.MFAVerified)
}

func TestVerifyMFAWithoutExplicitSelection(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	_, enrollment := env.seedMFAUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)
	_, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	require.NoError(t, err)

	result, err := env.orchestrator.VerifyMFA(ctx, flow.ID, models.FactorTOTP, currentTOTP(t, enrollment.Secret))
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, result.Flow.Step)
}

func TestBackupCodeIsSingleUse(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	user, enrollment := env.seedMFAUser(t, "jane@example.com", "correct-horse-battery")
	code := enrollment.BackupCodes[0]

	flow := startPasswordFlow(t, env)
	_, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	require.NoError(t, err)

	result, err := env.orchestrator.VerifyMFA(ctx, flow.ID, models.FactorBackupCode, code)
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, result.Flow.Step)

	secret, err := env.identity.GetMFASecret(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, secret.BackupCodes, len(enrollment.BackupCodes)-1)

	// A second login with the same code is rejected.
	flow = startPasswordFlow(t, env)
	_, err = env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	require.NoError(t, err)

	_, err = env.orchestrator.VerifyMFA(ctx, flow.ID, models.FactorBackupCode, code)
	assert.ErrorIs(t, err, models.ErrCredentialRejected)
}

func TestWrongMFACodeExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.seedMFAUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)
	_, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = env.orchestrator.VerifyMFA(ctx, flow.ID, models.FactorTOTP, "000000")
		assert.ErrorIs(t, err, models.ErrCredentialRejected)
	}

	_, err = env.orchestrator.VerifyMFA(ctx, flow.ID, models.FactorTOTP, "000000")
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)

	got, err := env.orchestrator.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepFailed, got.Step)
}

func TestWrongPasswordExhaustsAttempts(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.seedUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)

	for i := 0; i < 4; i++ {
		_, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "wrong-password")
		assert.ErrorIs(t, err, models.ErrCredentialRejected)
	}

	_, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "wrong-password")
	assert.ErrorIs(t, err, models.ErrTooManyAttempts)

	// The flow is dead even for the right password.
	_, err = env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	assert.ErrorIs(t, err, models.ErrInvalidFlowState)
}

func TestUnknownUserLooksLikeWrongPassword(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.seedUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)

	_, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "nobody@example.com", "whatever-pass")
	assert.ErrorIs(t, err, models.ErrCredentialRejected)

	flow = startPasswordFlow(t, env)
	_, err = env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "wrong-password")
	assert.ErrorIs(t, err, models.ErrCredentialRejected)
}

func TestStepMismatchRejected(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.seedUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)

	_, err := env.orchestrator.VerifyMFA(ctx, flow.ID, models.FactorTOTP, "123456")
	assert.ErrorIs(t, err, models.ErrInvalidFlowState)

	_, err = env.orchestrator.SelectFactor(ctx, flow.ID, models.FactorTOTP)
	assert.ErrorIs(t, err, models.ErrInvalidFlowState)

	_, err = env.orchestrator.HandleSSOCallback(ctx, flow.ID, "state", sso.CallbackData{Code: "code"})
	assert.ErrorIs(t, err, models.ErrInvalidFlowState)
}

func TestFlowExpiry(t *testing.T) {
	env := newTestEnv(t, Config{TTL: 10 * time.Millisecond})
	ctx := context.Background()
	env.seedUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)
	time.Sleep(25 * time.Millisecond)

	_, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	assert.ErrorIs(t, err, models.ErrInvalidFlowState)
}

func TestUnknownFlowID(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.orchestrator.SubmitCredentials(context.Background(), "no-such-flow", "jane@example.com", "pw")
	assert.ErrorIs(t, err, models.ErrInvalidFlowState)
}

func TestSSOFlowCompletes(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	start, err := env.orchestrator.StartFlow(ctx, StartInput{
		Method:   models.MethodSSO,
		Provider: "google",
		Client:   models.ClientContext{IPAddress: "203.0.113.10", UserAgent: "test-agent"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepSSORedirect, start.Flow.Step)
	assert.Contains(t, start.RedirectURL, "state="+start.Flow.SSOState)

	result, err := env.orchestrator.HandleSSOCallback(ctx, start.Flow.ID, start.Flow.SSOState, sso.CallbackData{Code: "code-123"})
	require.NoError(t, err)
	assert.Equal(t, models.StepCompleted, result.Flow.Step)
	require.NotNil(t, result.Session)
	assert.False(t, result.Session.MFAVerified)

	// First SSO login provisioned the user and the link.
	user, err := env.identity.GetUserByEmail(ctx, "sso@example.com")
	require.NoError(t, err)
	links, err := env.identity.GetLinkedAccounts(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "google", links[0].Provider)
}

func TestSSOStateMismatchFailsFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()

	start, err := env.orchestrator.StartFlow(ctx, StartInput{
		Method:   models.MethodSSO,
		Provider: "google",
	})
	require.NoError(t, err)

	_, err = env.orchestrator.HandleSSOCallback(ctx, start.Flow.ID, "forged-state", sso.CallbackData{Code: "code-123"})
	assert.ErrorIs(t, err, models.ErrTokenInvalid)

	got, err := env.orchestrator.GetFlow(ctx, start.Flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepFailed, got.Step)
}

func TestSSOProviderRejectionFailsFlow(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.provider.completeErr = models.ErrProviderError

	start, err := env.orchestrator.StartFlow(ctx, StartInput{
		Method:   models.MethodSSO,
		Provider: "google",
	})
	require.NoError(t, err)

	_, err = env.orchestrator.HandleSSOCallback(ctx, start.Flow.ID, start.Flow.SSOState, sso.CallbackData{Code: "code-123"})
	assert.ErrorIs(t, err, models.ErrProviderError)

	got, err := env.orchestrator.GetFlow(ctx, start.Flow.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepFailed, got.Step)
}

func TestStartFlowUnknownProvider(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.orchestrator.StartFlow(context.Background(), StartInput{
		Method:   models.MethodSSO,
		Provider: "okta",
	})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestStartFlowUnknownMethod(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.orchestrator.StartFlow(context.Background(), StartInput{Method: "carrier-pigeon"})
	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestBiometricStartUnknownAccount(t *testing.T) {
	env := newTestEnv(t, Config{})

	_, err := env.orchestrator.StartFlow(context.Background(), StartInput{
		Method:     models.MethodBiometric,
		Identifier: "nobody@example.com",
	})
	assert.ErrorIs(t, err, models.ErrCredentialRejected)
}

func TestBiometricStartWithoutDevices(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.seedUser(t, "jane@example.com", "correct-horse-battery")

	_, err := env.orchestrator.StartFlow(context.Background(), StartInput{
		Method:     models.MethodBiometric,
		Identifier: "jane@example.com",
	})
	assert.ErrorIs(t, err, models.ErrCredentialRejected)
}

func TestBiometricStartIssuesChallenge(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	user := env.seedUser(t, "jane@example.com", "correct-horse-battery")
	require.NoError(t, env.identity.SaveDevice(ctx, &models.BiometricDevice{
		UserID:       user.ID,
		CredentialID: []byte("cred-1"),
		PublicKey:    []byte{0x01},
	}))

	start, err := env.orchestrator.StartFlow(ctx, StartInput{
		Method:     models.MethodBiometric,
		Identifier: "jane@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StepBiometric, start.Flow.Step)
	assert.Equal(t, user.ID, start.Flow.UserID)
	require.NotNil(t, start.AssertionOptions)
	assert.NotEmpty(t, start.AssertionOptions.Response.Challenge)
}

func TestConcurrentAdvanceLosesCAS(t *testing.T) {
	env := newTestEnv(t, Config{})
	ctx := context.Background()
	env.seedUser(t, "jane@example.com", "correct-horse-battery")

	flow := startPasswordFlow(t, env)

	_, err := env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	require.NoError(t, err)

	// A second submission raced the first and finds the flow terminal.
	_, err = env.orchestrator.SubmitCredentials(ctx, flow.ID, "jane@example.com", "correct-horse-battery")
	assert.ErrorIs(t, err, models.ErrInvalidFlowState)
}
