package flow

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
	"github.com/lekesiz/bdc-auth/internal/auth"
	"github.com/lekesiz/bdc-auth/internal/biometric"
	"github.com/lekesiz/bdc-auth/internal/identity"
	"github.com/lekesiz/bdc-auth/internal/mfa"
	"github.com/lekesiz/bdc-auth/internal/models"
	"github.com/lekesiz/bdc-auth/internal/session"
	"github.com/lekesiz/bdc-auth/internal/sso"
	pkglogger "github.com/lekesiz/bdc-auth/pkg/logger"
)

const metadataSAMLRequestID = "saml_request_id"

type Config struct {
	TTL         time.Duration // default 10m
	MaxAttempts int           // default 5
}

// Orchestrator drives authentication flows across the method-specific
// components and hands completed flows to the session service.
type Orchestrator struct {
	flows     Store
	identity  identity.Store
	mfa       *mfa.Service
	biometric *biometric.Service
	providers *sso.Registry
	links     *sso.LinkService
	sessions  *session.Service
	timing    *auth.TimingDelay
	logger    *slog.Logger
	audit     *pkglogger.AuditLogger
	cfg       Config
}

// NewOrchestrator creates an Orchestrator. timing may be nil to disable
// response-time normalization.
func NewOrchestrator(
	flows Store,
	identityStore identity.Store,
	mfaService *mfa.Service,
	biometricSvc *biometric.Service,
	providers *sso.Registry,
	links *sso.LinkService,
	sessions *session.Service,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	audit *pkglogger.AuditLogger,
	cfg Config,
) *Orchestrator {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Orchestrator{
		flows:     flows,
		identity:  identityStore,
		mfa:       mfaService,
		biometric: biometricSvc,
		providers: providers,
		links:     links,
		sessions:  sessions,
		timing:    timing,
		logger:    logger,
		audit:     audit,
		cfg:       cfg,
	}
}

// StartInput describes a login attempt about to begin.
type StartInput struct {
	Method     string
	Provider   string // required for MethodSSO
	Identifier string // account e-mail, required for MethodBiometric
	RememberMe bool
	Client     models.ClientContext
}

// StartResult is what the client needs to continue the flow.
type StartResult struct {
	Flow        *models.FlowState
	RedirectURL string // MethodSSO: provider authorization URL
	// AssertionOptions is the WebAuthn challenge for MethodBiometric.
	AssertionOptions *protocol.CredentialAssertion
}

// Result is the outcome of a flow step. Session and Tokens are set only
// when the step completed the flow.
type Result struct {
	Flow        *models.FlowState
	MFARequired bool
	Factors     []string
	Session     *models.Session
	Tokens      *session.TokenPair
}

// StartFlow creates a flow and performs the method-specific first
// transition out of INITIAL.
func (o *Orchestrator) StartFlow(ctx context.Context, input StartInput) (*StartResult, error) {
	now := time.Now()
	flow := &models.FlowState{
		ID:          uuid.New().String(),
		Step:        models.StepInitial,
		Method:      input.Method,
		MaxAttempts: o.cfg.MaxAttempts,
		RememberMe:  input.RememberMe,
		IPAddress:   input.Client.IPAddress,
		UserAgent:   input.Client.UserAgent,
		CreatedAt:   now,
		ExpiresAt:   now.Add(o.cfg.TTL),
	}

	result := &StartResult{Flow: flow}
	switch input.Method {
	case models.MethodPassword:
		flow.Step = models.StepCredentials

	case models.MethodSSO:
		provider, err := o.providers.Get(input.Provider)
		if err != nil {
			return nil, err
		}
		flow.Provider = provider.Name()
		flow.SSOState = uuid.New().String()

		redirectURL, requestID, err := provider.Begin(flow.SSOState)
		if err != nil {
			return nil, err
		}
		if requestID != "" {
			flow.Metadata = map[string]string{metadataSAMLRequestID: requestID}
		}
		flow.Step = models.StepSSORedirect
		result.RedirectURL = redirectURL

	case models.MethodBiometric:
		user, err := o.identity.GetUserByEmail(ctx, input.Identifier)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return nil, models.ErrCredentialRejected
			}
			return nil, err
		}
		assertion, err := o.biometric.BeginAuthentication(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		flow.UserID = user.ID
		flow.Step = models.StepBiometric
		result.AssertionOptions = assertion

	default:
		return nil, fmt.Errorf("%w: unknown method %q", models.ErrBadRequest, input.Method)
	}

	if err := o.flows.Create(ctx, flow); err != nil {
		return nil, err
	}

	o.audit.LogFlowEvent(pkglogger.AuditEvent{
		EventType: "flow_started",
		FlowID:    flow.ID,
		Method:    flow.Method,
		Provider:  flow.Provider,
		IPAddress: flow.IPAddress,
		UserAgent: flow.UserAgent,
		Success:   true,
	})
	return result, nil
}

// GetFlow returns the flow for status polling.
func (o *Orchestrator) GetFlow(ctx context.Context, id string) (*models.FlowState, error) {
	return o.getLive(ctx, id, true)
}

// getLive fetches a flow and enforces expiry. Terminal flows are only
// returned when allowTerminal is set (status polling).
func (o *Orchestrator) getLive(ctx context.Context, id string, allowTerminal bool) (*models.FlowState, error) {
	flow, err := o.flows.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.IsTerminal() {
		if allowTerminal {
			return flow, nil
		}
		return nil, fmt.Errorf("%w: flow already %s", models.ErrInvalidFlowState, flow.Step)
	}
	if flow.IsExpired(time.Now()) {
		_ = o.flows.Delete(ctx, id)
		return nil, fmt.Errorf("%w: flow expired", models.ErrInvalidFlowState)
	}
	return flow, nil
}

// SubmitCredentials handles the password step. Rejections are generic; the
// caller cannot distinguish an unknown account from a wrong password.
func (o *Orchestrator) SubmitCredentials(ctx context.Context, flowID, username, password string) (*Result, error) {
	start := time.Now()

	flow, err := o.getLive(ctx, flowID, false)
	if err != nil {
		return nil, err
	}
	if flow.Step != models.StepCredentials {
		return nil, fmt.Errorf("%w: credentials not accepted at step %s", models.ErrInvalidFlowState, flow.Step)
	}

	user, err := o.identity.FindUserByCredentials(ctx, username, password)
	if err != nil {
		if errors.Is(err, models.ErrCredentialRejected) {
			failErr := o.recordFailedAttempt(ctx, flow, "credential_rejected")
			o.delay(start, false)
			return nil, failErr
		}
		return nil, err
	}

	flow.UserID = user.ID
	if user.MFAEnabled {
		flow.Step = models.StepMFAChoice
		if err := o.flows.Advance(ctx, flow, models.StepCredentials); err != nil {
			return nil, err
		}
		o.audit.LogFlowEvent(pkglogger.AuditEvent{
			EventType: "credentials_accepted",
			FlowID:    flow.ID,
			UserID:    user.ID,
			Method:    flow.Method,
			IPAddress: flow.IPAddress,
			Success:   true,
		})
		o.delay(start, true)
		return &Result{Flow: flow, MFARequired: true, Factors: o.mfa.AvailableFactors(ctx, user.ID)}, nil
	}

	result, err := o.completeFlow(ctx, flow, models.StepCredentials, false)
	o.delay(start, err == nil)
	return result, err
}

// SelectFactor records the user's second-factor choice.
func (o *Orchestrator) SelectFactor(ctx context.Context, flowID, factor string) (*Result, error) {
	flow, err := o.getLive(ctx, flowID, false)
	if err != nil {
		return nil, err
	}
	if flow.Step != models.StepMFAChoice {
		return nil, fmt.Errorf("%w: factor selection not accepted at step %s", models.ErrInvalidFlowState, flow.Step)
	}
	if factor != models.FactorTOTP && factor != models.FactorBackupCode {
		return nil, fmt.Errorf("%w: unknown factor %q", models.ErrBadRequest, factor)
	}

	if flow.Metadata == nil {
		flow.Metadata = make(map[string]string)
	}
	flow.Metadata["factor"] = factor
	flow.Step = models.StepMFAVerification
	if err := o.flows.Advance(ctx, flow, models.StepMFAChoice); err != nil {
		return nil, err
	}
	return &Result{Flow: flow, MFARequired: true}, nil
}

// VerifyMFA checks a second-factor code. It accepts flows that skipped the
// explicit SelectFactor call and are still at the choice step.
func (o *Orchestrator) VerifyMFA(ctx context.Context, flowID, factor, code string) (*Result, error) {
	start := time.Now()

	flow, err := o.getLive(ctx, flowID, false)
	if err != nil {
		return nil, err
	}
	if flow.Step != models.StepMFAChoice && flow.Step != models.StepMFAVerification {
		return nil, fmt.Errorf("%w: MFA verification not accepted at step %s", models.ErrInvalidFlowState, flow.Step)
	}

	ok, err := o.mfa.VerifyFactor(ctx, flow.UserID, factor, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		failErr := o.recordFailedAttempt(ctx, flow, "mfa_rejected")
		o.delay(start, false)
		return nil, failErr
	}

	result, err := o.completeFlow(ctx, flow, flow.Step, true)
	o.delay(start, err == nil)
	return result, err
}

// HandleSSOCallback validates the provider callback and completes the
// flow. MFA for SSO logins is the identity provider's responsibility.
func (o *Orchestrator) HandleSSOCallback(ctx context.Context, flowID, state string, callback sso.CallbackData) (*Result, error) {
	flow, err := o.getLive(ctx, flowID, false)
	if err != nil {
		return nil, err
	}
	if flow.Step != models.StepSSORedirect {
		return nil, fmt.Errorf("%w: callback not accepted at step %s", models.ErrInvalidFlowState, flow.Step)
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(flow.SSOState)) != 1 {
		return nil, o.failFlow(ctx, flow, models.StepSSORedirect, "sso_state_mismatch", models.ErrTokenInvalid)
	}

	provider, err := o.providers.Get(flow.Provider)
	if err != nil {
		return nil, err
	}

	callback.RequestID = flow.Metadata[metadataSAMLRequestID]
	profile, err := provider.Complete(ctx, callback)
	if err != nil {
		if errors.Is(err, models.ErrTokenInvalid) || errors.Is(err, models.ErrProviderError) {
			return nil, o.failFlow(ctx, flow, models.StepSSORedirect, "sso_assertion_rejected", err)
		}
		return nil, err
	}

	user, err := o.links.ResolveUser(ctx, profile)
	if err != nil {
		return nil, err
	}

	flow.UserID = user.ID
	flow.Step = models.StepSSOCallback
	if err := o.flows.Advance(ctx, flow, models.StepSSORedirect); err != nil {
		return nil, err
	}
	return o.completeFlow(ctx, flow, models.StepSSOCallback, false)
}

// VerifyBiometric validates the WebAuthn assertion. A verified assertion
// counts as multi-factor on its own.
func (o *Orchestrator) VerifyBiometric(ctx context.Context, flowID string, response io.Reader) (*Result, error) {
	start := time.Now()

	flow, err := o.getLive(ctx, flowID, false)
	if err != nil {
		return nil, err
	}
	if flow.Step != models.StepBiometric {
		return nil, fmt.Errorf("%w: assertion not accepted at step %s", models.ErrInvalidFlowState, flow.Step)
	}

	if _, err := o.biometric.FinishAuthentication(ctx, flow.UserID, response); err != nil {
		if errors.Is(err, biometric.ErrCounterRegression) {
			return nil, o.failFlow(ctx, flow, models.StepBiometric, "counter_regression", models.ErrTokenInvalid)
		}
		if errors.Is(err, models.ErrTokenInvalid) || errors.Is(err, models.ErrCredentialRejected) {
			failErr := o.recordFailedAttempt(ctx, flow, "assertion_rejected")
			o.delay(start, false)
			return nil, failErr
		}
		return nil, err
	}

	result, err := o.completeFlow(ctx, flow, models.StepBiometric, true)
	o.delay(start, err == nil)
	return result, err
}

// recordFailedAttempt bumps the flow's attempt counter and fails the flow
// once the budget is spent.
func (o *Orchestrator) recordFailedAttempt(ctx context.Context, flow *models.FlowState, reason string) error {
	flow.Attempts++
	if flow.Attempts >= flow.MaxAttempts {
		return o.failFlow(ctx, flow, flow.Step, "too_many_attempts", models.ErrTooManyAttempts)
	}

	if err := o.flows.Advance(ctx, flow, flow.Step); err != nil {
		return err
	}
	o.audit.LogFlowEvent(pkglogger.AuditEvent{
		EventType:     "attempt_rejected",
		FlowID:        flow.ID,
		UserID:        flow.UserID,
		Method:        flow.Method,
		IPAddress:     flow.IPAddress,
		Success:       false,
		FailureReason: reason,
		Metadata:      map[string]string{"attempts": fmt.Sprintf("%d/%d", flow.Attempts, flow.MaxAttempts)},
	})
	return models.ErrCredentialRejected
}

func (o *Orchestrator) failFlow(ctx context.Context, flow *models.FlowState, from models.FlowStep, reason string, cause error) error {
	flow.Step = models.StepFailed
	if err := o.flows.Advance(ctx, flow, from); err != nil {
		return err
	}
	o.audit.LogFlowEvent(pkglogger.AuditEvent{
		EventType:     "flow_failed",
		FlowID:        flow.ID,
		UserID:        flow.UserID,
		Method:        flow.Method,
		Provider:      flow.Provider,
		IPAddress:     flow.IPAddress,
		Success:       false,
		FailureReason: reason,
	})
	return cause
}

func (o *Orchestrator) completeFlow(ctx context.Context, flow *models.FlowState, from models.FlowStep, mfaVerified bool) (*Result, error) {
	metadata := map[string]string{"auth_method": flow.Method}
	if flow.Provider != "" {
		metadata["provider"] = flow.Provider
	}

	sess, tokens, err := o.sessions.Create(ctx, flow.UserID, flow.ClientContext(), session.CreateOptions{
		RememberMe:  flow.RememberMe,
		MFAVerified: mfaVerified,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}

	flow.Step = models.StepCompleted
	if err := o.flows.Advance(ctx, flow, from); err != nil {
		// Another request won the race; revoke the session we just minted.
		_ = o.sessions.Terminate(ctx, sess.ID)
		return nil, err
	}

	o.audit.LogFlowEvent(pkglogger.AuditEvent{
		EventType: "flow_completed",
		FlowID:    flow.ID,
		UserID:    flow.UserID,
		SessionID: sess.ID,
		Method:    flow.Method,
		Provider:  flow.Provider,
		IPAddress: flow.IPAddress,
		Success:   true,
		Metadata:  map[string]string{"mfa_verified": fmt.Sprintf("%t", mfaVerified)},
	})
	return &Result{Flow: flow, Session: sess, Tokens: tokens}, nil
}

func (o *Orchestrator) delay(start time.Time, success bool) {
	if o.timing != nil {
		o.timing.WaitFrom(start, success)
	}
}
