package models

import (
	"time"
)

// FlowStep enumerates the authentication state machine.
type FlowStep string

const (
	StepInitial         FlowStep = "INITIAL"
	StepCredentials     FlowStep = "CREDENTIALS"
	StepSSORedirect     FlowStep = "SSO_REDIRECT"
	StepSSOCallback     FlowStep = "SSO_CALLBACK"
	StepBiometric       FlowStep = "BIOMETRIC"
	StepMFARequired     FlowStep = "MFA_REQUIRED"
	StepMFAChoice       FlowStep = "MFA_CHOICE"
	StepMFAVerification FlowStep = "MFA_VERIFICATION"
	StepCompleted       FlowStep = "COMPLETED"
	StepFailed          FlowStep = "FAILED"
)

// Authentication methods accepted by StartFlow.
const (
	MethodPassword  = "password"
	MethodSSO       = "sso"
	MethodBiometric = "biometric"
)

// MFA factor types accepted by VerifyMFA.
const (
	FactorTOTP       = "totp"
	FactorBackupCode = "backup_code"
)

// FlowState tracks one in-progress authentication attempt. Records are
// addressed by an opaque random ID and mutated only by the request holding
// it; concurrent requests on the same flow are serialized by a
// compare-and-swap on Step at the store level.
type FlowState struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id,omitempty"` // set once identified
	Step        FlowStep          `json:"step"`
	Method      string            `json:"method"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	Provider    string            `json:"provider,omitempty"`  // SSO flows
	SSOState    string            `json:"sso_state,omitempty"` // anti-CSRF state parameter
	RememberMe  bool              `json:"remember_me"`
	IPAddress   string            `json:"ip_address"`
	UserAgent   string            `json:"user_agent"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

func (f *FlowState) IsExpired(now time.Time) bool {
	return now.After(f.ExpiresAt)
}

// IsTerminal reports whether the flow has reached a final state. Terminal
// flows are never mutated again and are removed after a short grace period.
func (f *FlowState) IsTerminal() bool {
	return f.Step == StepCompleted || f.Step == StepFailed
}

// ClientContext returns the client attributes recorded when the flow started.
func (f *FlowState) ClientContext() ClientContext {
	return ClientContext{
		IPAddress: f.IPAddress,
		UserAgent: f.UserAgent,
	}
}
