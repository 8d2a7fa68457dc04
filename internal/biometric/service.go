// Package biometric implements WebAuthn registration and authentication
// ceremonies. Each ceremony is split into a Begin call that issues a
// challenge and a Finish call that consumes it; ceremony state lives in the
// challenge store between the two.
package biometric

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/lekesiz/bdc-auth/internal/challenge"
	"github.com/lekesiz/bdc-auth/internal/identity"
	"github.com/lekesiz/bdc-auth/internal/models"
)

const ceremonyTTL = 5 * time.Minute

// ErrCounterRegression is returned when an assertion's signature counter
// does not advance past the stored one, which indicates a cloned
// authenticator.
var ErrCounterRegression = errors.New("authenticator signature counter regressed")

type Config struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

type Service struct {
	wa         *webauthn.WebAuthn
	store      identity.Store
	challenges challenge.Store
}

func NewService(cfg Config, store identity.Store, challenges challenge.Store) (*Service, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPDisplayName,
		RPID:          cfg.RPID,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize webauthn: %w", err)
	}
	return &Service{wa: wa, store: store, challenges: challenges}, nil
}

// webauthnUser adapts a user and their registered devices to the
// webauthn.User interface.
type webauthnUser struct {
	user    *models.User
	devices []*models.BiometricDevice
}

func (u *webauthnUser) WebAuthnID() []byte          { return []byte(u.user.ID) }
func (u *webauthnUser) WebAuthnName() string        { return u.user.Email }
func (u *webauthnUser) WebAuthnDisplayName() string { return u.user.Name }
func (u *webauthnUser) WebAuthnIcon() string        { return "" }

func (u *webauthnUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.devices))
	for _, device := range u.devices {
		creds = append(creds, credentialFromDevice(device))
	}
	return creds
}

func credentialFromDevice(device *models.BiometricDevice) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(device.Transports))
	for _, t := range device.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              device.CredentialID,
		PublicKey:       device.PublicKey,
		AttestationType: device.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: device.BackupEligible,
			BackupState:    device.BackupState,
		},
		Authenticator: webauthn.Authenticator{
			AAGUID:    device.AAGUID,
			SignCount: device.SignCount,
		},
	}
}

func (s *Service) loadUser(ctx context.Context, userID string) (*webauthnUser, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	devices, err := s.store.GetUserDevices(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &webauthnUser{user: user, devices: devices}, nil
}

// BeginRegistration starts a credential creation ceremony. Already
// registered credentials are excluded so an authenticator cannot be
// enrolled twice.
func (s *Service) BeginRegistration(ctx context.Context, userID string) (*protocol.CredentialCreation, error) {
	wu, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	exclusions := make([]protocol.CredentialDescriptor, 0, len(wu.devices))
	for _, cred := range wu.WebAuthnCredentials() {
		exclusions = append(exclusions, cred.Descriptor())
	}

	creation, sessionData, err := s.wa.BeginRegistration(wu,
		webauthn.WithExclusions(exclusions),
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			UserVerification: protocol.VerificationRequired,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin registration: %w", err)
	}

	if err := s.saveCeremony(ctx, userID, challenge.PurposeRegister, sessionData); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration validates the attestation response and persists the
// new device. The pending ceremony is consumed whether or not validation
// succeeds.
func (s *Service) FinishRegistration(ctx context.Context, userID, deviceName string, response io.Reader) (*models.BiometricDevice, error) {
	wu, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	sessionData, err := s.consumeCeremony(ctx, userID, challenge.PurposeRegister)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialCreationResponseBody(response)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed attestation response", models.ErrBadRequest)
	}

	cred, err := s.wa.CreateCredential(wu, *sessionData, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: attestation rejected", models.ErrTokenInvalid)
	}

	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}

	device := &models.BiometricDevice{
		UserID:          userID,
		CredentialID:    cred.ID,
		PublicKey:       cred.PublicKey,
		AttestationType: cred.AttestationType,
		AAGUID:          cred.Authenticator.AAGUID,
		SignCount:       cred.Authenticator.SignCount,
		Transports:      transports,
		Name:            deviceName,
		BackupEligible:  cred.Flags.BackupEligible,
		BackupState:     cred.Flags.BackupState,
	}
	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// BeginAuthentication starts an assertion ceremony for a user who has at
// least one registered device.
func (s *Service) BeginAuthentication(ctx context.Context, userID string) (*protocol.CredentialAssertion, error) {
	wu, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(wu.devices) == 0 {
		return nil, fmt.Errorf("%w: no registered devices", models.ErrCredentialRejected)
	}

	assertion, sessionData, err := s.wa.BeginLogin(wu,
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin authentication: %w", err)
	}

	if err := s.saveCeremony(ctx, userID, challenge.PurposeAuthenticate, sessionData); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishAuthentication validates the assertion response and advances the
// stored signature counter. A counter that fails to advance is treated as
// a cloned authenticator and the assertion is rejected.
func (s *Service) FinishAuthentication(ctx context.Context, userID string, response io.Reader) (*models.BiometricDevice, error) {
	wu, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	sessionData, err := s.consumeCeremony(ctx, userID, challenge.PurposeAuthenticate)
	if err != nil {
		return nil, err
	}

	parsed, err := protocol.ParseCredentialRequestResponseBody(response)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed assertion response", models.ErrBadRequest)
	}

	cred, err := s.wa.ValidateLogin(wu, *sessionData, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: assertion rejected", models.ErrTokenInvalid)
	}

	device := findDevice(wu.devices, cred.ID)
	if device == nil {
		return nil, models.ErrCredentialRejected
	}

	if !CounterAdvanced(device.SignCount, cred.Authenticator.SignCount) {
		return nil, ErrCounterRegression
	}

	now := time.Now()
	device.SignCount = cred.Authenticator.SignCount
	device.LastUsedAt = &now
	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// CounterAdvanced reports whether an assertion's signature counter is
// acceptable given the stored one. Authenticators that do not implement
// counters report zero on both sides, which is allowed.
func CounterAdvanced(stored, asserted uint32) bool {
	if stored == 0 && asserted == 0 {
		return true
	}
	return asserted > stored
}

func findDevice(devices []*models.BiometricDevice, credentialID []byte) *models.BiometricDevice {
	for _, device := range devices {
		if bytes.Equal(device.CredentialID, credentialID) {
			return device
		}
	}
	return nil
}

func (s *Service) saveCeremony(ctx context.Context, userID, purpose string, sessionData *webauthn.SessionData) error {
	payload, err := json.Marshal(sessionData)
	if err != nil {
		return fmt.Errorf("failed to marshal ceremony state: %w", err)
	}
	return s.challenges.Put(ctx, userID, purpose, payload, ceremonyTTL)
}

func (s *Service) consumeCeremony(ctx context.Context, userID, purpose string) (*webauthn.SessionData, error) {
	payload, err := s.challenges.Consume(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, models.ErrChallengeNotFound) {
			return nil, fmt.Errorf("%w: no pending ceremony", models.ErrChallengeNotFound)
		}
		return nil, err
	}
	var sessionData webauthn.SessionData
	if err := json.Unmarshal(payload, &sessionData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ceremony state: %w", err)
	}
	return &sessionData, nil
}
