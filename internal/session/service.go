package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lekesiz/bdc-auth/internal/auth"
	"github.com/lekesiz/bdc-auth/internal/models"
	pkglogger "github.com/lekesiz/bdc-auth/pkg/logger"
)

// Config holds session lifecycle configuration.
type Config struct {
	TTL                time.Duration // default 24h
	RememberMeTTL      time.Duration // default 30d
	ElevationDuration  time.Duration // default 15m
	MaxActiveCountries int           // anomaly threshold for distinct countries
}

// CreateOptions carries per-login options into Create.
type CreateOptions struct {
	RememberMe  bool
	MFAVerified bool
	Metadata    map[string]string
}

// TokenPair is the access/refresh pair issued for a session.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"` // access token lifetime in seconds
}

// Anomaly is a heuristic security flag raised at session creation. Flags
// are emitted as events; they never block login.
type Anomaly struct {
	Type   string // "new_device", "multi_country"
	Detail string
}

// Notifier delivers security alerts out of band. Delivery failures are
// logged and swallowed; alerting never fails the operation that raised it.
type Notifier interface {
	SecurityAlert(ctx context.Context, userID, subject, body string) error
}

// Service creates, refreshes, elevates, and revokes sessions, and tracks
// device, location, and activity per session.
type Service struct {
	store    Store
	tokens   *auth.TokenManager
	resolver LocationResolver
	notifier Notifier
	logger   *slog.Logger
	audit    *pkglogger.AuditLogger
	cfg      Config
}

// NewService creates a session Service. notifier may be nil.
func NewService(store Store, tokens *auth.TokenManager, resolver LocationResolver, notifier Notifier, logger *slog.Logger, audit *pkglogger.AuditLogger, cfg Config) *Service {
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.RememberMeTTL <= 0 {
		cfg.RememberMeTTL = 30 * 24 * time.Hour
	}
	if cfg.ElevationDuration <= 0 {
		cfg.ElevationDuration = 15 * time.Minute
	}
	if cfg.MaxActiveCountries <= 0 {
		cfg.MaxActiveCountries = 2
	}
	return &Service{
		store:    store,
		tokens:   tokens,
		resolver: resolver,
		notifier: notifier,
		logger:   logger,
		audit:    audit,
		cfg:      cfg,
	}
}

// Create mints a new session and its token pair at flow completion. The
// anomaly check runs against the user's sessions as they were before this
// login.
func (s *Service) Create(ctx context.Context, userID string, client models.ClientContext, opts CreateOptions) (*models.Session, *TokenPair, error) {
	deviceID := Fingerprint(client)

	anomalies := s.CheckAnomalies(ctx, userID, client.IPAddress, deviceID)

	ttl := s.cfg.TTL
	if opts.RememberMe {
		ttl = s.cfg.RememberMeTTL
	}

	now := time.Now()
	sess := &models.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		DeviceID:       deviceID,
		IPAddress:      client.IPAddress,
		UserAgent:      client.UserAgent,
		Location:       s.resolver.Resolve(client.IPAddress),
		Device:         DescribeDevice(client.UserAgent),
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(ttl),
		RefreshTokenID: uuid.New().String(),
		MFAVerified:    opts.MFAVerified,
		Metadata:       opts.Metadata,
	}

	if err := s.store.Create(ctx, sess); err != nil {
		s.logger.Error("failed to create session", slog.String("user_id", userID), slog.Any("error", err))
		return nil, nil, err
	}

	pair, err := s.issueTokens(sess)
	if err != nil {
		_ = s.store.Delete(ctx, sess.ID)
		return nil, nil, err
	}

	s.audit.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "session_created",
		UserID:    userID,
		SessionID: sess.ID,
		IPAddress: client.IPAddress,
		Success:   true,
	})

	s.reportAnomalies(ctx, userID, sess.ID, client.IPAddress, anomalies)

	return sess, pair, nil
}

// Get returns the session or models.ErrSessionNotFound if it is missing or
// expired.
func (s *Service) Get(ctx context.Context, id string) (*models.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.IsExpired(time.Now()) {
		return nil, models.ErrSessionNotFound
	}
	return sess, nil
}

// Touch updates the session's last-activity timestamp. An IP change from
// the stored address is recorded as an activity event. The write is a
// field-scoped store update; Touch runs on every authenticated request and
// must never race a refresh rotation or a step-up into oblivion.
func (s *Service) Touch(ctx context.Context, id string, client models.ClientContext) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	upd := ActivityUpdate{LastActivityAt: time.Now()}
	if client.IPAddress != "" && client.IPAddress != sess.IPAddress {
		s.audit.LogSessionEvent(pkglogger.AuditEvent{
			EventType: "session_ip_changed",
			UserID:    sess.UserID,
			SessionID: sess.ID,
			IPAddress: client.IPAddress,
			Success:   true,
			Metadata:  map[string]string{"previous_ip": sess.IPAddress},
		})
		upd.IPAddress = client.IPAddress
		upd.Location = s.resolver.Resolve(client.IPAddress)
	}

	return s.store.UpdateActivity(ctx, id, upd)
}

// Refresh verifies a refresh token and rotates the pair. The old refresh
// token becomes invalid the moment rotation succeeds; presenting an already
// rotated token is treated as theft and terminates the session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*models.Session, *TokenPair, error) {
	claims, err := s.tokens.ValidateRefreshToken(refreshToken)
	if err != nil {
		return nil, nil, models.ErrTokenInvalid
	}

	sess, err := s.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, models.ErrTokenInvalid
	}

	nextJTI := uuid.New().String()
	if err := s.store.RotateRefreshToken(ctx, sess.ID, claims.ID, nextJTI); err != nil {
		if errors.Is(err, models.ErrTokenInvalid) {
			// The presented JTI lost the CAS: either a concurrent refresh won
			// or the token was stolen and already used. Revoke as a precaution.
			s.audit.LogAnomaly(pkglogger.AuditEvent{
				EventType: "refresh_token_reuse",
				UserID:    sess.UserID,
				SessionID: sess.ID,
			})
			_ = s.store.Delete(ctx, sess.ID)
			return nil, nil, models.ErrTokenInvalid
		}
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil, nil, models.ErrTokenInvalid
		}
		return nil, nil, err
	}

	sess.RefreshTokenID = nextJTI
	pair, err := s.issueTokens(sess)
	if err != nil {
		return nil, nil, err
	}

	s.audit.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "session_refreshed",
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Success:   true,
	})

	return sess, pair, nil
}

// Elevate grants the session temporary elevated trust for sensitive
// operations. duration <= 0 uses the configured default.
func (s *Service) Elevate(ctx context.Context, id string, duration time.Duration) error {
	if duration <= 0 {
		duration = s.cfg.ElevationDuration
	}

	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.store.SetElevation(ctx, id, time.Now().Add(duration)); err != nil {
		return err
	}

	s.audit.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "session_elevated",
		UserID:    sess.UserID,
		SessionID: sess.ID,
		Success:   true,
	})
	return nil
}

// IsElevated reports whether the session currently holds elevated trust.
func (s *Service) IsElevated(ctx context.Context, id string) (bool, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return sess.IsElevated(time.Now()), nil
}

// Terminate revokes a single session.
func (s *Service) Terminate(ctx context.Context, id string) error {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			return nil
		}
		return err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.audit.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "session_terminated",
		UserID:    sess.UserID,
		SessionID: id,
		Success:   true,
	})
	return nil
}

// TerminateAllExcept revokes every session of a user except keepID
// ("log out everywhere").
func (s *Service) TerminateAllExcept(ctx context.Context, userID, keepID string) (int, error) {
	deleted, err := s.store.DeleteAllExcept(ctx, userID, keepID)
	if err != nil {
		return deleted, err
	}

	s.audit.LogSessionEvent(pkglogger.AuditEvent{
		EventType: "sessions_terminated_all",
		UserID:    userID,
		SessionID: keepID,
		Success:   true,
		Metadata:  map[string]string{"terminated": fmt.Sprintf("%d", deleted)},
	})
	return deleted, nil
}

// List returns the user's active sessions.
func (s *Service) List(ctx context.Context, userID string) ([]*models.Session, error) {
	return s.store.ListByUser(ctx, userID)
}

// CheckAnomalies flags logins where the user's active sessions span more
// than the configured number of distinct countries, or where the device
// fingerprint has never been seen for this user.
func (s *Service) CheckAnomalies(ctx context.Context, userID, ip, deviceID string) []Anomaly {
	existing, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Warn("anomaly check skipped", slog.String("user_id", userID), slog.Any("error", err))
		return nil
	}

	var anomalies []Anomaly

	knownDevice := false
	countries := make(map[string]struct{})
	for _, sess := range existing {
		if sess.DeviceID == deviceID {
			knownDevice = true
		}
		if sess.Location.Country != "" {
			countries[sess.Location.Country] = struct{}{}
		}
	}

	if len(existing) > 0 && !knownDevice {
		anomalies = append(anomalies, Anomaly{
			Type:   "new_device",
			Detail: "login from a device fingerprint not seen before for this user",
		})
	}

	if loc := s.resolver.Resolve(ip); loc.Country != "" {
		countries[loc.Country] = struct{}{}
	}
	if len(countries) > s.cfg.MaxActiveCountries {
		anomalies = append(anomalies, Anomaly{
			Type:   "multi_country",
			Detail: fmt.Sprintf("active sessions span %d countries", len(countries)),
		})
	}

	return anomalies
}

func (s *Service) reportAnomalies(ctx context.Context, userID, sessionID, ip string, anomalies []Anomaly) {
	for _, a := range anomalies {
		s.audit.LogAnomaly(pkglogger.AuditEvent{
			EventType: a.Type,
			UserID:    userID,
			SessionID: sessionID,
			IPAddress: ip,
			Metadata:  map[string]string{"detail": a.Detail},
		})

		if s.notifier != nil {
			subject := "New sign-in to your account"
			if a.Type == "multi_country" {
				subject = "Unusual sign-in activity on your account"
			}
			if err := s.notifier.SecurityAlert(ctx, userID, subject, a.Detail); err != nil {
				s.logger.Warn("failed to send security alert",
					slog.String("user_id", userID),
					slog.Any("error", err))
			}
		}
	}
}

func (s *Service) issueTokens(sess *models.Session) (*TokenPair, error) {
	accessToken, err := s.tokens.GenerateAccessToken(sess.UserID, sess.ID, sess.DeviceID)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("session_id", sess.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tokens.GenerateRefreshToken(sess.UserID, sess.ID, sess.DeviceID, sess.RefreshTokenID)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("session_id", sess.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.tokens.AccessExpiry().Seconds()),
	}, nil
}
