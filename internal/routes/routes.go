package routes

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/lekesiz/bdc-auth/internal/auth"
	"github.com/lekesiz/bdc-auth/internal/handlers"
	"github.com/lekesiz/bdc-auth/internal/middleware"
	"github.com/lekesiz/bdc-auth/internal/session"
	pkghttp "github.com/lekesiz/bdc-auth/pkg/http"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	flowHandler *handlers.FlowHandler,
	sessionHandler *handlers.SessionHandler,
	mfaHandler *handlers.MFAHandler,
	biometricHandler *handlers.BiometricHandler,
	ssoHandler *handlers.SSOHandler,
	tokenManager *auth.TokenManager,
	sessions *session.Service,
	ipConfig *pkghttp.IPConfig,
	logger *slog.Logger,
) {
	flowRateLimit := middleware.DefaultFlowRateLimit()
	refreshRateLimit := middleware.DefaultRefreshRateLimit()

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(flowRateLimit))

		r.Post("/auth/flows", flowHandler.Start)
		r.Get("/auth/flows/{flowID}", flowHandler.Get)
		r.Post("/auth/flows/{flowID}/credentials", flowHandler.SubmitCredentials)
		r.Post("/auth/flows/{flowID}/mfa/select", flowHandler.SelectFactor)
		r.Post("/auth/flows/{flowID}/mfa/verify", flowHandler.VerifyMFA)
		r.Get("/auth/flows/{flowID}/sso/callback", flowHandler.SSOCallback)
		r.Post("/auth/flows/{flowID}/sso/callback", flowHandler.SSOCallback)
		r.Post("/auth/flows/{flowID}/biometric/verify", flowHandler.VerifyBiometric)

		r.Get("/sso/providers", ssoHandler.Providers)
		r.Get("/sso/saml/{provider}/metadata", ssoHandler.SAMLMetadata)
	})

	router.With(middleware.RateLimitByIP(refreshRateLimit)).Post("/auth/refresh", sessionHandler.Refresh)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(tokenManager, sessions, ipConfig, logger))
		r.Use(middleware.RateLimitByUser(middleware.DefaultAuthenticatedRateLimit()))

		r.Post("/auth/logout", sessionHandler.Logout)
		r.Post("/auth/logout-all", sessionHandler.LogoutAll)

		r.Get("/sessions", sessionHandler.List)
		r.Delete("/sessions/{sessionID}", sessionHandler.Terminate)
		r.Post("/sessions/elevate", sessionHandler.Elevate)

		r.Post("/mfa/enroll", mfaHandler.Enroll)
		r.Post("/mfa/activate", mfaHandler.Activate)

		r.Post("/biometric/register/options", biometricHandler.RegisterOptions)
		r.Post("/biometric/register", biometricHandler.FinishRegister)
		r.Get("/biometric/devices", biometricHandler.ListDevices)
		r.Patch("/biometric/devices/{deviceID}", biometricHandler.RenameDevice)

		r.Get("/sso/links", ssoHandler.ListLinks)

		// Sensitive operations require a recent step-up verification
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireElevated(sessions))

			r.Post("/mfa/backup-codes", mfaHandler.RegenerateBackupCodes)
			r.Delete("/mfa", mfaHandler.Disable)
			r.Delete("/biometric/devices/{deviceID}", biometricHandler.DeleteDevice)
			r.Delete("/sso/links/{provider}", ssoHandler.Unlink)
		})
	})
}
