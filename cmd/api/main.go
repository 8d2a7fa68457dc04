package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lekesiz/bdc-auth/internal/auth"
	"github.com/lekesiz/bdc-auth/internal/background"
	"github.com/lekesiz/bdc-auth/internal/biometric"
	"github.com/lekesiz/bdc-auth/internal/challenge"
	"github.com/lekesiz/bdc-auth/internal/config"
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
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	identityStore := identity.NewPostgresStore(db)

	// Initialize cleanup manager; only memory-backed stores register with it,
	// the Redis stores expire records via TTLs
	cleanupManager := background.NewCleanupManager(logger, cfg.Flow.CleanupInterval)

	// Flow, challenge, and session state live in Redis. Development falls
	// back to process-local stores when Redis is unreachable.
	var (
		flowStore      flow.Store
		challengeStore challenge.Store
		sessionStore   session.Store
	)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	redisErr := redisClient.Ping(pingCtx).Err()
	pingCancel()

	switch {
	case redisErr == nil:
		flowStore = flow.NewRedisStore(redisClient)
		challengeStore = challenge.NewRedisStore(redisClient)
		sessionStore = session.NewRedisStore(redisClient)
		logger.Info("using redis state stores", slog.String("addr", cfg.Redis.Addr))
	case cfg.Server.Env == "production":
		logger.Error("redis is required in production", slog.Any("error", redisErr))
		os.Exit(1)
	default:
		memFlows := flow.NewMemoryStore()
		memChallenges := challenge.NewMemoryStore()
		memSessions := session.NewMemoryStore()
		cleanupManager.Register("flows", memFlows)
		cleanupManager.Register("challenges", memChallenges)
		cleanupManager.Register("sessions", memSessions)
		flowStore = memFlows
		challengeStore = memChallenges
		sessionStore = memSessions
		logger.Warn("redis unavailable, using in-memory state stores", slog.Any("error", redisErr))
	}

	// Initialize token manager
	tokenManager := auth.NewTokenManager(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 50,
	})

	// MFA secret encryption
	codec, err := secretbox.New([]byte(cfg.MFA.EncryptionKey))
	if err != nil {
		logger.Error("failed to initialize secret codec", slog.Any("error", err))
		os.Exit(1)
	}
	mfaManager := mfa.NewManager(codec, cfg.MFA.Issuer, cfg.MFA.BackupCodeCount)
	mfaService := mfa.NewService(mfaManager, identityStore, auditLogger)

	// WebAuthn
	biometricService, err := biometric.NewService(biometric.Config{
		RPDisplayName: cfg.WebAuthn.RPDisplayName,
		RPID:          cfg.WebAuthn.RPID,
		RPOrigins:     cfg.WebAuthn.RPOrigins,
	}, identityStore, challengeStore)
	if err != nil {
		logger.Error("failed to initialize webauthn", slog.Any("error", err))
		os.Exit(1)
	}

	// External identity providers
	registry, err := buildProviderRegistry(cfg, logger)
	if err != nil {
		logger.Error("failed to configure identity providers", slog.Any("error", err))
		os.Exit(1)
	}
	linkService := sso.NewLinkService(identityStore)

	// Session location resolution
	var resolver session.LocationResolver = session.NoopResolver{}
	if cfg.GeoIP.DatabasePath != "" {
		geoResolver, err := session.NewGeoIPResolver(cfg.GeoIP.DatabasePath)
		if err != nil {
			logger.Error("failed to open geoip database", slog.Any("error", err))
			os.Exit(1)
		}
		defer geoResolver.Close()
		resolver = geoResolver
	}

	// Security alerting
	var notifier session.Notifier
	if cfg.Email.FromAddress != "" {
		sesNotifier, err := notify.NewSESNotifier(cfg.Email.AWSRegion, cfg.Email.FromAddress, identityStore, logger)
		if err != nil {
			logger.Error("failed to initialize ses notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	} else {
		notifier = notify.NewNoopNotifier(logger)
	}

	sessionService := session.NewService(sessionStore, tokenManager, resolver, notifier, logger, auditLogger, session.Config{
		TTL:                cfg.Session.TTL,
		RememberMeTTL:      cfg.Session.RememberMeTTL,
		ElevationDuration:  cfg.Session.ElevationDuration,
		MaxActiveCountries: cfg.Session.MaxActiveCountries,
	})

	orchestrator := flow.NewOrchestrator(
		flowStore,
		identityStore,
		mfaService,
		biometricService,
		registry,
		linkService,
		sessionService,
		timingDelay,
		logger,
		auditLogger,
		flow.Config{
			TTL:         cfg.Flow.TTL,
			MaxAttempts: cfg.Flow.MaxAttempts,
		},
	)

	ipConfig := &pkghttp.IPConfig{}

	// Initialize handlers
	flowHandler := handlers.NewFlowHandler(orchestrator, ipConfig)
	sessionHandler := handlers.NewSessionHandler(sessionService, mfaService, cfg.Session.ElevationDuration)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	biometricHandler := handlers.NewBiometricHandler(biometricService, identityStore)
	ssoHandler := handlers.NewSSOHandler(linkService, registry)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(router, flowHandler, sessionHandler, mfaHandler, biometricHandler, ssoHandler, tokenManager, sessionService, ipConfig, logger)

	// Health check with backing stores
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}
		if redisErr == nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","database":"up","redis":"down"}`))
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// buildProviderRegistry assembles the configured external identity providers.
// Providers without a registration are simply left out; an empty registry is
// fine, SSO flows will reject with an unknown-provider error.
func buildProviderRegistry(cfg *config.Config, logger *slog.Logger) (*sso.Registry, error) {
	var providers []sso.Provider

	if cfg.Providers.Google.Enabled() {
		providers = append(providers, sso.NewGoogleProvider(sso.OAuthCredentials{
			ClientID:     cfg.Providers.Google.ClientID,
			ClientSecret: cfg.Providers.Google.ClientSecret,
			RedirectURL:  cfg.Providers.Google.RedirectURL,
		}))
	}
	if cfg.Providers.GitHub.Enabled() {
		providers = append(providers, sso.NewGitHubProvider(sso.OAuthCredentials{
			ClientID:     cfg.Providers.GitHub.ClientID,
			ClientSecret: cfg.Providers.GitHub.ClientSecret,
			RedirectURL:  cfg.Providers.GitHub.RedirectURL,
		}))
	}
	if cfg.Providers.SAML.Enabled() {
		samlProvider, err := buildSAMLProvider(cfg.Providers.SAML)
		if err != nil {
			return nil, fmt.Errorf("saml provider: %w", err)
		}
		providers = append(providers, samlProvider)
	}

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	logger.Info("identity providers configured", slog.Any("providers", names))

	return sso.NewRegistry(providers...), nil
}

func buildSAMLProvider(cfg config.SAMLProviderConfig) (*sso.SAMLProvider, error) {
	metadata, err := os.ReadFile(cfg.IDPMetadataPath)
	if err != nil {
		return nil, fmt.Errorf("read idp metadata: %w", err)
	}
	cert, err := os.ReadFile(cfg.CertificatePath)
	if err != nil {
		return nil, fmt.Errorf("read sp certificate: %w", err)
	}
	key, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read sp key: %w", err)
	}

	return sso.NewSAMLProvider(sso.SAMLConfig{
		ProviderName:   "saml",
		EntityID:       cfg.EntityID,
		ACSURL:         cfg.ACSURL,
		MetadataURL:    cfg.MetadataURL,
		IDPMetadataXML: metadata,
		CertificatePEM: cert,
		KeyPEM:         key,
	})
}
