package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Redis     RedisConfig
	Server    ServerConfig
	Auth      AuthConfig
	Flow      FlowConfig
	Session   SessionConfig
	MFA       MFAConfig
	WebAuthn  WebAuthnConfig
	Providers ProvidersConfig
	Email     EmailConfig
	GeoIP     GeoIPConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

type AuthConfig struct {
	AccessTokenSecret  string
	RefreshTokenSecret string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

type FlowConfig struct {
	TTL             time.Duration
	MaxAttempts     int
	CleanupInterval time.Duration
}

type SessionConfig struct {
	TTL                time.Duration
	RememberMeTTL      time.Duration
	ElevationDuration  time.Duration
	MaxActiveCountries int
}

type MFAConfig struct {
	Issuer          string
	EncryptionKey   string // 32 bytes, AES-256
	BackupCodeCount int
}

type WebAuthnConfig struct {
	RPDisplayName string
	RPID          string
	RPOrigins     []string
}

// OAuthProviderConfig holds one OAuth2 provider's client registration. A
// provider with an empty ClientID is disabled.
type OAuthProviderConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type SAMLProviderConfig struct {
	EntityID        string
	ACSURL          string
	MetadataURL     string
	IDPMetadataPath string
	CertificatePath string
	KeyPath         string
}

type ProvidersConfig struct {
	Google OAuthProviderConfig
	GitHub OAuthProviderConfig
	SAML   SAMLProviderConfig
}

// EmailConfig configures SES alerting. An empty FromAddress disables it.
type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

// GeoIPConfig points at a MaxMind City database. An empty path disables
// location resolution.
type GeoIPConfig struct {
	DatabasePath string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	accessSecret := getEnv("ACCESS_TOKEN_SECRET", "")
	if accessSecret == "" {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET is required")
	}
	refreshSecret := getEnv("REFRESH_TOKEN_SECRET", "")
	if refreshSecret == "" {
		return nil, fmt.Errorf("REFRESH_TOKEN_SECRET is required")
	}
	mfaKey := getEnv("MFA_ENCRYPTION_KEY", "")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bdc_auth"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
		},
		Auth: AuthConfig{
			AccessTokenSecret:  accessSecret,
			RefreshTokenSecret: refreshSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 30*24*time.Hour),
		},
		Flow: FlowConfig{
			TTL:             getEnvAsDuration("FLOW_TTL", 10*time.Minute),
			MaxAttempts:     getEnvAsInt("FLOW_MAX_ATTEMPTS", 5),
			CleanupInterval: getEnvAsDuration("FLOW_CLEANUP_INTERVAL", 5*time.Minute),
		},
		Session: SessionConfig{
			TTL:                getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			RememberMeTTL:      getEnvAsDuration("SESSION_REMEMBER_ME_TTL", 30*24*time.Hour),
			ElevationDuration:  getEnvAsDuration("SESSION_ELEVATION_DURATION", 15*time.Minute),
			MaxActiveCountries: getEnvAsInt("SESSION_MAX_ACTIVE_COUNTRIES", 2),
		},
		MFA: MFAConfig{
			Issuer:          getEnv("MFA_ISSUER", "BDC Auth"),
			EncryptionKey:   mfaKey,
			BackupCodeCount: getEnvAsInt("MFA_BACKUP_CODE_COUNT", 8),
		},
		WebAuthn: WebAuthnConfig{
			RPDisplayName: getEnv("WEBAUTHN_RP_DISPLAY_NAME", "BDC Auth"),
			RPID:          getEnv("WEBAUTHN_RP_ID", "localhost"),
			RPOrigins:     getEnvAsSlice("WEBAUTHN_RP_ORIGINS", []string{"http://localhost:8080"}),
		},
		Providers: ProvidersConfig{
			Google: OAuthProviderConfig{
				ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
				ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
			},
			GitHub: OAuthProviderConfig{
				ClientID:     getEnv("GITHUB_CLIENT_ID", ""),
				ClientSecret: getEnv("GITHUB_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("GITHUB_REDIRECT_URL", ""),
			},
			SAML: SAMLProviderConfig{
				EntityID:        getEnv("SAML_ENTITY_ID", ""),
				ACSURL:          getEnv("SAML_ACS_URL", ""),
				MetadataURL:     getEnv("SAML_METADATA_URL", ""),
				IDPMetadataPath: getEnv("SAML_IDP_METADATA_PATH", ""),
				CertificatePath: getEnv("SAML_CERTIFICATE_PATH", ""),
				KeyPath:         getEnv("SAML_KEY_PATH", ""),
			},
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
		GeoIP: GeoIPConfig{
			DatabasePath: getEnv("GEOIP_DATABASE_PATH", ""),
		},
	}

	if err := validateTokenSecret("ACCESS_TOKEN_SECRET", accessSecret, env); err != nil {
		return nil, err
	}
	if err := validateTokenSecret("REFRESH_TOKEN_SECRET", refreshSecret, env); err != nil {
		return nil, err
	}
	if accessSecret == refreshSecret {
		return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if len(mfaKey) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(mfaKey))
	}

	return cfg, nil
}

// validateTokenSecret enforces minimum security standards for JWT secrets.
func validateTokenSecret(name, secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Enabled reports whether this provider has a client registration.
func (c OAuthProviderConfig) Enabled() bool {
	return c.ClientID != ""
}

// Enabled reports whether a SAML identity provider is configured.
func (c SAMLProviderConfig) Enabled() bool {
	return c.IDPMetadataPath != ""
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsSlice(key string, defaultVal []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i, part := range parts {
			parts[i] = strings.TrimSpace(part)
		}
		return parts
	}
	return defaultVal
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		originsStr := getEnv("ALLOWED_ORIGINS", "")
		if originsStr == "" {
			return []string{} // Default to no origins in production
		}
		origins := strings.Split(originsStr, ",")
		for i, origin := range origins {
			origins[i] = strings.TrimSpace(origin)
		}
		return origins
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
