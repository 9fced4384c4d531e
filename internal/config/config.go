package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreMongo    = "mongo"
)

// Mail transports.
const (
	MailLog      = "log"
	MailSMTP     = "smtp"
	MailPostmark = "postmark"
)

// Config holds application configuration.
type Config struct {
	// Server
	ServerAddr string
	ServerPort int

	// Storage
	StoreDriver string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	MongoURL      string
	MongoDatabase string

	// RedisURL enables the shared token denylist and OAuth state store.
	RedisURL string

	// JWT
	JWTSecret string
	JWTIssuer string
	TokenTTL  time.Duration

	// Account behaviour
	SignupEnabled        bool
	VerificationRequired bool
	UsernameEnabled      bool
	PasswordlessEnabled  bool
	MinPasswordLength    int
	AccountTokenTTL      time.Duration
	AppBaseURL           string
	SiteName             string
	ServePages           bool

	// Mail
	MailTransport string
	MailFrom      string
	SMTP          SMTPConfig
	Postmark      PostmarkConfig

	// Social providers
	OAuthRedirectBase string
	Social            map[string]OAuthClient

	RateLimit       RateLimitConfig
	SecurityHeaders SecurityHeadersConfig
	Validation      ValidationConfig

	// Logging
	LogFile  string
	LogLevel string
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	FromName string
}

// PostmarkConfig holds Postmark API settings.
type PostmarkConfig struct {
	ServerToken  string
	AccountToken string
	ReplyTo      string
}

// OAuthClient is a registered OAuth application.
type OAuthClient struct {
	ClientID     string
	ClientSecret string
}

// RateLimitConfig holds per endpoint group limits.
type RateLimitConfig struct {
	Enabled bool

	AuthRequestsPerMinute int
	AuthWindowMinutes     int

	ResetRequestsPerWindow int
	ResetWindowMinutes     int

	VerifyRequestsPerWindow int
	VerifyWindowMinutes     int

	SocialRequestsPerMinute int
	SocialWindowMinutes     int

	ProfileRequestsPerMinute int
	ProfileWindowMinutes     int
}

// SecurityHeadersConfig holds response security header values.
type SecurityHeadersConfig struct {
	Enabled            bool
	CSP                string
	HSTSMaxAge         int
	FrameOptions       string
	ContentTypeOptions string
	XSSProtection      string
	ReferrerPolicy     string
	PermissionsPolicy  string
}

// ValidationConfig holds request validation limits.
type ValidationConfig struct {
	MaxRequestBodySize int64
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		// Server defaults
		ServerAddr: getEnv("SERVER_ADDR", "0.0.0.0"),
		ServerPort: getEnvInt("SERVER_PORT", 8080),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),

		// Database defaults (matches podman setup: make postgres-start)
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnvInt("DB_PORT", 25432),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "simple_idm"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		MongoURL:      getEnv("MONGODB_URL", "mongodb://localhost:27017"),
		MongoDatabase: getEnv("MONGODB_DATABASE", "simple_idm"),

		RedisURL: getEnv("REDIS_URL", ""),

		// JWT defaults
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "simple-idm-account"),
		TokenTTL:  getEnvDuration("TOKEN_TTL", 24*time.Hour),

		SignupEnabled:        getEnvBool("SIGNUP_ENABLED", true),
		VerificationRequired: getEnvBool("VERIFICATION_REQUIRED", true),
		UsernameEnabled:      getEnvBool("USERNAME_ENABLED", false),
		PasswordlessEnabled:  getEnvBool("PASSWORDLESS_ENABLED", false),
		MinPasswordLength:    getEnvInt("MIN_PASSWORD_LENGTH", 6),
		AccountTokenTTL:      getEnvDuration("ACCOUNT_TOKEN_TTL", time.Hour),
		AppBaseURL:           strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8080"), "/"),
		SiteName:             getEnv("SITE_NAME", "Simple IDM"),
		ServePages:           getEnvBool("SERVE_PAGES", true),

		MailTransport: strings.ToLower(getEnv("MAIL_TRANSPORT", MailLog)),
		MailFrom:      getEnv("MAIL_FROM", "noreply@localhost"),
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "localhost"),
			Port:     getEnvInt("SMTP_PORT", 1025),
			User:     getEnv("SMTP_USER", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			FromName: getEnv("SMTP_FROM_NAME", ""),
		},
		Postmark: PostmarkConfig{
			ServerToken:  getEnv("POSTMARK_SERVER_TOKEN", ""),
			AccountToken: getEnv("POSTMARK_ACCOUNT_TOKEN", ""),
			ReplyTo:      getEnv("POSTMARK_REPLY_TO", ""),
		},

		RateLimit: RateLimitConfig{
			Enabled:                  getEnvBool("RATE_LIMIT_ENABLED", true),
			AuthRequestsPerMinute:    getEnvInt("RATE_LIMIT_AUTH_REQUESTS", 10),
			AuthWindowMinutes:        getEnvInt("RATE_LIMIT_AUTH_WINDOW_MINUTES", 1),
			ResetRequestsPerWindow:   getEnvInt("RATE_LIMIT_RESET_REQUESTS", 5),
			ResetWindowMinutes:       getEnvInt("RATE_LIMIT_RESET_WINDOW_MINUTES", 15),
			VerifyRequestsPerWindow:  getEnvInt("RATE_LIMIT_VERIFY_REQUESTS", 10),
			VerifyWindowMinutes:      getEnvInt("RATE_LIMIT_VERIFY_WINDOW_MINUTES", 15),
			SocialRequestsPerMinute:  getEnvInt("RATE_LIMIT_SOCIAL_REQUESTS", 20),
			SocialWindowMinutes:      getEnvInt("RATE_LIMIT_SOCIAL_WINDOW_MINUTES", 1),
			ProfileRequestsPerMinute: getEnvInt("RATE_LIMIT_PROFILE_REQUESTS", 60),
			ProfileWindowMinutes:     getEnvInt("RATE_LIMIT_PROFILE_WINDOW_MINUTES", 1),
		},
		SecurityHeaders: SecurityHeadersConfig{
			Enabled:            getEnvBool("SECURITY_HEADERS_ENABLED", true),
			CSP:                getEnv("SECURITY_CSP", "default-src 'self'"),
			HSTSMaxAge:         getEnvInt("SECURITY_HSTS_MAX_AGE", 0),
			FrameOptions:       getEnv("SECURITY_FRAME_OPTIONS", "DENY"),
			ContentTypeOptions: "nosniff",
			XSSProtection:      getEnv("SECURITY_XSS_PROTECTION", "0"),
			ReferrerPolicy:     getEnv("SECURITY_REFERRER_POLICY", "strict-origin-when-cross-origin"),
			PermissionsPolicy:  getEnv("SECURITY_PERMISSIONS_POLICY", ""),
		},
		Validation: ValidationConfig{
			MaxRequestBodySize: int64(getEnvInt("MAX_REQUEST_BODY_SIZE", 1<<20)),
		},

		LogFile:  getEnv("LOG_FILE", ""),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	cfg.OAuthRedirectBase = strings.TrimRight(
		getEnv("OAUTH_REDIRECT_BASE", cfg.AppBaseURL+"/v1/account/social"), "/")
	cfg.Social = map[string]OAuthClient{}
	for _, provider := range []string{"google", "facebook", "github", "twitter"} {
		prefix := strings.ToUpper(provider)
		client := OAuthClient{
			ClientID:     getEnv(prefix+"_CLIENT_ID", ""),
			ClientSecret: getEnv(prefix+"_CLIENT_SECRET", ""),
		}
		if client.ClientID != "" && client.ClientSecret != "" {
			cfg.Social[provider] = client
		}
	}

	// Validate required fields
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	switch cfg.StoreDriver {
	case StoreMemory, StorePostgres, StoreMongo:
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
	switch cfg.MailTransport {
	case MailLog, MailSMTP:
	case MailPostmark:
		if cfg.Postmark.ServerToken == "" {
			return nil, fmt.Errorf("POSTMARK_SERVER_TOKEN is required for postmark transport")
		}
	default:
		return nil, fmt.Errorf("unknown MAIL_TRANSPORT %q", cfg.MailTransport)
	}
	if cfg.MinPasswordLength < 1 {
		return nil, fmt.Errorf("MIN_PASSWORD_LENGTH must be positive")
	}

	return cfg, nil
}

// HasSocial returns true if at least one social provider is configured.
func (c *Config) HasSocial() bool {
	return len(c.Social) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
