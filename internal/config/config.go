package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SocialProvider describes one external identity provider the dispatcher may
// exchange credentials against.
type SocialProvider struct {
	Name         string
	ClientID     string
	ClientSecret string
	TokenURL     string
	UserInfoURL  string
}

// Config contains runtime configuration values. It is built once at startup
// and passed to components by value; there is no global settings state.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string
	DatabaseURL string

	// Token settings. JWTSecret signs every issued token and must be stable
	// across restarts or all outstanding tokens become unverifiable.
	JWTSecret       string
	JWTAlgorithm    string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// EncryptionKey protects secrets at rest (one-time codes, stored refresh
	// material). It must be a stable 32-byte key: a key generated at boot
	// would invalidate every previously sealed envelope, so Load refuses to
	// default it.
	EncryptionKey []byte

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	PasswordlessLoginEnabled  bool
	PasswordlessCodeTTL       time.Duration
	EmailVerificationRequired bool
	SocialAutoProvision       bool
	RevokeFamilyOnReuse       bool

	// Argon2id cost parameters. Raising them later is safe; old hashes encode
	// their own parameters and keep verifying.
	HashTime    uint32
	HashMemory  uint32
	HashThreads uint8

	EmailBackend string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SocialProviders []SocialProvider

	AdminEmail    string
	AdminPassword string

	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
// Missing signing or encryption keys are fatal here, never per-request.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Environment:               getEnv("APP_ENV", "development"),
		HTTPPort:                  getEnv("HTTP_PORT", "8080"),
		ServiceName:               getEnv("SERVICE_NAME", "authcore"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		JWTSecret:                 os.Getenv("JWT_SECRET"),
		JWTAlgorithm:              getEnv("JWT_ALGORITHM", "HS256"),
		JWTAudience:               getEnv("JWT_AUDIENCE", "authcore"),
		AccessTokenTTL:            getDuration("ACCESS_TOKEN_TTL", 30*time.Minute),
		RefreshTokenTTL:           getDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		RedisAddr:                 getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:             os.Getenv("REDIS_PASSWORD"),
		RedisDB:                   getInt("REDIS_DB", 0),
		PasswordlessLoginEnabled:  getBool("PASSWORDLESS_LOGIN_ENABLED", false),
		PasswordlessCodeTTL:       getDuration("PASSWORDLESS_CODE_TTL", 5*time.Minute),
		EmailVerificationRequired: getBool("EMAIL_VERIFICATION_REQUIRED", false),
		SocialAutoProvision:       getBool("SOCIAL_AUTO_PROVISION", true),
		RevokeFamilyOnReuse:       getBool("REVOKE_FAMILY_ON_REUSE", true),
		HashTime:                  uint32(getInt("HASH_TIME", 3)),
		HashMemory:                uint32(getInt("HASH_MEMORY_KB", 64*1024)),
		HashThreads:               uint8(getInt("HASH_THREADS", 2)),
		EmailBackend:              getEnv("EMAIL_BACKEND", "console"),
		SMTPHost:                  os.Getenv("SMTP_HOST"),
		SMTPPort:                  getInt("SMTP_PORT", 587),
		SMTPUsername:              os.Getenv("SMTP_USERNAME"),
		SMTPPassword:              os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:                  os.Getenv("SMTP_FROM"),
		AdminEmail:                strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:             os.Getenv("ADMIN_PASSWORD"),
		RateLimitRPM:              getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:         getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:        getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:        getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:        getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials:      getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if len(cfg.JWTSecret) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 bytes")
	}

	key, err := decodeKey(os.Getenv("ENCRYPTION_KEY"))
	if err != nil {
		return Config{}, err
	}
	cfg.EncryptionKey = key

	switch cfg.EmailBackend {
	case "console", "smtp":
	default:
		return Config{}, fmt.Errorf("EMAIL_BACKEND must be console or smtp, got %q", cfg.EmailBackend)
	}
	if cfg.EmailBackend == "smtp" && cfg.SMTPHost == "" {
		return Config{}, fmt.Errorf("SMTP_HOST is required when EMAIL_BACKEND=smtp")
	}

	cfg.SocialProviders = loadProviders()

	return cfg, nil
}

// decodeKey accepts a base64-encoded or raw 32-byte key.
func decodeKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(raw); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 32 bytes")
}

func loadProviders() []SocialProvider {
	known := []SocialProvider{
		{
			Name:        "google",
			TokenURL:    "https://oauth2.googleapis.com/token",
			UserInfoURL: "https://openidconnect.googleapis.com/v1/userinfo",
		},
		{
			Name:        "github",
			TokenURL:    "https://github.com/login/oauth/access_token",
			UserInfoURL: "https://api.github.com/user",
		},
	}

	var providers []SocialProvider
	for _, p := range known {
		prefix := strings.ToUpper(p.Name)
		p.ClientID = os.Getenv(prefix + "_CLIENT_ID")
		p.ClientSecret = os.Getenv(prefix + "_CLIENT_SECRET")
		if url := os.Getenv(prefix + "_TOKEN_URL"); url != "" {
			p.TokenURL = url
		}
		if url := os.Getenv(prefix + "_USERINFO_URL"); url != "" {
			p.UserInfoURL = url
		}
		if p.ClientID != "" {
			providers = append(providers, p)
		}
	}
	return providers
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
