// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the JSON API listens on.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health server.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs the server on in-memory repositories.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL backs rate limits and the contact lock. Empty falls back to in-process equivalents.
	RedisURL string `mapstructure:"REDIS_URL"`
	// CORSOrigins is a comma-separated list of web origins allowed to call the API.
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file; used with JWT_PUBLIC_KEY.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTSecret signs HS256 tokens when no key pair is configured.
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	JWTIssuer   string `mapstructure:"JWT_ISSUER"`
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// SessionTTL bounds a login session; elevation lasts as long as the session.
	SessionTTL time.Duration `mapstructure:"SESSION_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// SMSLocalAPIKey is the API key for SMS Local. Empty disables SMS unless dev OTP mode is on.
	SMSLocalAPIKey string `mapstructure:"SMS_LOCAL_API_KEY"`
	// SMSLocalSender is the optional sender ID for SMS Local.
	SMSLocalSender  string `mapstructure:"SMS_LOCAL_SENDER"`
	SMSLocalBaseURL string `mapstructure:"SMS_LOCAL_BASE_URL"`
	// OTPReturnToClient when true enables dev OTP mode: no SMS, OTP readable at GET /dev/mfa/otp.
	// Rejected when Env is production.
	OTPReturnToClient bool `mapstructure:"OTP_RETURN_TO_CLIENT"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// TOTPIssuer is the issuer shown in authenticator apps.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`
	// PhoneDefaultCountryCode replaces a national leading 0 when enrolling a phone (e.g. "+91").
	PhoneDefaultCountryCode string `mapstructure:"PHONE_DEFAULT_COUNTRY_CODE"`

	ChallengeWarnAfter  time.Duration `mapstructure:"CHALLENGE_WARN_AFTER"`
	ChallengeStaleAfter time.Duration `mapstructure:"CHALLENGE_STALE_AFTER"`
	MaxVerifyAttempts   int           `mapstructure:"MAX_VERIFY_ATTEMPTS"`
	// RequestTimeout bounds every call to the identity provider.
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ConfirmMaxTries int           `mapstructure:"CONFIRM_MAX_TRIES"`
	// SMSMaxPerWindow and SMSWindow bound phone challenges per factor.
	SMSMaxPerWindow int           `mapstructure:"SMS_MAX_PER_WINDOW"`
	SMSWindow       time.Duration `mapstructure:"SMS_WINDOW"`
	// DefaultTrustTTLDays is the device trust TTL for roles the policy does not set one for.
	DefaultTrustTTLDays int `mapstructure:"DEFAULT_TRUST_TTL_DAYS"`

	// LogLevel is a zap level name; LogFormat is "json" or "console".
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// OTelEndpoint enables OTLP export of traces, metrics and logs when set.
	OTelEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// Telemetry (optional). When Kafka brokers are set, elevation events are also written to Kafka.
	// TelemetryKafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	TelemetryKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	TelemetryKafkaTopic   string `mapstructure:"TELEMETRY_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the telemetry worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the telemetry worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "schoolhub")
	v.SetDefault("JWT_AUDIENCE", "schoolhub-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("SESSION_TTL", "12h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SMS_LOCAL_API_KEY", "")
	v.SetDefault("SMS_LOCAL_SENDER", "")
	v.SetDefault("SMS_LOCAL_BASE_URL", "https://app.smslocal.in/api/smsapi")
	v.SetDefault("OTP_RETURN_TO_CLIENT", false)
	v.SetDefault("APP_ENV", "")
	v.SetDefault("TOTP_ISSUER", "SchoolHub")
	v.SetDefault("PHONE_DEFAULT_COUNTRY_CODE", "+91")
	v.SetDefault("CHALLENGE_WARN_AFTER", "4m")
	v.SetDefault("CHALLENGE_STALE_AFTER", "5m")
	v.SetDefault("MAX_VERIFY_ATTEMPTS", 5)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CONFIRM_MAX_TRIES", 5)
	v.SetDefault("SMS_MAX_PER_WINDOW", 3)
	v.SetDefault("SMS_WINDOW", "10m")
	v.SetDefault("DEFAULT_TRUST_TTL_DAYS", 30)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("TELEMETRY_KAFKA_TOPIC", "schoolhub-elevation")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "schoolhub-telemetry-worker")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.OTPReturnToClient && cfg.Env == "production" {
		return nil, errors.New("config: OTP_RETURN_TO_CLIENT must not be true when APP_ENV=production")
	}
	if cfg.Env == "production" && cfg.JWTSecret == "" && cfg.JWTPrivateKey == "" {
		return nil, errors.New("config: JWT_SECRET or JWT_PRIVATE_KEY must be set when APP_ENV=production")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.ChallengeWarnAfter >= cfg.ChallengeStaleAfter {
		return nil, errors.New("config: CHALLENGE_WARN_AFTER must be shorter than CHALLENGE_STALE_AFTER")
	}
	if cfg.MaxVerifyAttempts < 1 {
		return nil, errors.New("config: MAX_VERIFY_ATTEMPTS must be at least 1")
	}
	if cfg.DefaultTrustTTLDays < 0 {
		return nil, errors.New("config: DEFAULT_TRUST_TTL_DAYS must not be negative")
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTAccessTTL)
	if err != nil || d <= 0 {
		return 15 * time.Minute
	}
	return d
}

// DevOTP reports whether dev OTP mode is on.
func (c *Config) DevOTP() bool {
	return c != nil && c.OTPReturnToClient && c.Env != "production"
}

// TelemetryKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if telemetry is enabled (non-empty list) and to create the producer.
func (c *Config) TelemetryKafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TelemetryKafkaBrokers)
}

// CORSOriginList returns the allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
