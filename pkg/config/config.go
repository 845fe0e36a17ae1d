package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/propnest/propnest-backend/pkg/logging"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "PROPNEST"

// EnvironmentProduction names the production deployment environment.
const EnvironmentProduction = "production"

// Config represents the application configuration
type Config struct {
	Server            ServerConfig            `yaml:"server" envconfig:"SERVER"`
	Storage           StorageConfig           `yaml:"storage" envconfig:"STORAGE"`
	VerificationStore VerificationStoreConfig `yaml:"verification_store" envconfig:"VERIFICATION_STORE"`
	Logging           logging.Config          `yaml:"logging" envconfig:"LOGGING"`
	JWT               JWTConfig               `yaml:"jwt" envconfig:"JWT"`
	Verification      VerificationConfig      `yaml:"verification" envconfig:"VERIFICATION"`
	Mail              MailConfig              `yaml:"mail" envconfig:"MAIL"`
	Dispatcher        DispatcherConfig        `yaml:"dispatcher" envconfig:"DISPATCHER"`
	Security          SecurityConfig          `yaml:"security" envconfig:"SECURITY"`
	Sentry            SentryConfig            `yaml:"sentry" envconfig:"SENTRY"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host        string   `yaml:"host" envconfig:"HOST"`
	Port        int      `yaml:"port" envconfig:"PORT"`
	AdminPort   int      `yaml:"admin_port" envconfig:"ADMIN_PORT"`   // Internal admin API port (0 to disable)
	AdminToken  string   `yaml:"admin_token" envconfig:"ADMIN_TOKEN"` // Bearer token for admin API (auto-generated if empty)
	Environment string   `yaml:"environment" envconfig:"ENVIRONMENT"` // development, staging, production
	CORSOrigins []string `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
}

// StorageConfig selects the account directory backend.
type StorageConfig struct {
	Type    string        `yaml:"type" envconfig:"TYPE"` // memory, mongodb
	MongoDB MongoDBConfig `yaml:"mongodb" envconfig:"MONGODB"`
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string `yaml:"uri" envconfig:"URI"`
	Database string `yaml:"database" envconfig:"DATABASE"`
	Timeout  int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
}

// VerificationStoreConfig selects where challenges and reset authorizations
// live. An empty type follows the storage backend.
type VerificationStoreConfig struct {
	Type  string      `yaml:"type" envconfig:"TYPE"` // "", memory, redis, mongodb
	Redis RedisConfig `yaml:"redis" envconfig:"REDIS"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
}

// JWTConfig contains JWT configuration. The secret is checked when the first
// token is signed, not at load time.
type JWTConfig struct {
	Secret      string `yaml:"secret" envconfig:"SECRET"`
	ExpiryHours int    `yaml:"expiry_hours" envconfig:"EXPIRY_HOURS"`
	Issuer      string `yaml:"issuer" envconfig:"ISSUER"`
}

// VerificationConfig holds the one-time code policy.
type VerificationConfig struct {
	MaxAttempts             int `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	ChallengeTTLSeconds     int `yaml:"challenge_ttl_seconds" envconfig:"CHALLENGE_TTL_SECONDS"`
	AuthorizationTTLSeconds int `yaml:"authorization_ttl_seconds" envconfig:"AUTHORIZATION_TTL_SECONDS"`
	MinPasswordLength       int `yaml:"min_password_length" envconfig:"MIN_PASSWORD_LENGTH"`
	// RetentionGraceSeconds is how long an expired entry is kept around so
	// that reads can still report it as expired.
	RetentionGraceSeconds int `yaml:"retention_grace_seconds" envconfig:"RETENTION_GRACE_SECONDS"`
}

// SetDefaults fills unset verification values.
func (c *VerificationConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.ChallengeTTLSeconds <= 0 {
		c.ChallengeTTLSeconds = 300
	}
	if c.AuthorizationTTLSeconds <= 0 {
		c.AuthorizationTTLSeconds = 600
	}
	if c.MinPasswordLength <= 0 {
		c.MinPasswordLength = 6
	}
	if c.RetentionGraceSeconds <= 0 {
		c.RetentionGraceSeconds = 3600
	}
}

// ChallengeTTL returns the challenge validity window.
func (c *VerificationConfig) ChallengeTTL() time.Duration {
	return time.Duration(c.ChallengeTTLSeconds) * time.Second
}

// AuthorizationTTL returns the reset authorization validity window.
func (c *VerificationConfig) AuthorizationTTL() time.Duration {
	return time.Duration(c.AuthorizationTTLSeconds) * time.Second
}

// RetentionGrace returns how long expired entries are retained.
func (c *VerificationConfig) RetentionGrace() time.Duration {
	return time.Duration(c.RetentionGraceSeconds) * time.Second
}

// MailConfig configures outbound mail delivery.
type MailConfig struct {
	FromAddress string            `yaml:"from_address" envconfig:"FROM_ADDRESS"`
	FromName    string            `yaml:"from_name" envconfig:"FROM_NAME"`
	Primary     SMTPConfig        `yaml:"primary" envconfig:"PRIMARY"`
	Fallback    HTTPMailAPIConfig `yaml:"fallback" envconfig:"FALLBACK"`
}

// SMTPConfig configures the primary SMTP relay.
type SMTPConfig struct {
	Host     string `yaml:"host" envconfig:"HOST"`
	Port     int    `yaml:"port" envconfig:"PORT"`
	Username string `yaml:"username" envconfig:"USERNAME"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	StartTLS bool   `yaml:"starttls" envconfig:"STARTTLS"`
}

// HTTPMailAPIConfig configures the fallback transactional mail API.
type HTTPMailAPIConfig struct {
	Enabled        bool   `yaml:"enabled" envconfig:"ENABLED"`
	Endpoint       string `yaml:"endpoint" envconfig:"ENDPOINT"`
	APIKey         string `yaml:"api_key" envconfig:"API_KEY"`
	TimeoutSeconds int    `yaml:"timeout_seconds" envconfig:"TIMEOUT_SECONDS"`
}

// DispatcherConfig configures the background delivery queue.
type DispatcherConfig struct {
	Workers               int  `yaml:"workers" envconfig:"WORKERS"`
	QueueSize             int  `yaml:"queue_size" envconfig:"QUEUE_SIZE"`
	MaxRetries            int  `yaml:"max_retries" envconfig:"MAX_RETRIES"`
	BackoffSeconds        int  `yaml:"backoff_seconds" envconfig:"BACKOFF_SECONDS"`
	AttemptTimeoutSeconds int  `yaml:"attempt_timeout_seconds" envconfig:"ATTEMPT_TIMEOUT_SECONDS"`
	ExposeCodesInLogs     bool `yaml:"expose_codes_in_logs" envconfig:"EXPOSE_CODES_IN_LOGS"`
}

// SetDefaults fills unset dispatcher values.
func (c *DispatcherConfig) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffSeconds <= 0 {
		c.BackoffSeconds = 1
	}
	if c.AttemptTimeoutSeconds <= 0 {
		c.AttemptTimeoutSeconds = 20
	}
}

// SecurityConfig groups abuse protection and housekeeping settings.
type SecurityConfig struct {
	AuthRateLimit    AuthRateLimitConfig    `yaml:"auth_rate_limit" envconfig:"AUTH_RATE_LIMIT"`
	ChallengeCleanup ChallengeCleanupConfig `yaml:"challenge_cleanup" envconfig:"CHALLENGE_CLEANUP"`
}

// AuthRateLimitConfig limits requests against the verification endpoints.
type AuthRateLimitConfig struct {
	Enabled            bool `yaml:"enabled" envconfig:"ENABLED"`
	MaxAttempts        int  `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	WindowSeconds      int  `yaml:"window_seconds" envconfig:"WINDOW_SECONDS"`
	LockoutSeconds     int  `yaml:"lockout_seconds" envconfig:"LOCKOUT_SECONDS"`
	CleanupIntervalSec int  `yaml:"cleanup_interval_seconds" envconfig:"CLEANUP_INTERVAL_SECONDS"`
}

// SetDefaults fills unset rate limit values.
func (c *AuthRateLimitConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = 60
	}
	if c.LockoutSeconds <= 0 {
		c.LockoutSeconds = 300
	}
	if c.CleanupIntervalSec <= 0 {
		c.CleanupIntervalSec = 300
	}
}

// ChallengeCleanupConfig configures the purge of long-expired entries.
type ChallengeCleanupConfig struct {
	Enabled         bool `yaml:"enabled" envconfig:"ENABLED"`
	IntervalSeconds int  `yaml:"interval_seconds" envconfig:"INTERVAL_SECONDS"`
}

// SetDefaults fills unset cleanup values.
func (c *ChallengeCleanupConfig) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 300
	}
}

// SentryConfig configures error reporting.
type SentryConfig struct {
	Enabled          bool    `yaml:"enabled" envconfig:"ENABLED"`
	DSN              string  `yaml:"dsn" envconfig:"DSN"`
	Environment      string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	TracesSampleRate float64 `yaml:"traces_sample_rate" envconfig:"TRACES_SAMPLE_RATE"`
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	cfg := defaultConfig()

	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment variables take precedence over the file.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			AdminPort:   8081,
			Environment: "development",
		},
		Storage: StorageConfig{
			Type: "memory",
			MongoDB: MongoDBConfig{
				URI:      "mongodb://localhost:27017",
				Database: "propnest",
				Timeout:  10,
			},
		},
		VerificationStore: VerificationStoreConfig{
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "propnest:otp:",
			},
		},
		Logging: logging.DefaultConfig(),
		JWT: JWTConfig{
			ExpiryHours: 24,
			Issuer:      "propnest-backend",
		},
		Verification: VerificationConfig{
			MaxAttempts:             3,
			ChallengeTTLSeconds:     300,
			AuthorizationTTLSeconds: 600,
			MinPasswordLength:       6,
			RetentionGraceSeconds:   3600,
		},
		Mail: MailConfig{
			FromName: "PropNest",
			Primary: SMTPConfig{
				Port:     587,
				StartTLS: true,
			},
			Fallback: HTTPMailAPIConfig{
				TimeoutSeconds: 20,
			},
		},
		Dispatcher: DispatcherConfig{
			Workers:               4,
			QueueSize:             256,
			MaxRetries:            2,
			BackoffSeconds:        1,
			AttemptTimeoutSeconds: 20,
		},
		Security: SecurityConfig{
			AuthRateLimit: AuthRateLimitConfig{
				Enabled:            true,
				MaxAttempts:        10,
				WindowSeconds:      60,
				LockoutSeconds:     300,
				CleanupIntervalSec: 300,
			},
			ChallengeCleanup: ChallengeCleanupConfig{
				Enabled:         true,
				IntervalSeconds: 300,
			},
		},
		Sentry: SentryConfig{
			TracesSampleRate: 0.1,
		},
	}
}

// SetDefaults fills zero values left by partial YAML or environment input.
func (c *Config) SetDefaults() {
	c.Verification.SetDefaults()
	c.Dispatcher.SetDefaults()
	c.Security.AuthRateLimit.SetDefaults()
	c.Security.ChallengeCleanup.SetDefaults()
	if c.Sentry.Environment == "" {
		c.Sentry.Environment = c.Server.Environment
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Server.AdminPort)
	}

	if c.Storage.Type != "memory" && c.Storage.Type != "mongodb" {
		return fmt.Errorf("invalid storage type: %s (must be memory or mongodb)", c.Storage.Type)
	}

	if c.Storage.Type == "mongodb" && c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("mongodb uri is required when using mongodb storage")
	}

	switch c.VerificationStore.Type {
	case "", "memory":
	case "mongodb":
		if c.Storage.MongoDB.URI == "" {
			return fmt.Errorf("mongodb uri is required for the mongodb verification store")
		}
	case "redis":
		if c.VerificationStore.Redis.Address == "" {
			return fmt.Errorf("redis address is required for the redis verification store")
		}
	default:
		return fmt.Errorf("invalid verification store type: %s (must be memory, redis, or mongodb)", c.VerificationStore.Type)
	}

	v := c.Verification
	if v.MaxAttempts < 1 || v.ChallengeTTLSeconds < 1 || v.AuthorizationTTLSeconds < 1 || v.MinPasswordLength < 1 {
		return fmt.Errorf("verification limits must be positive")
	}

	if c.Dispatcher.ExposeCodesInLogs && c.IsProduction() {
		return fmt.Errorf("dispatcher.expose_codes_in_logs is not allowed in production")
	}

	if c.Mail.Fallback.Enabled && c.Mail.Fallback.Endpoint == "" {
		return fmt.Errorf("mail fallback endpoint is required when the fallback is enabled")
	}

	if c.Sentry.Enabled && c.Sentry.DSN == "" {
		return fmt.Errorf("sentry dsn is required when sentry is enabled")
	}

	return nil
}

// IsProduction reports whether the server runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvironmentProduction
}

// EffectiveVerificationStore resolves the effective verification store type.
func (c *Config) EffectiveVerificationStore() string {
	if c.VerificationStore.Type != "" {
		return c.VerificationStore.Type
	}
	return c.Storage.Type
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AdminAddress returns the admin server address
func (c *ServerConfig) AdminAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.AdminPort)
}
