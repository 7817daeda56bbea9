// Package config loads service configuration from an optional .env file and
// the process environment, layered over compiled defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// ErrConfigRequired is returned when a required key is missing.
var ErrConfigRequired = errors.New("required configuration missing")

type Config struct {
	Environment string `koanf:"environment"`

	Logging       LoggingConfig       `koanf:"logging"`
	Server        ServerConfig        `koanf:"server"`
	Redis         RedisConfig         `koanf:"redis"`
	Scylla        ScyllaConfig        `koanf:"scylla"`
	Kafka         KafkaConfig         `koanf:"kafka"`
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	Clickhouse    ClickhouseConfig    `koanf:"clickhouse"`
	KMS           KMSConfig           `koanf:"kms"`
	AWS           AWSConfig           `koanf:"aws"`
	Bucketing     BucketingConfig     `koanf:"bucketing"`

	OTP       OTPConfig       `koanf:"otp"`
	JWT       JWTConfig       `koanf:"jwt"`
	Turnstile TurnstileConfig `koanf:"turnstile"`
	SMS       SMSConfig       `koanf:"sms"`
	Audit     AuditConfig     `koanf:"audit"`
	Auth      AuthConfig      `koanf:"auth"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	TLSPort         int           `koanf:"tls_port"`
	EnableTLS       bool          `koanf:"enable_tls"`
	RequireHTTPS    bool          `koanf:"require_https"`
	AutoCert        bool          `koanf:"auto_cert"`
	Domain          string        `koanf:"domain"`
	CertFile        string        `koanf:"cert_file"`
	KeyFile         string        `koanf:"key_file"`
	AutoCertDir     string        `koanf:"auto_cert_dir"`
	Email           string        `koanf:"email"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type RedisConfig struct {
	URL            string        `koanf:"url"`
	Password       string        `koanf:"password"`
	DB             int           `koanf:"db"`
	PoolSize       int           `koanf:"pool_size"`
	CommandTimeout time.Duration `koanf:"command_timeout"`
	// Used only for rediss:// URLs.
	TLSCAFile   string `koanf:"tls_ca_file"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

type ScyllaConfig struct {
	Nodes    []string `koanf:"nodes"`
	Keyspace string   `koanf:"keyspace"`
	Username string   `koanf:"username"`
	Password string   `koanf:"password"`
	CAPath   string   `koanf:"ca_path"`
}

type KafkaConfig struct {
	Enabled bool     `koanf:"enabled"`
	Brokers []string `koanf:"brokers"`
	Topic   string   `koanf:"topic"`
}

type ElasticsearchConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Index    string `koanf:"index"`
}

type ClickhouseConfig struct {
	Enabled  bool   `koanf:"enabled"`
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Database string `koanf:"database"`
	Table    string `koanf:"table"`
	CAFile   string `koanf:"ca_file"`
}

type KMSConfig struct {
	Enabled bool   `koanf:"enabled"`
	KeyID   string `koanf:"key_id"`
}

type AWSConfig struct {
	Region   string `koanf:"region"`
	Endpoint string `koanf:"endpoint"`
}

type BucketingConfig struct {
	UserBuckets  int `koanf:"user_buckets"`
	EventBuckets int `koanf:"event_buckets"`
}

// OTPConfig holds the tunable parts of code issuance. The attempt ceiling is
// not configurable.
type OTPConfig struct {
	Length         int    `koanf:"length"`
	ExpiryMinutes  int    `koanf:"expiry_minutes"`
	LockoutMinutes int    `koanf:"lockout_minutes"`
	HMACSecret     string `koanf:"hmac_secret"`
}

type JWTConfig struct {
	Secret      string `koanf:"secret"`
	ExpiryHours int    `koanf:"expiry_hours"`
	Issuer      string `koanf:"issuer"`
}

type TurnstileConfig struct {
	SecretKey string        `koanf:"secret_key"`
	VerifyURL string        `koanf:"verify_url"`
	Timeout   time.Duration `koanf:"timeout"`
}

type SMSConfig struct {
	// Provider is "log" or "sns".
	Provider string `koanf:"provider"`
	SenderID string `koanf:"sender_id"`
}

type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
}

// AuthConfig gates the phone authentication routes.
type AuthConfig struct {
	Enabled bool `koanf:"enabled"`
}

func defaults() *Config {
	return &Config{
		Environment: "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Port:            8080,
			TLSPort:         8443,
			AutoCertDir:     "./certs",
			AllowedOrigins:  []string{"https://*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Redis: RedisConfig{
			URL:            "redis://localhost:6379/0",
			PoolSize:       20,
			CommandTimeout: 3 * time.Second,
			TLSCAFile:      "/app/certs/ca.crt",
			TLSCertFile:    "/app/certs/redis.crt",
			TLSKeyFile:     "/app/certs/redis.key",
		},
		Scylla: ScyllaConfig{
			Nodes:    []string{"localhost:9042"},
			Keyspace: "phone_auth",
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
			Topic:   "auth.security-events",
		},
		Elasticsearch: ElasticsearchConfig{
			URL:   "http://localhost:9200",
			Index: "auth-security-events",
		},
		Clickhouse: ClickhouseConfig{
			URL:      "http://localhost:9000",
			Database: "auth",
			Table:    "security_events",
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Bucketing: BucketingConfig{
			UserBuckets:  1024,
			EventBuckets: 256,
		},
		OTP: OTPConfig{
			Length:         6,
			ExpiryMinutes:  2,
			LockoutMinutes: 15,
		},
		JWT: JWTConfig{
			ExpiryHours: 24,
			Issuer:      "phone-auth-service",
		},
		Turnstile: TurnstileConfig{
			VerifyURL: "https://challenges.cloudflare.com/turnstile/v0/siteverify",
			Timeout:   5 * time.Second,
		},
		SMS: SMSConfig{
			Provider: "log",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
		},
		Auth: AuthConfig{
			Enabled: true,
		},
	}
}

// LoadConfig reads .env (if present) and the environment over defaults.
// Variables map to keys by lowercasing and treating the first underscore as
// the section separator, so OTP_EXPIRY_MINUTES sets otp.expiry_minutes.
// Comma-separated values become lists.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	cfg := defaults()

	err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		key = strings.Replace(strings.ToLower(key), "_", ".", 1)
		if strings.Contains(value, ",") {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env vars: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validateRequired(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func validateRequired(cfg *Config) error {
	if cfg.JWT.Secret == "" {
		return fmt.Errorf("%w: jwt.secret", ErrConfigRequired)
	}
	if cfg.OTP.Length < 4 || cfg.OTP.Length > 10 {
		return fmt.Errorf("otp.length must be between 4 and 10, got %d", cfg.OTP.Length)
	}
	if cfg.OTP.ExpiryMinutes <= 0 || cfg.OTP.LockoutMinutes <= 0 {
		return fmt.Errorf("otp expiry and lockout windows must be positive")
	}
	if cfg.JWT.ExpiryHours <= 0 {
		return fmt.Errorf("jwt.expiry_hours must be positive")
	}

	if cfg.IsProduction() {
		if cfg.Turnstile.SecretKey == "" {
			return fmt.Errorf("%w: turnstile.secret_key", ErrConfigRequired)
		}
		if cfg.Redis.URL == "" {
			return fmt.Errorf("%w: redis.url", ErrConfigRequired)
		}
		if len(cfg.Scylla.Nodes) == 0 {
			return fmt.Errorf("%w: scylla.nodes", ErrConfigRequired)
		}
		if cfg.KMS.Enabled && cfg.KMS.KeyID == "" {
			return fmt.Errorf("%w: kms.key_id", ErrConfigRequired)
		}
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// OTPSecret returns the key used to HMAC stored codes, falling back to the
// token signing secret when no dedicated secret is configured.
func (c *Config) OTPSecret() string {
	if c.OTP.HMACSecret != "" {
		return c.OTP.HMACSecret
	}
	return c.JWT.Secret
}

// UsesOTPSecretFallback reports whether OTPSecret is borrowing the JWT secret.
func (c *Config) UsesOTPSecretFallback() bool {
	return c.OTP.HMACSecret == ""
}

func (c *Config) OTPExpiry() time.Duration {
	return time.Duration(c.OTP.ExpiryMinutes) * time.Minute
}

func (c *Config) OTPLockout() time.Duration {
	return time.Duration(c.OTP.LockoutMinutes) * time.Minute
}

func (c *Config) JWTExpiry() time.Duration {
	return time.Duration(c.JWT.ExpiryHours) * time.Hour
}
