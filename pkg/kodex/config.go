// Package kodex is the embeddable facade of the authentication core. A
// host application builds one Core from a Config and owns its lifecycle.
package kodex

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration for yaml decoding of values like "15m".
type Duration time.Duration

// UnmarshalYAML parses Go duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std converts to time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full configuration surface of the core.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`

	Signing  SigningConfig  `yaml:"signing"`
	Hashing  HashingConfig  `yaml:"hashing"`
	Token    TokenConfig    `yaml:"token"`
	Reset    ResetConfig    `yaml:"passwordReset"`
	Lockout  LockoutConfig  `yaml:"lockout"`
	Audit    AuditConfig    `yaml:"audit"`
	Password PasswordConfig `yaml:"password"`
	Email    EmailConfig    `yaml:"email"`
	Phone    PhoneConfig    `yaml:"phone"`
	Attrs    AttrsConfig    `yaml:"customAttributes"`
	Hooks    HooksConfig    `yaml:"hooks"`
	EventBus EventBusConfig `yaml:"eventBus"`

	// MaintenanceInterval spaces the background sweeps (expired tokens,
	// stale reset tokens, old failed attempts, audit retention).
	MaintenanceInterval Duration `yaml:"maintenanceInterval"`
}

// DatabaseConfig selects the Postgres backend. An empty DSN runs the
// core on in-memory stores.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig selects the Redis rate limiter backend. An empty Addr
// uses the in-memory limiter.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ServerConfig tunes the demo HTTP host.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	DefaultRealm string `yaml:"defaultRealm"`
}

// SigningConfig selects the JWT signer.
type SigningConfig struct {
	// HMACSecret enables the HS256 signer. At least 32 bytes.
	HMACSecret string `yaml:"hmacSecret"`
	// RSAPrivateKeyFile enables the RS256 signer instead.
	RSAPrivateKeyFile string `yaml:"rsaPrivateKeyFile"`
}

// HashingConfig selects the argon2id parameter preset.
type HashingConfig struct {
	// Preset is one of OWASP-min, balanced, Spring-like, Keycloak-like.
	// Empty means OWASP-min.
	Preset string `yaml:"preset"`
}

// TokenConfig tunes token issuance and rotation.
type TokenConfig struct {
	AccessValidity    Duration `yaml:"accessValidity"`
	RefreshValidity   Duration `yaml:"refreshValidity"`
	PersistAccess     bool     `yaml:"persistAccess"`
	RotationPolicy    string   `yaml:"rotationPolicy"`
	ReplayGracePeriod Duration `yaml:"replayGracePeriod"`
}

// ResetConfig tunes the password reset pipeline.
type ResetConfig struct {
	TokenValidity            Duration `yaml:"tokenValidity"`
	MaxAttemptsPerUser       int      `yaml:"maxAttemptsPerUser"`
	MaxAttemptsPerIdentifier int      `yaml:"maxAttemptsPerIdentifier"`
	MaxAttemptsPerIP         int      `yaml:"maxAttemptsPerIp"`
	RateLimitWindow          Duration `yaml:"rateLimitWindow"`
	CooldownPeriod           Duration `yaml:"cooldownPeriod"`
}

// LockoutConfig selects a preset by name or an explicit policy. An
// explicit threshold overrides the preset.
type LockoutConfig struct {
	Policy       string   `yaml:"policy"`
	Threshold    int      `yaml:"threshold"`
	Window       Duration `yaml:"window"`
	LockDuration Duration `yaml:"lockDuration"`
}

// AuditConfig tunes retention and the optional file sink.
type AuditConfig struct {
	RetentionPeriod Duration       `yaml:"retentionPeriod"`
	File            AuditFileYAML  `yaml:"file"`
}

// AuditFileYAML configures the rotated audit log file.
type AuditFileYAML struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
}

// PasswordConfig tunes the password policy.
type PasswordConfig struct {
	MinLength       int      `yaml:"minLength"`
	MinScore        int      `yaml:"minScore"`
	CommonPasswords []string `yaml:"commonPasswords"`
}

// EmailConfig tunes email validation.
type EmailConfig struct {
	AllowDisposable bool `yaml:"allowDisposable"`
}

// PhoneConfig tunes phone validation.
type PhoneConfig struct {
	DefaultRegion string `yaml:"defaultRegion"`
	RequireE164   bool   `yaml:"requireE164"`
}

// AttrsConfig caps custom attributes.
type AttrsConfig struct {
	MaxKeyLength   int      `yaml:"maxKeyLength"`
	MaxValueLength int      `yaml:"maxValueLength"`
	MaxAttributes  int      `yaml:"maxAttributes"`
	AllowedKeys    []string `yaml:"allowedKeys"`
}

// HooksConfig selects the hook failure strategy.
type HooksConfig struct {
	// FailureStrategy is fail-fast, collect-errors or skip-failed.
	FailureStrategy string `yaml:"failureStrategy"`
}

// EventBusConfig tunes the event fabric.
type EventBusConfig struct {
	QueueCapacity int      `yaml:"queueCapacity"`
	DrainTimeout  Duration `yaml:"drainTimeout"`
}

// LoadConfig reads and parses a yaml config file.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate applies top-level defaults. Component bounds are enforced by
// the component configs during wiring.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.DefaultRealm == "" {
		c.Server.DefaultRealm = "default"
	}
	if c.MaintenanceInterval <= 0 {
		c.MaintenanceInterval = Duration(time.Hour)
	}
	return nil
}
