// Package configuration loads the settings that assemble a prompt executor:
// the tier ladder, backoff, provider credentials, rate limits, sandbox
// defaults, breaker status publishing, observability and the Temporal worker.
package configuration

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
	"github.com/ahrav/go-promptexec/internal/llm/retry"
	"github.com/ahrav/go-promptexec/internal/llm/tier"
)

// ErrInvalidConfig wraps every validation failure reported by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the complete configuration for a prompt executor.
// Zero-valued sections take the values from DefaultConfig when loaded
// through Load.
type Config struct {
	// Tier ladder, highest quality first.
	Tiers []tier.Config `yaml:"tiers" json:"tiers" validate:"required,min=1,dive"`

	// Backoff between attempts within a tier.
	Retry retry.Policy `yaml:"retry" json:"retry"`

	// Provider configurations keyed by the name tiers reference in Backend.
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers" validate:"dive"`

	// Rate limiting configuration
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Template rendering configuration
	Sandbox SandboxConfig `yaml:"sandbox" json:"sandbox"`

	// Breaker status publishing
	StatusStore StatusStoreConfig `yaml:"status_store" json:"status_store"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Temporal worker configuration
	Worker WorkerConfig `yaml:"worker" json:"worker"`
}

// ProviderConfig holds provider-specific configuration and authentication.
// Includes the API endpoint, credentials, per-call timeout, and custom headers
// for one model provider.
type ProviderConfig struct {
	// Type selects the adapter: gateway, anthropic or google. Empty means the
	// map key names the type.
	Type      string            `yaml:"type,omitempty" json:"type,omitempty" validate:"omitempty,oneof=gateway anthropic google"`
	Endpoint  string            `yaml:"endpoint,omitempty" json:"endpoint,omitempty" validate:"omitempty,url"`
	APIKey    string            `yaml:"api_key,omitempty" json:"-"` // Sensitive, not serialized
	APIKeyEnv string            `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
	Headers   map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
}

// RateLimitConfig controls the local token bucket placed in front of every
// provider. An exhausted bucket fails the call immediately so the tier's
// retry budget decides what happens next.
type RateLimitConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	TokensPerSecond float64 `yaml:"tokens_per_second" json:"tokens_per_second" validate:"gte=0"`
	BurstSize       int     `yaml:"burst_size" json:"burst_size" validate:"gte=0"`
}

// SandboxConfig supplies template rendering defaults.
type SandboxConfig struct {
	// Defaults are merged under every request context.
	Defaults map[string]any `yaml:"defaults,omitempty" json:"defaults,omitempty"`
	// SchemaFile optionally names an OpenAPI schema every context must satisfy.
	SchemaFile string `yaml:"schema_file,omitempty" json:"schema_file,omitempty"`
}

// StatusStoreConfig controls publishing breaker transitions to Redis.
type StatusStoreConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr" validate:"required_if=Enabled true"`
	RedisPassword string        `yaml:"redis_password,omitempty" json:"-"` // Sensitive
	RedisDB       int           `yaml:"redis_db" json:"redis_db" validate:"gte=0"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" validate:"gte=0"`
}

// ObservabilityConfig controls metrics, structured logging, and prompt
// redaction.
type ObservabilityConfig struct {
	MetricsEnabled bool   `yaml:"metrics_enabled" json:"metrics_enabled"`
	MetricsAddr    string `yaml:"metrics_addr" json:"metrics_addr"`
	LogLevel       string `yaml:"log_level" json:"log_level" validate:"oneof=debug info warn error"`
	LogFormat      string `yaml:"log_format" json:"log_format" validate:"oneof=json text"`
	RedactPrompts  bool   `yaml:"redact_prompts" json:"redact_prompts"`
}

// WorkerConfig locates the Temporal frontend and the task queue served.
type WorkerConfig struct {
	HostPort  string `yaml:"host_port" json:"host_port" validate:"required"`
	Namespace string `yaml:"namespace" json:"namespace" validate:"required"`
	TaskQueue string `yaml:"task_queue" json:"task_queue" validate:"required"`
}

// Load reads a YAML file over DefaultConfig, fills omitted tier fields,
// resolves API keys from the environment and validates the result. An empty
// path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.Tiers = tier.ApplyDefaults(cfg.Tiers)
	cfg.ResolveSecrets()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolveSecrets fills empty APIKey fields from the variable named by APIKeyEnv.
func (c *Config) ResolveSecrets() {
	for name, p := range c.Providers {
		if p.APIKey == "" && p.APIKeyEnv != "" {
			p.APIKey = os.Getenv(p.APIKeyEnv)
			c.Providers[name] = p
		}
	}
}

// Validate checks field constraints, builds the tier policy to catch
// duplicate names, and verifies every tier backend names a configured
// provider.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Policy(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	for _, t := range c.Tiers {
		if t.Backend == "" {
			continue
		}
		if _, ok := c.Providers[t.Backend]; !ok {
			return fmt.Errorf("%w: tier %q: %w: %s", ErrInvalidConfig, t.Name, llmerrors.ErrUnknownProvider, t.Backend)
		}
	}
	return nil
}

// Policy builds the tier policy described by Tiers.
func (c *Config) Policy() (*tier.Policy, error) {
	return tier.NewPolicy(c.Tiers...)
}

// ProviderType returns the adapter type for the named provider.
func (c *Config) ProviderType(name string) string {
	if p, ok := c.Providers[name]; ok && p.Type != "" {
		return p.Type
	}
	return name
}
