// Package tier defines the ordered quality tiers a prompt can run on. The
// order in which tiers are configured is the only fallback order: a request
// starting at a tier may degrade to any tier after it, never before it.
package tier

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-promptexec/internal/llm/circuitbreaker"
)

// Tier defaults applied by Parse to omitted fields.
const (
	DefaultMaxTokens        = 1024
	DefaultFailureThreshold = 5
	DefaultTimeout          = 60 * time.Second
	DefaultMaxRetries       = 2
)

// Policy errors.
var (
	ErrUnknownTier   = errors.New("unknown tier")
	ErrEmptyPolicy   = errors.New("tier policy has no tiers")
	ErrDuplicateTier = errors.New("duplicate tier name")
	ErrInvalidTier   = errors.New("invalid tier config")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config describes one tier.
type Config struct {
	// Name identifies the tier, e.g. "premium".
	Name string `yaml:"name" json:"name" validate:"required"`
	// Model is the model identifier sent to the backend.
	Model string `yaml:"model" json:"model" validate:"required"`
	// Backend optionally names the provider serving Model.
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`
	// MaxTokens caps the response size.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens" validate:"gt=0"`
	// Temperature is the sampling temperature in [0,1].
	Temperature float64 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=1"`
	// FailureThreshold is the consecutive failure count that opens the tier's breaker.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" validate:"gte=1"`
	// Cooldown enables automatic breaker recovery when positive.
	Cooldown time.Duration `yaml:"cooldown,omitempty" json:"cooldown,omitempty" validate:"gte=0"`
	// Timeout bounds a single backend call. Zero means no per-call bound.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty" validate:"gte=0"`
	// MaxRetries is the number of additional attempts after a failed call.
	MaxRetries int `yaml:"max_retries" json:"max_retries" validate:"gte=0"`
}

// Attempts returns the total call budget for the tier.
func (c Config) Attempts() int { return 1 + c.MaxRetries }

// Validate checks the config's field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w %q: %w", ErrInvalidTier, c.Name, err)
	}
	return nil
}

// BreakerConfig returns the circuit breaker settings for the tier.
func (c Config) BreakerConfig() circuitbreaker.Config {
	return circuitbreaker.Config{
		Name:             c.Name,
		FailureThreshold: c.FailureThreshold,
		Cooldown:         c.Cooldown,
	}
}

// Policy is an immutable ordered list of tiers.
type Policy struct {
	tiers []Config
	index map[string]int
}

// NewPolicy validates tiers and fixes their order.
func NewPolicy(tiers ...Config) (*Policy, error) {
	if len(tiers) == 0 {
		return nil, ErrEmptyPolicy
	}

	p := &Policy{
		tiers: slices.Clone(tiers),
		index: make(map[string]int, len(tiers)),
	}
	for i, t := range p.tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := p.index[t.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTier, t.Name)
		}
		p.index[t.Name] = i
	}
	return p, nil
}

// DefaultTiers returns a three-tier premium, standard, budget ladder spread
// across providers.
func DefaultTiers() []Config {
	return []Config{
		{
			Name: "premium", Model: "claude-sonnet-4-5", Backend: "anthropic",
			MaxTokens: 4096, Temperature: 0.2, FailureThreshold: DefaultFailureThreshold,
			Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries,
		},
		{
			Name: "standard", Model: "gemini-2.5-flash", Backend: "google",
			MaxTokens: 2048, Temperature: 0.2, FailureThreshold: DefaultFailureThreshold,
			Timeout: DefaultTimeout, MaxRetries: DefaultMaxRetries,
		},
		{
			Name: "budget", Model: "gpt-4o-mini", Backend: "gateway",
			MaxTokens: DefaultMaxTokens, Temperature: 0.2, FailureThreshold: DefaultFailureThreshold,
			Timeout: DefaultTimeout / 2, MaxRetries: 1,
		},
	}
}

// Default returns the first, highest tier.
func (p *Policy) Default() string { return p.tiers[0].Name }

// Names returns tier names in fallback order.
func (p *Policy) Names() []string {
	out := make([]string, len(p.tiers))
	for i, t := range p.tiers {
		out[i] = t.Name
	}
	return out
}

// Tiers returns a copy of every tier in order.
func (p *Policy) Tiers() []Config { return slices.Clone(p.tiers) }

// Len returns the number of tiers.
func (p *Policy) Len() int { return len(p.tiers) }

// Lookup returns the tier called name.
func (p *Policy) Lookup(name string) (Config, bool) {
	i, ok := p.index[name]
	if !ok {
		return Config{}, false
	}
	return p.tiers[i], true
}

// From returns the fallback chain starting at name: that tier followed by
// every lower tier. An empty name starts at the default tier.
func (p *Policy) From(name string) ([]Config, error) {
	if name == "" {
		name = p.Default()
	}
	i, ok := p.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTier, name)
	}
	return slices.Clone(p.tiers[i:]), nil
}

// BreakerConfigs returns breaker settings for every tier in order.
func (p *Policy) BreakerConfigs() []circuitbreaker.Config {
	out := make([]circuitbreaker.Config, len(p.tiers))
	for i, t := range p.tiers {
		out[i] = t.BreakerConfig()
	}
	return out
}
