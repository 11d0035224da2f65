package configuration

import (
	"time"

	"github.com/ahrav/go-promptexec/internal/llm/retry"
	"github.com/ahrav/go-promptexec/internal/llm/tier"
)

// Provider names used by the default tier ladder.
const (
	ProviderGateway   = "gateway"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Rate limiting constants.
const (
	DefaultTokensPerSecond = 10
	DefaultBurstSize       = 20
)

// Status store constants.
const (
	DefaultRedisAddr       = "localhost:6379"
	DefaultStatusKeyPrefix = "promptexec:circuit:"
	DefaultStatusTTL       = 24 * time.Hour
)

// Observability constants.
const (
	DefaultMetricsAddr = ":9090"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "json"
)

// Worker constants.
const (
	DefaultTemporalHostPort = "localhost:7233"
	DefaultNamespace        = "default"
	DefaultTaskQueue        = "promptexec"
)

// DefaultConfig returns a configuration with the three-tier ladder spread
// across the gateway, Anthropic and Google providers. API keys are read from
// the conventional environment variables.
func DefaultConfig() *Config {
	return &Config{
		Tiers: tier.DefaultTiers(),
		Retry: retry.DefaultPolicy(),
		Providers: map[string]ProviderConfig{
			ProviderAnthropic: {APIKeyEnv: "ANTHROPIC_API_KEY"},
			ProviderGoogle:    {APIKeyEnv: "GOOGLE_API_KEY"},
			ProviderGateway:   {Endpoint: "https://api.openai.com/v1", APIKeyEnv: "OPENAI_API_KEY"},
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			TokensPerSecond: DefaultTokensPerSecond,
			BurstSize:       DefaultBurstSize,
		},
		StatusStore: StatusStoreConfig{
			RedisAddr: DefaultRedisAddr,
			KeyPrefix: DefaultStatusKeyPrefix,
			TTL:       DefaultStatusTTL,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: true,
			MetricsAddr:    DefaultMetricsAddr,
			LogLevel:       DefaultLogLevel,
			LogFormat:      DefaultLogFormat,
			RedactPrompts:  true,
		},
		Worker: WorkerConfig{
			HostPort:  DefaultTemporalHostPort,
			Namespace: DefaultNamespace,
			TaskQueue: DefaultTaskQueue,
		},
	}
}
