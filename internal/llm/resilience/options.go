package resilience

import (
	"log/slog"
	"maps"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
	"github.com/ahrav/go-promptexec/internal/llm/circuitbreaker"
	"github.com/ahrav/go-promptexec/internal/llm/retry"
	"github.com/ahrav/go-promptexec/internal/prompt/sandbox"
	"github.com/ahrav/go-promptexec/internal/prompt/schema"
)

// Option configures an Executor.
type Option func(*Executor)

// WithSandbox sets the template sandbox. Defaults to sandbox.New().
func WithSandbox(sb *sandbox.Sandbox) Option {
	return func(e *Executor) {
		if sb != nil {
			e.sandbox = sb
		}
	}
}

// WithDefaults sets template values merged under every request context.
func WithDefaults(defaults map[string]any) Option {
	return func(e *Executor) { e.defaults = maps.Clone(defaults) }
}

// WithDefaultSchema sets the schema applied to requests that carry none.
func WithDefaultSchema(sch *schema.Schema) Option {
	return func(e *Executor) { e.schema = sch }
}

// WithRetryPolicy sets the backoff between attempts within a tier.
func WithRetryPolicy(p retry.Policy) Option {
	return func(e *Executor) { e.retry = p }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink. Defaults to NoOpMetrics.
func WithMetrics(m Metrics) Option {
	return func(e *Executor) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithObserver adds an observer for breaker transitions, such as a
// circuitbreaker.RedisPublisher.
func WithObserver(obs circuitbreaker.Observer) Option {
	return func(e *Executor) {
		if obs != nil {
			e.observers = append(e.observers, obs)
		}
	}
}

// WithBreakerOptions passes options through to every tier breaker.
func WithBreakerOptions(opts ...circuitbreaker.Option) Option {
	return func(e *Executor) { e.breakerOpts = append(e.breakerOpts, opts...) }
}

// WithBackends registers named backends. A tier whose Backend field names one
// of them is served by it instead of the default backend.
func WithBackends(backends map[string]backend.Backend) Option {
	return func(e *Executor) {
		if e.backends == nil {
			e.backends = make(map[string]backend.Backend, len(backends))
		}
		maps.Copy(e.backends, backends)
	}
}

// WithRedactPrompts controls whether rendered prompts may appear in debug
// logs. Prompts are redacted by default.
func WithRedactPrompts(redact bool) Option {
	return func(e *Executor) { e.redactPrompts = redact }
}
