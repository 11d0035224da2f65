package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
	"github.com/ahrav/go-promptexec/internal/llm/circuitbreaker"
	"github.com/ahrav/go-promptexec/internal/llm/configuration"
	"github.com/ahrav/go-promptexec/internal/llm/providers"
	"github.com/ahrav/go-promptexec/internal/llm/resilience"
	"github.com/ahrav/go-promptexec/internal/prompt/schema"
)

// Options supplies process-level dependencies to NewRuntime. Every field is
// optional.
type Options struct {
	// Backend replaces the provider router built from configuration.
	Backend backend.Backend
	// HTTPClient is handed to provider adapters.
	HTTPClient *http.Client
	// Registerer receives executor metrics when metrics are enabled.
	Registerer prometheus.Registerer
	// Redis replaces the client built from the status store settings.
	Redis redis.UniversalClient
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Runtime is an executor together with the resources it owns.
type Runtime struct {
	Executor  *resilience.Executor
	Publisher *circuitbreaker.RedisPublisher

	closers []func() error
}

// NewRuntime assembles an executor from cfg: provider backends, backoff,
// sandbox defaults and schema, Prometheus metrics and Redis status
// publishing. Call Close to release what it opened.
func NewRuntime(ctx context.Context, cfg *configuration.Config, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	b := opts.Backend
	if b == nil {
		router, err := providers.FromConfig(ctx, cfg, opts.HTTPClient, logger.With("component", "providers"))
		if err != nil {
			return nil, err
		}
		b = router
	}

	execOpts := []resilience.Option{
		resilience.WithRetryPolicy(cfg.Retry),
		resilience.WithDefaults(cfg.Sandbox.Defaults),
		resilience.WithRedactPrompts(cfg.Observability.RedactPrompts),
		resilience.WithLogger(logger.With("component", "resilience")),
	}

	if cfg.Sandbox.SchemaFile != "" {
		sch, err := schema.LoadFile(cfg.Sandbox.SchemaFile)
		if err != nil {
			return nil, err
		}
		execOpts = append(execOpts, resilience.WithDefaultSchema(sch))
	}

	if cfg.Observability.MetricsEnabled && opts.Registerer != nil {
		m, err := resilience.NewPrometheusMetrics(opts.Registerer, "promptexec")
		if err != nil {
			return nil, err
		}
		execOpts = append(execOpts, resilience.WithMetrics(m))
	}

	rt := &Runtime{}
	if cfg.StatusStore.Enabled {
		client := opts.Redis
		if client == nil {
			c := redis.NewClient(&redis.Options{
				Addr:     cfg.StatusStore.RedisAddr,
				Password: cfg.StatusStore.RedisPassword,
				DB:       cfg.StatusStore.RedisDB,
			})
			rt.closers = append(rt.closers, c.Close)
			client = c
		}
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("circuit status store unreachable, publishing will be retried per transition",
				"addr", cfg.StatusStore.RedisAddr, "error", err)
		}

		rt.Publisher = circuitbreaker.NewRedisPublisher(client,
			circuitbreaker.WithKeyPrefix(cfg.StatusStore.KeyPrefix),
			circuitbreaker.WithStatusTTL(cfg.StatusStore.TTL),
			circuitbreaker.WithPublisherLogger(logger.With("component", "circuit_status")),
		)
		// The publisher drains before the client it writes through closes.
		rt.closers = append([]func() error{rt.Publisher.Close}, rt.closers...)
		execOpts = append(execOpts, resilience.WithObserver(rt.Publisher))
	}

	rt.Executor, err = resilience.New(policy, b, execOpts...)
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("build executor: %w", err)
	}

	if rt.Publisher != nil {
		if err := rt.Publisher.PublishAll(ctx, rt.Executor.CircuitStatus()); err != nil {
			logger.Warn("initial circuit status publish failed", "error", err)
		}
	}
	return rt, nil
}

// Close stops status publishing and releases owned connections.
func (r *Runtime) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	r.closers = nil
	return errors.Join(errs...)
}
