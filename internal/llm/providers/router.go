// Package providers adapts model provider APIs to backend.Backend and routes
// requests to the provider serving each tier's model.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
	"github.com/ahrav/go-promptexec/internal/llm/configuration"
	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
)

// New builds the backend for a provider of the given type.
func New(ctx context.Context, providerType string, cfg configuration.ProviderConfig, client *http.Client) (backend.Backend, error) {
	switch providerType {
	case configuration.ProviderGateway:
		return NewGateway(cfg, client), nil
	case configuration.ProviderAnthropic:
		return NewAnthropic(cfg, client)
	case configuration.ProviderGoogle:
		return NewGoogle(ctx, cfg, client)
	default:
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownProvider, providerType)
	}
}

// Router dispatches each request to the backend registered for its model.
// It is safe for concurrent use.
type Router struct {
	mu     sync.RWMutex
	routes map[string]backend.Backend
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]backend.Backend)}
}

// Register routes model to b, replacing any earlier route.
func (r *Router) Register(model string, b backend.Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[model] = b
}

// Route returns the backend serving model.
func (r *Router) Route(model string) (backend.Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.routes[model]
	if !ok {
		return nil, fmt.Errorf("%w: %s", llmerrors.ErrUnknownModel, model)
	}
	return b, nil
}

// Complete implements backend.Backend.
func (r *Router) Complete(ctx context.Context, req *backend.Request) (*backend.Response, error) {
	b, err := r.Route(req.Model)
	if err != nil {
		return nil, err
	}
	return b.Complete(ctx, req)
}

// FromConfig builds one backend per provider referenced by the configured
// tiers and routes every tier model to it. Each backend is wrapped with call
// logging, the provider timeout, and the shared rate limit settings.
func FromConfig(ctx context.Context, cfg *configuration.Config, client *http.Client, logger *slog.Logger) (*Router, error) {
	if logger == nil {
		logger = slog.Default().With("component", "providers")
	}

	built := make(map[string]backend.Backend)
	router := NewRouter()
	for _, t := range cfg.Tiers {
		name := t.Backend
		if name == "" {
			return nil, fmt.Errorf("tier %q: %w: no backend named", t.Name, llmerrors.ErrUnknownProvider)
		}

		b, ok := built[name]
		if !ok {
			pc, exists := cfg.Providers[name]
			if !exists {
				return nil, fmt.Errorf("tier %q: %w: %s", t.Name, llmerrors.ErrUnknownProvider, name)
			}
			raw, err := New(ctx, cfg.ProviderType(name), pc, client)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", name, err)
			}

			middlewares := []backend.Middleware{backend.WithLogging(logger.With("provider", name))}
			if cfg.RateLimit.Enabled {
				middlewares = append(middlewares,
					backend.WithRateLimit(name, cfg.RateLimit.TokensPerSecond, cfg.RateLimit.BurstSize))
			}
			middlewares = append(middlewares, backend.WithTimeout(pc.Timeout))

			b = backend.Chain(raw, middlewares...)
			built[name] = b
			logger.Debug("provider backend ready", "provider", name, "type", cfg.ProviderType(name))
		}
		router.Register(t.Model, b)
	}
	return router, nil
}
