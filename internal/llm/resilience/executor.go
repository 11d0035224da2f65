package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
	"github.com/ahrav/go-promptexec/internal/llm/circuitbreaker"
	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
	"github.com/ahrav/go-promptexec/internal/llm/retry"
	"github.com/ahrav/go-promptexec/internal/llm/tier"
	"github.com/ahrav/go-promptexec/internal/prompt/sandbox"
	"github.com/ahrav/go-promptexec/internal/prompt/schema"
)

// Executor errors.
var (
	ErrNoBackend   = errors.New("no backend configured")
	ErrNoPolicy    = errors.New("tier policy is required")
	ErrCircuitOpen = errors.New("all tiers unavailable: circuit open")
)

// Execution outcomes used as metric tags.
const (
	outcomeSuccess  = "success"
	outcomeRejected = "rejected"
	outcomeFailed   = "failed"
	outcomeCanceled = "canceled"
)

// Executor renders prompts and runs them down the tier ladder. One Executor
// owns one breaker per tier and is meant to be shared by all callers.
type Executor struct {
	policy        *tier.Policy
	backend       backend.Backend
	backends      map[string]backend.Backend
	breakers      *circuitbreaker.Set
	breakerOpts   []circuitbreaker.Option
	observers     circuitbreaker.Observers
	sandbox       *sandbox.Sandbox
	defaults      map[string]any
	schema        *schema.Schema
	retry         retry.Policy
	tracker       retry.Tracker
	logger        *slog.Logger
	metrics       Metrics
	redactPrompts bool
}

// New creates an Executor for policy. b serves every tier whose Backend is
// not registered through WithBackends; it may be nil when every tier is.
func New(policy *tier.Policy, b backend.Backend, opts ...Option) (*Executor, error) {
	if policy == nil {
		return nil, ErrNoPolicy
	}

	e := &Executor{
		policy:        policy,
		backend:       b,
		sandbox:       sandbox.New(),
		retry:         retry.DefaultPolicy(),
		logger:        slog.Default().With("component", "resilience"),
		metrics:       NewNoOpMetrics(),
		redactPrompts: true,
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, cfg := range policy.Tiers() {
		if e.backendFor(cfg) == nil {
			return nil, fmt.Errorf("%w for tier %q", ErrNoBackend, cfg.Name)
		}
	}

	gauge := circuitbreaker.ObserverFunc(func(name string, _, to circuitbreaker.State, _ circuitbreaker.Status) {
		e.metrics.SetGauge(MetricCircuitState, map[string]string{"tier": name}, float64(to))
	})
	breakerOpts := append([]circuitbreaker.Option{
		circuitbreaker.WithLogger(e.logger.With("subcomponent", "circuitbreaker")),
		circuitbreaker.WithObserver(append(circuitbreaker.Observers{gauge}, e.observers...)),
	}, e.breakerOpts...)
	e.breakers = circuitbreaker.NewSet(policy.BreakerConfigs(), breakerOpts...)

	for _, name := range policy.Names() {
		e.metrics.SetGauge(MetricCircuitState, map[string]string{"tier": name}, float64(circuitbreaker.StateClosed))
	}
	return e, nil
}

func (e *Executor) backendFor(cfg tier.Config) backend.Backend {
	if cfg.Backend != "" {
		if b, ok := e.backends[cfg.Backend]; ok {
			return b
		}
	}
	return e.backend
}

// Execute renders the request and runs it from the requested tier downward.
// It never returns an error: backend outages, open circuits and rejected
// templates are all reported in the Result.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	res := Result{RequestID: req.RequestID}
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}
	logger := e.logger.With("request_id", res.RequestID)

	sch := req.Schema
	if sch == nil {
		sch = e.schema
	}
	prompt, err := e.sandbox.Render(req.SystemPrompt, req.UserPrompt, req.Context, e.defaults, sch)
	if err != nil {
		logger.Warn("prompt rejected", "error", err)
		return e.finish(res, outcomeRejected, err)
	}
	if !e.redactPrompts {
		logger.Debug("prompt rendered", "system_prompt", prompt.SystemPrompt, "user_prompt", prompt.UserPrompt)
	} else {
		logger.Debug("prompt rendered", "system_prompt_length", len(prompt.SystemPrompt), "user_prompt_length", len(prompt.UserPrompt))
	}

	chain, err := e.policy.From(req.Tier)
	if err != nil {
		logger.Warn("unknown tier requested", "tier", req.Tier)
		return e.finish(res, outcomeRejected, err)
	}
	requested := chain[0].Name

	var lastErr error
	for i, cfg := range chain {
		if err := ctx.Err(); err != nil {
			return e.finish(res, outcomeCanceled, err)
		}

		tierLogger := logger.With("tier", cfg.Name, "model", cfg.Model)
		br, _ := e.breakers.Get(cfg.Name)
		if !br.CanExecute() {
			tierLogger.Info("tier skipped, circuit open")
			e.metrics.IncrementCounter(MetricCircuitSkips, map[string]string{"tier": cfg.Name}, 1)
			res.Attempts = append(res.Attempts, Attempt{Tier: cfg.Name, Model: cfg.Model, Outcome: OutcomeCircuitOpen})
			e.noteFallback(tierLogger, chain, i)
			continue
		}

		resp, err := e.runTier(ctx, tierLogger, cfg, prompt, &res)
		if err == nil {
			br.RecordSuccess()
			res.Success = true
			res.Response = resp
			res.TierUsed = cfg.Name
			res.FallbackUsed = cfg.Name != requested
			if res.FallbackUsed {
				tierLogger.Info("request served by fallback tier", "requested_tier", requested, "retries", res.Retries)
			}
			return e.finish(res, outcomeSuccess, nil)
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.finish(res, outcomeCanceled, ctxErr)
		}
		br.RecordFailure()
		lastErr = err
		tierLogger.Warn("tier exhausted", "attempts", cfg.Attempts(), "error", err)
		e.noteFallback(tierLogger, chain, i)
	}

	if lastErr == nil {
		lastErr = ErrCircuitOpen
	}
	logger.Error("all tiers failed", "requested_tier", requested, "retries", res.Retries, "error", lastErr)
	return e.finish(res, outcomeFailed, lastErr)
}

func (e *Executor) noteFallback(logger *slog.Logger, chain []tier.Config, i int) {
	if i+1 >= len(chain) {
		return
	}
	next := chain[i+1].Name
	logger.Info("falling back to next tier", "next_tier", next)
	e.metrics.IncrementCounter(MetricFallbacks, map[string]string{"from": chain[i].Name, "to": next}, 1)
}

// runTier calls the tier's backend up to its attempt budget, strictly
// sequentially, counting every failure in res.Retries.
func (e *Executor) runTier(
	ctx context.Context,
	logger *slog.Logger,
	cfg tier.Config,
	prompt sandbox.RenderedPrompt,
	res *Result,
) (*backend.Response, error) {
	b := e.backendFor(cfg)
	var lastErr error
	for n := 1; n <= cfg.Attempts(); n++ {
		if n > 1 {
			waited, err := e.retry.Wait(ctx, n-1, lastErr)
			if err != nil {
				return nil, err
			}
			e.tracker.RecordBackoff(waited)
		}

		start := time.Now()
		resp, err := e.call(ctx, b, cfg, prompt)
		elapsed := time.Since(start)
		e.tracker.RecordAttempt()
		e.metrics.RecordHistogram(MetricBackendLatency, map[string]string{"tier": cfg.Name}, elapsed.Seconds())

		if err == nil {
			res.Attempts = append(res.Attempts, Attempt{
				Tier: cfg.Name, Model: cfg.Model, Number: n, Outcome: OutcomeSuccess, Duration: elapsed,
			})
			e.metrics.IncrementCounter(MetricAttempts, map[string]string{
				"tier": cfg.Name, "outcome": string(OutcomeSuccess), "error_type": "",
			}, 1)
			e.metrics.RecordHistogram(MetricTokens, map[string]string{"tier": cfg.Name, "direction": "in"}, float64(resp.TokensIn))
			e.metrics.RecordHistogram(MetricTokens, map[string]string{"tier": cfg.Name, "direction": "out"}, float64(resp.TokensOut))
			e.tracker.RecordOutcome(n, true)
			logger.Debug("backend call succeeded", "attempt", n, "duration_ms", elapsed.Milliseconds(),
				"tokens_in", resp.TokensIn, "tokens_out", resp.TokensOut)
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, err
		}

		errType := llmerrors.Classify(err)
		res.Retries++
		res.Attempts = append(res.Attempts, Attempt{
			Tier: cfg.Name, Model: cfg.Model, Number: n, Outcome: OutcomeFailure,
			Error: err.Error(), ErrorType: string(errType), Duration: elapsed,
		})
		e.metrics.IncrementCounter(MetricAttempts, map[string]string{
			"tier": cfg.Name, "outcome": string(OutcomeFailure), "error_type": string(errType),
		}, 1)
		logger.Warn("backend call failed", "attempt", n, "max_attempts", cfg.Attempts(),
			"duration_ms", elapsed.Milliseconds(), "error_type", errType, "transient", errType.Transient(), "error", err)
		lastErr = err
	}

	e.tracker.RecordOutcome(cfg.Attempts(), false)
	return nil, lastErr
}

// call makes one backend call bounded by the tier timeout.
func (e *Executor) call(ctx context.Context, b backend.Backend, cfg tier.Config, prompt sandbox.RenderedPrompt) (*backend.Response, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req := backend.NewRequest(prompt.SystemPrompt, prompt.UserPrompt, cfg.Model, cfg.MaxTokens, cfg.Temperature)
	resp, err := b.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, llmerrors.ErrInvalidResponse
	}
	return resp, nil
}

func (e *Executor) finish(res Result, outcome string, err error) Result {
	if err != nil {
		res.Error = err.Error()
		res.Err = err
	}
	e.metrics.IncrementCounter(MetricExecutions, map[string]string{"outcome": outcome}, 1)
	return res
}

// CircuitStatus returns every tier's breaker status keyed by tier name.
func (e *Executor) CircuitStatus() map[string]circuitbreaker.Status {
	return e.breakers.Status()
}

// ResetCircuit force-closes the named tier's breaker.
func (e *Executor) ResetCircuit(name string) error {
	return e.breakers.Reset(name)
}

// ResetAll force-closes every breaker.
func (e *Executor) ResetAll() { e.breakers.ResetAll() }

// Policy returns the executor's tier policy.
func (e *Executor) Policy() *tier.Policy { return e.policy }

// BreakerStats returns aggregated breaker counters.
func (e *Executor) BreakerStats() circuitbreaker.Stats { return e.breakers.Stats() }

// RetryStats returns aggregated retry counters.
func (e *Executor) RetryStats() retry.Stats { return e.tracker.Snapshot() }
