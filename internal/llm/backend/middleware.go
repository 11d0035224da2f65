package backend

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
)

// WithTimeout bounds every call with d. A zero or negative d disables the bound.
func WithTimeout(d time.Duration) Middleware {
	return func(next Backend) Backend {
		if d <= 0 {
			return next
		}
		return Func(func(ctx context.Context, req *Request) (*Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Complete(ctx, req)
		})
	}
}

// WithRateLimit applies a local token bucket. When no token is available the
// call fails immediately with a RateLimitError instead of queueing, so the
// executor's retry budget decides what happens next.
func WithRateLimit(name string, tokensPerSecond float64, burst int) Middleware {
	return func(next Backend) Backend {
		if tokensPerSecond <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		limiter := rate.NewLimiter(rate.Limit(tokensPerSecond), burst)

		return Func(func(ctx context.Context, req *Request) (*Response, error) {
			if !limiter.Allow() {
				// Reserve only to learn the delay, then hand the token back.
				reservation := limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				return nil, &llmerrors.RateLimitError{
					Provider:   name,
					Rate:       tokensPerSecond,
					RetryAfter: max(delay, time.Millisecond),
					LocalLimit: true,
				}
			}
			return next.Complete(ctx, req)
		})
	}
}

// WithLogging logs each call's model, latency, usage and failure class.
// Message content is never logged.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default().With("component", "backend")
	}
	return func(next Backend) Backend {
		return Func(func(ctx context.Context, req *Request) (*Response, error) {
			start := time.Now()
			resp, err := next.Complete(ctx, req)
			latency := time.Since(start)

			if err != nil {
				logger.WarnContext(ctx, "backend call failed",
					"model", req.Model,
					"latency_ms", latency.Milliseconds(),
					"error_type", llmerrors.Classify(err),
					"transient", llmerrors.IsTransient(err),
					"error", err)
				return nil, err
			}

			logger.DebugContext(ctx, "backend call succeeded",
				"model", req.Model,
				"response_model", resp.Model,
				"latency_ms", latency.Milliseconds(),
				"tokens_in", resp.TokensIn,
				"tokens_out", resp.TokensOut)
			return resp, nil
		})
	}
}
