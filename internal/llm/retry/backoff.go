// Package retry computes the delay between sequential attempts against a
// single tier. It never decides whether to retry; every backend failure is
// retried until the tier's attempt budget is spent.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
)

// Backoff defaults.
const (
	DefaultInitialInterval = 250 * time.Millisecond
	DefaultMaxInterval     = 5 * time.Second
	DefaultMultiplier      = 2.0
	DefaultMaxRetryAfter   = 30 * time.Second
	// CeilingInterval bounds every computed delay, including policies with no
	// MaxInterval.
	CeilingInterval = time.Hour
)

// Policy controls exponential backoff between attempts.
type Policy struct {
	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval" validate:"gte=0"`
	// MaxInterval caps the computed delay. Zero or anything above
	// CeilingInterval means CeilingInterval.
	MaxInterval time.Duration `yaml:"max_interval" json:"max_interval" validate:"gte=0"`
	// Multiplier grows the delay after each retry. Values below 1 are treated as 1.
	Multiplier float64 `yaml:"multiplier" json:"multiplier" validate:"gte=0"`
	// UseJitter enables full jitter: a uniform delay in [0, computed].
	UseJitter bool `yaml:"use_jitter" json:"use_jitter"`
	// MaxRetryAfter caps provider Retry-After hints. Zero ignores hints.
	MaxRetryAfter time.Duration `yaml:"max_retry_after" json:"max_retry_after" validate:"gte=0"`
}

// DefaultPolicy returns exponential backoff with full jitter that honors
// provider Retry-After hints up to DefaultMaxRetryAfter.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
		UseJitter:       true,
		MaxRetryAfter:   DefaultMaxRetryAfter,
	}
}

// NoDelay returns a policy that retries immediately.
func NoDelay() Policy { return Policy{} }

// Backoff returns the delay before retry number attempt (1-based) after err.
// A provider Retry-After hint wins over the exponential delay when it is
// within MaxRetryAfter.
func (p Policy) Backoff(attempt int, err error) time.Duration {
	if attempt <= 0 {
		return 0
	}
	if hint := llmerrors.RetryAfter(err); hint > 0 && p.MaxRetryAfter > 0 {
		return min(hint, p.MaxRetryAfter)
	}
	if p.InitialInterval <= 0 {
		return 0
	}

	limit := CeilingInterval
	if p.MaxInterval > 0 && p.MaxInterval < limit {
		limit = p.MaxInterval
	}
	multiplier := p.Multiplier
	if !(multiplier >= 1.0) { // also catches NaN
		multiplier = 1.0
	}

	// Grow in float64 and stop at the limit so the conversion never overflows.
	backoff := min(p.InitialInterval, limit)
	for i := 1; i < attempt && backoff < limit; i++ {
		next := float64(backoff) * multiplier
		if next >= float64(limit) {
			backoff = limit
			break
		}
		backoff = time.Duration(next)
	}

	if p.UseJitter {
		return time.Duration(rand.Int64N(int64(backoff) + 1)) // #nosec G404 -- non-cryptographic jitter is appropriate here
	}
	return backoff
}

// Wait sleeps for Backoff(attempt, err) or until ctx is done, returning the
// slept duration and ctx's error if it ended first.
func (p Policy) Wait(ctx context.Context, attempt int, err error) (time.Duration, error) {
	d := p.Backoff(attempt, err)
	if d <= 0 {
		return 0, ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-timer.C:
		return d, nil
	}
}
