// Package errors defines the failure taxonomy shared by model backends and the
// resilient executor. The executor retries every backend failure within a
// tier's budget; the types here label failures for logs, metrics and backoff
// hints.
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType labels a backend failure.
type ErrorType string

// Failure classes, used verbatim as metric label values.
const (
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeProvider   ErrorType = "provider_unavailable"
	ErrorTypeValidation ErrorType = "validation_failed"
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypePermission ErrorType = "permission_denied"
	ErrorTypeQuota      ErrorType = "quota_exceeded"
	ErrorTypeCanceled   ErrorType = "canceled"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// Transient reports whether a failure of this class is expected to clear on
// its own. Auth, permission, quota and request validation failures repeat
// until someone changes configuration.
func (t ErrorType) Transient() bool {
	switch t {
	case ErrorTypeTimeout, ErrorTypeRateLimit, ErrorTypeNetwork, ErrorTypeProvider:
		return true
	}
	return false
}

var (
	ErrProviderUnavailable = errors.New("provider service unavailable")
	ErrRateLimitExceeded   = errors.New("rate limit exceeded")
	// ErrUnknownProvider reports a provider name or type with no adapter.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrUnknownModel reports a model no backend is routed for.
	ErrUnknownModel    = errors.New("unknown model")
	ErrInvalidResponse = errors.New("invalid provider response")
	ErrEmptyContent    = errors.New("empty response content")
)

// ProviderError is a structured failure reported by a model provider's API.
type ProviderError struct {
	Provider   string        `json:"provider"`
	StatusCode int           `json:"status_code"`
	Code       string        `json:"code,omitempty"`
	Message    string        `json:"message"`
	Type       ErrorType     `json:"type"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Message)
}

// RateLimitError reports a rejected call. LocalLimit distinguishes the
// process's own token bucket from a provider 429.
type RateLimitError struct {
	Provider   string        `json:"provider"`
	Rate       float64       `json:"rate,omitempty"` // tokens per second
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	LocalLimit bool          `json:"local_limit"`
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Provider, e.RetryAfter)
	}
	return "rate limit exceeded for " + e.Provider
}

// Unwrap lets errors.Is match ErrRateLimitExceeded.
func (e *RateLimitError) Unwrap() error { return ErrRateLimitExceeded }

// IsTransient reports whether err is of a class expected to clear on retry.
func IsTransient(err error) bool {
	return err != nil && Classify(err).Transient()
}

// RetryAfter returns the delay a provider or limiter asked for, or zero.
func RetryAfter(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter
	}
	return 0
}
