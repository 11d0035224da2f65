package providers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	llmerrors "github.com/ahrav/go-promptexec/internal/llm/errors"
)

// ErrMissingAPIKey is returned by constructors of providers that authenticate
// with a key when none is configured or found in the environment.
var ErrMissingAPIKey = errors.New("provider api key is required")

// ServerErrorStatusThreshold is the first status treated as a provider outage.
const ServerErrorStatusThreshold = 500

// codeRules map substrings of provider error codes (OpenAI "type", Anthropic
// error type, Google status) onto failure classes. Order matters: the first
// match wins.
var codeRules = []struct {
	substrs []string
	typ     llmerrors.ErrorType
}{
	{[]string{"rate", "limit"}, llmerrors.ErrorTypeRateLimit},
	{[]string{"timeout"}, llmerrors.ErrorTypeTimeout},
	{[]string{"auth"}, llmerrors.ErrorTypeAuth},
	{[]string{"permission", "forbidden"}, llmerrors.ErrorTypePermission},
	{[]string{"quota", "exhausted"}, llmerrors.ErrorTypeQuota},
	{[]string{"overloaded", "unavailable"}, llmerrors.ErrorTypeProvider},
}

var statusTypes = map[int]llmerrors.ErrorType{
	http.StatusTooManyRequests:     llmerrors.ErrorTypeRateLimit,
	http.StatusUnauthorized:        llmerrors.ErrorTypeAuth,
	http.StatusForbidden:           llmerrors.ErrorTypePermission,
	http.StatusRequestTimeout:      llmerrors.ErrorTypeTimeout,
	http.StatusGatewayTimeout:      llmerrors.ErrorTypeTimeout,
	http.StatusBadRequest:          llmerrors.ErrorTypeValidation,
	http.StatusUnprocessableEntity: llmerrors.ErrorTypeValidation,
}

// classifyErrorType labels a provider failure, preferring the provider's own
// error code over the HTTP status.
func classifyErrorType(statusCode int, errorCode string) llmerrors.ErrorType {
	code := strings.ToLower(errorCode)
	for _, rule := range codeRules {
		for _, s := range rule.substrs {
			if strings.Contains(code, s) {
				return rule.typ
			}
		}
	}

	if t, ok := statusTypes[statusCode]; ok {
		return t
	}
	if statusCode >= ServerErrorStatusThreshold {
		return llmerrors.ErrorTypeProvider
	}
	return llmerrors.ErrorTypeUnknown
}

// retryAfter reads a Retry-After header given as seconds or as an HTTP date.
// Missing, past or unparsable values yield zero.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(max(secs, 0)) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now).Round(time.Second)
	}
	return 0
}
