package errors

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Classify maps a backend failure onto an ErrorType. Typed errors are checked
// first, then context and network errors, then message patterns for untyped
// errors returned by SDK clients.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.Type != "" {
		return providerErr.Type
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return ErrorTypeRateLimit
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCanceled
	case errors.Is(err, ErrRateLimitExceeded):
		return ErrorTypeRateLimit
	case errors.Is(err, ErrProviderUnavailable):
		return ErrorTypeProvider
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeNetwork
	}

	return classifyMessage(err.Error())
}

// classifyMessage performs string pattern matching on untyped errors.
func classifyMessage(msg string) ErrorType {
	msg = strings.ToLower(msg)

	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return ErrorTypeRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline"):
		return ErrorTypeTimeout
	case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "authentication"):
		return ErrorTypeAuth
	case strings.Contains(msg, "forbidden"), strings.Contains(msg, "permission"):
		return ErrorTypePermission
	case strings.Contains(msg, "quota"):
		return ErrorTypeQuota
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "broken pipe"):
		return ErrorTypeNetwork
	default:
		return ErrorTypeUnknown
	}
}
