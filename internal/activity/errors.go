package activity

import (
	"errors"

	"go.temporal.io/sdk/temporal"
)

// Activity-specific errors.
var (
	// ErrActivityValidation is returned when activity input validation fails
	// due to missing required fields or constraint violations.
	// This is a non-retryable error.
	ErrActivityValidation = errors.New("activity input validation failed")
)

// Application error types reported to Temporal. Workflows list the
// non-retryable ones in their retry policy.
const (
	// ErrorTypeValidation marks malformed activity input.
	ErrorTypeValidation = "Validation"

	// ErrorTypeRejected marks templates or contexts refused by the sandbox,
	// and requests naming an unknown tier.
	ErrorTypeRejected = "PromptRejected"

	// ErrorTypeUnavailable marks requests no tier could serve. Retrying later
	// may succeed once breakers close or providers recover.
	ErrorTypeUnavailable = "TiersUnavailable"
)

// nonRetryable wraps an error as a Temporal non-retryable application error.
// Used for validation failures and permanent errors that should not be retried.
func nonRetryable(tag string, cause error, msg string) error {
	return temporal.NewNonRetryableApplicationError(msg, tag, cause)
}

// retryable wraps an error as a Temporal retryable application error.
// Used for transient failures that may succeed on retry with backoff.
func retryable(tag string, cause error, msg string) error {
	return temporal.NewApplicationError(msg, tag, cause)
}
