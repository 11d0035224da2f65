package resilience

import (
	"time"

	"github.com/ahrav/go-promptexec/internal/llm/backend"
	"github.com/ahrav/go-promptexec/internal/prompt/schema"
)

// Request is one prompt execution.
type Request struct {
	SystemPrompt string         `json:"system_prompt"`
	UserPrompt   string         `json:"user_prompt"`
	Context      map[string]any `json:"context,omitempty"`
	// Tier is the tier to start at. Empty starts at the policy default.
	Tier string `json:"tier,omitempty"`
	// Schema, when set, must be satisfied by the sanitized context.
	Schema *schema.Schema `json:"-"`
	// RequestID correlates logs. One is generated when empty.
	RequestID string `json:"request_id,omitempty"`
}

// AttemptOutcome describes how one step of an execution ended.
type AttemptOutcome string

// Attempt outcomes.
const (
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeFailure     AttemptOutcome = "failure"
	OutcomeCircuitOpen AttemptOutcome = "circuit_open"
)

// Attempt records one backend call, or one tier skipped with an open circuit.
type Attempt struct {
	Tier      string         `json:"tier"`
	Model     string         `json:"model"`
	Number    int            `json:"number"` // 1-based within the tier, 0 for skips
	Outcome   AttemptOutcome `json:"outcome"`
	Error     string         `json:"error,omitempty"`
	ErrorType string         `json:"error_type,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// Result is the outcome of Execute. It is built fresh for every call and
// never modified after it is returned.
type Result struct {
	Success  bool              `json:"success"`
	Response *backend.Response `json:"response,omitempty"`
	Error    string            `json:"error,omitempty"`
	// Retries counts failed backend calls across every tier tried.
	Retries      int    `json:"retries"`
	FallbackUsed bool   `json:"fallback_used"`
	TierUsed     string `json:"tier_used,omitempty"`
	RequestID    string `json:"request_id"`
	// Attempts lists every call and skip in order.
	Attempts []Attempt `json:"attempts,omitempty"`
	// Err is the typed error behind Error, for errors.As checks against
	// sandbox and tier errors.
	Err error `json:"-"`
}
