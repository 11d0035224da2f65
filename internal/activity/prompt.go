// Package activity exposes the resilient executor as Temporal activities.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-promptexec/internal/llm/resilience"
	"github.com/ahrav/go-promptexec/internal/llm/tier"
	"github.com/ahrav/go-promptexec/internal/prompt/sandbox"
	"github.com/ahrav/go-promptexec/internal/prompt/schema"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// PromptInput is the serializable form of a prompt execution request.
type PromptInput struct {
	SystemPrompt string         `json:"system_prompt,omitempty"`
	UserPrompt   string         `json:"user_prompt" validate:"required"`
	Context      map[string]any `json:"context,omitempty"`
	Tier         string         `json:"tier,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	// Schema is an OpenAPI schema object the context must satisfy.
	Schema map[string]any `json:"schema,omitempty"`
}

// Validate checks the input's field constraints.
func (in PromptInput) Validate() error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %w", ErrActivityValidation, err)
	}
	return nil
}

// PromptOutput is the serializable outcome of a successful execution.
type PromptOutput struct {
	Content      string               `json:"content"`
	Model        string               `json:"model"`
	TokensIn     int                  `json:"tokens_in"`
	TokensOut    int                  `json:"tokens_out"`
	TierUsed     string               `json:"tier_used"`
	FallbackUsed bool                 `json:"fallback_used"`
	Retries      int                  `json:"retries"`
	RequestID    string               `json:"request_id"`
	Attempts     []resilience.Attempt `json:"attempts,omitempty"`
}

// Activities holds the executor shared by every activity invocation.
type Activities struct {
	executor *resilience.Executor
	logger   *slog.Logger
}

// NewActivities creates an Activities instance around exec.
func NewActivities(exec *resilience.Executor) *Activities {
	return &Activities{
		executor: exec,
		logger:   slog.Default().With("component", "activity"),
	}
}

// ExecutePrompt renders and executes one prompt down the tier ladder.
// Rejected templates, invalid contexts and unknown tiers fail without retry;
// a request no tier could serve fails with a retryable error so the workflow
// can try again after breakers recover.
func (a *Activities) ExecutePrompt(ctx context.Context, in PromptInput) (*PromptOutput, error) {
	if err := in.Validate(); err != nil {
		return nil, nonRetryable(ErrorTypeValidation, err, "invalid input")
	}

	req := resilience.Request{
		SystemPrompt: in.SystemPrompt,
		UserPrompt:   in.UserPrompt,
		Context:      in.Context,
		Tier:         in.Tier,
		RequestID:    in.RequestID,
	}
	if len(in.Schema) > 0 {
		sch, err := schema.Compile(in.Schema)
		if err != nil {
			return nil, nonRetryable(ErrorTypeValidation, err, "invalid context schema")
		}
		req.Schema = sch
	}

	res := a.executor.Execute(ctx, req)
	if !res.Success {
		a.logger.WarnContext(ctx, "prompt execution failed",
			"request_id", res.RequestID, "retries", res.Retries, "error", res.Err)
		return nil, classify(ctx, res.Err)
	}

	return &PromptOutput{
		Content:      res.Response.Content,
		Model:        res.Response.Model,
		TokensIn:     res.Response.TokensIn,
		TokensOut:    res.Response.TokensOut,
		TierUsed:     res.TierUsed,
		FallbackUsed: res.FallbackUsed,
		Retries:      res.Retries,
		RequestID:    res.RequestID,
		Attempts:     res.Attempts,
	}, nil
}

// classify maps an execution failure onto a Temporal application error.
func classify(ctx context.Context, err error) error {
	var partErr *sandbox.PartError
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.As(err, &partErr):
		return nonRetryable(ErrorTypeRejected, err, "prompt rejected")
	case errors.Is(err, tier.ErrUnknownTier):
		return nonRetryable(ErrorTypeRejected, err, "unknown tier")
	default:
		return retryable(ErrorTypeUnavailable, err, "no tier could serve the request")
	}
}
