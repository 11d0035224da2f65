package workflow

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/ahrav/go-promptexec/internal/activity"
)

// Activity defaults for PromptWorkflow.
const (
	DefaultActivityTimeout    = 5 * time.Minute
	DefaultActivityAttempts   = 3
	DefaultActivityRetryDelay = 10 * time.Second
)

// PromptWorkflow runs one prompt through the ExecutePrompt activity. Rejected
// prompts fail immediately; unavailable tiers are retried with backoff a
// bounded number of times.
func PromptWorkflow(ctx workflow.Context, in activity.PromptInput) (*activity.PromptOutput, error) {
	const currentVersion = 1
	_ = workflow.GetVersion(ctx, "prompt.v", workflow.DefaultVersion, currentVersion)

	if err := in.Validate(); err != nil {
		return nil, temporal.NewNonRetryableApplicationError(
			"invalid prompt request",
			activity.ErrorTypeValidation,
			err,
		)
	}

	if in.RequestID == "" {
		in.RequestID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: DefaultActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    DefaultActivityRetryDelay,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    DefaultActivityAttempts,
			NonRetryableErrorTypes: []string{
				activity.ErrorTypeValidation,
				activity.ErrorTypeRejected,
			},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var acts *activity.Activities
	var out *activity.PromptOutput
	if err := workflow.ExecuteActivity(ctx, acts.ExecutePrompt, in).Get(ctx, &out); err != nil {
		workflow.GetLogger(ctx).Warn("prompt activity failed", "request_id", in.RequestID, "error", err)
		return nil, err
	}
	return out, nil
}
