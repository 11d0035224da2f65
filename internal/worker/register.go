// Package worker exposes helpers to register workflows/activities with a Temporal worker.
package worker

import (
	"github.com/ahrav/go-promptexec/internal/activity"
	"github.com/ahrav/go-promptexec/internal/llm/resilience"
	"github.com/ahrav/go-promptexec/internal/workflow"
)

// Registry is the registration surface shared by a Temporal worker and the
// SDK's test environments.
type Registry interface {
	RegisterWorkflow(w any)
	RegisterActivity(a any)
}

// RegisterAll registers all workflows and activities with the Temporal worker.
// This function must be called during worker initialization before starting
// the worker. The registration is not thread-safe and should only be called once
// during application startup.
func RegisterAll(w Registry, exec *resilience.Executor) {
	w.RegisterWorkflow(workflow.PromptWorkflow)
	w.RegisterActivity(activity.NewActivities(exec))
}
