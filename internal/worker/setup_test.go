package worker_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/ahrav/go-promptexec/internal/activity"
	"github.com/ahrav/go-promptexec/internal/llm/backend/backendtest"
	"github.com/ahrav/go-promptexec/internal/llm/configuration"
	"github.com/ahrav/go-promptexec/internal/llm/resilience"
	"github.com/ahrav/go-promptexec/internal/llm/tier"
	"github.com/ahrav/go-promptexec/internal/logging"
	"github.com/ahrav/go-promptexec/internal/worker"
	"github.com/ahrav/go-promptexec/internal/workflow"
)

func testConfig() *configuration.Config {
	cfg := configuration.DefaultConfig()
	cfg.Tiers = []tier.Config{
		{Name: "fast", Model: "m-fast", MaxTokens: 10, FailureThreshold: 1},
		{Name: "slow", Model: "m-slow", MaxTokens: 10, FailureThreshold: 1},
	}
	cfg.Retry.InitialInterval = 0
	cfg.Sandbox.Defaults = map[string]any{"name": "World"}
	return cfg
}

func TestNewRuntimeWiresStatusStoreAndMetrics(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	cfg.StatusStore.Enabled = true
	cfg.StatusStore.RedisAddr = mr.Addr()

	reg := prometheus.NewRegistry()
	b := backendtest.New().AlwaysFail("m-fast", nil)
	rt, err := worker.NewRuntime(context.Background(), cfg, worker.Options{Backend: b, Registerer: reg, Logger: logging.NewNop()})
	require.NoError(t, err)

	key := configuration.DefaultStatusKeyPrefix + "fast"
	assert.Equal(t, "closed", mr.HGet(key, "state"), "initial status is published")

	res := rt.Executor.Execute(context.Background(), resilience.Request{UserPrompt: "Hello {{ name }}"})
	require.True(t, res.Success)
	assert.Equal(t, "slow", res.TierUsed)
	assert.Equal(t, "Hello World", b.Calls()[len(b.Calls())-1].Conversation()[0].Content)

	// Close drains queued transitions.
	require.NoError(t, rt.Close())
	assert.Equal(t, "open", mr.HGet(key, "state"))
	assert.Positive(t, mr.TTL(key))

	n, err := testutil.GatherAndCount(reg, "promptexec_fallbacks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRuntimeWithoutOptionalParts(t *testing.T) {
	cfg := testConfig()
	cfg.Observability.MetricsEnabled = false

	rt, err := worker.NewRuntime(context.Background(), cfg, worker.Options{Backend: backendtest.New(), Logger: logging.NewNop()})
	require.NoError(t, err)
	assert.Nil(t, rt.Publisher)
	assert.NoError(t, rt.Close())
}

func TestNewRuntimeSchemaFileMissing(t *testing.T) {
	cfg := testConfig()
	cfg.Sandbox.SchemaFile = "/nonexistent/schema.yaml"

	_, err := worker.NewRuntime(context.Background(), cfg, worker.Options{Backend: backendtest.New(), Logger: logging.NewNop()})
	assert.Error(t, err)
}

func TestNewRuntimeRequiresProviders(t *testing.T) {
	cfg := testConfig()
	_, err := worker.NewRuntime(context.Background(), cfg, worker.Options{})
	assert.Error(t, err, "tiers without a backend cannot be routed")
}

func TestRegisterAllServesPromptWorkflow(t *testing.T) {
	rt, err := worker.NewRuntime(context.Background(), testConfig(), worker.Options{Backend: backendtest.New(), Logger: logging.NewNop()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	worker.RegisterAll(env, rt.Executor)

	env.ExecuteWorkflow(workflow.PromptWorkflow, activity.PromptInput{UserPrompt: "Hi {{ name }}"})
	require.NoError(t, env.GetWorkflowError())

	var out *activity.PromptOutput
	require.NoError(t, env.GetWorkflowResult(&out))
	assert.Equal(t, "ok", out.Content)
	assert.Equal(t, "fast", out.TierUsed)
}
