package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env")))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	safe := writeFile(t, "safe.tmpl", "Hello {{ name | upper }}")
	unsafe := writeFile(t, "unsafe.tmpl", "{{ user.__class__ }}")

	out, err := execute(t, "validate", safe)
	require.NoError(t, err)
	assert.Contains(t, out, safe+": ok")

	out, err = execute(t, "validate", safe, unsafe)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 templates invalid")
	assert.Contains(t, out, "__class__")
}

func TestTiersCommand(t *testing.T) {
	out, err := execute(t, "tiers")
	require.NoError(t, err)
	assert.Contains(t, out, "TIER")
	assert.Contains(t, out, "premium")
	assert.Contains(t, out, "claude-sonnet-4-5")
	assert.Contains(t, out, "gpt-4o-mini")

	policy := writeFile(t, "tiers.yaml", `tiers:
  - name: only
    model: m-only
    max_tokens: 100
    failure_threshold: 2
`)
	out, err = execute(t, "tiers", policy)
	require.NoError(t, err)
	assert.Contains(t, out, "m-only")
	assert.NotContains(t, out, "premium")
}

func TestRenderCommand(t *testing.T) {
	ctx := writeFile(t, "ctx.json", `{"name": "ada", "__globals__": {"x": 1}}`)

	out, err := execute(t, "render",
		"--system", "You are terse.",
		"--user", "Hi {{ name }}",
		"--context", ctx)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "You are terse.", got["system_prompt"])
	assert.Equal(t, "Hi ada", got["user_prompt"])
}
