package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptexec/internal/prompt/sandbox"
	"github.com/ahrav/go-promptexec/internal/prompt/schema"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render system and user templates against a JSON context",
	RunE: func(cmd *cobra.Command, _ []string) error {
		in, err := readPromptFlags(cmd)
		if err != nil {
			return err
		}

		sb := sandbox.New(sandbox.WithLogger(logger))
		out, err := sb.Render(in.system, in.user, in.context, cfg.Sandbox.Defaults, in.schema)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(out)
	},
}

// promptInput is the template material shared by render and run.
type promptInput struct {
	system  string
	user    string
	context map[string]any
	schema  *schema.Schema
}

func addPromptFlags(cmd *cobra.Command) {
	cmd.Flags().String("system", "", "system prompt template")
	cmd.Flags().String("system-file", "", "file holding the system prompt template")
	cmd.Flags().String("user", "", "user prompt template")
	cmd.Flags().String("user-file", "", "file holding the user prompt template")
	cmd.Flags().String("context", "", "JSON file with template values")
	cmd.Flags().String("schema", "", "YAML or JSON OpenAPI schema the context must satisfy")
	cmd.MarkFlagsMutuallyExclusive("system", "system-file")
	cmd.MarkFlagsMutuallyExclusive("user", "user-file")
}

func readPromptFlags(cmd *cobra.Command) (promptInput, error) {
	var in promptInput
	var err error

	if in.system, err = textOrFile(cmd, "system"); err != nil {
		return in, err
	}
	if in.user, err = textOrFile(cmd, "user"); err != nil {
		return in, err
	}
	if in.user == "" {
		return in, fmt.Errorf("a user prompt is required (--user or --user-file)")
	}

	if path, _ := cmd.Flags().GetString("context"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return in, err
		}
		if err := json.Unmarshal(raw, &in.context); err != nil {
			return in, fmt.Errorf("parse context %s: %w", path, err)
		}
	}

	if path, _ := cmd.Flags().GetString("schema"); path != "" {
		if in.schema, err = schema.LoadFile(path); err != nil {
			return in, err
		}
	} else if cfg.Sandbox.SchemaFile != "" {
		if in.schema, err = schema.LoadFile(cfg.Sandbox.SchemaFile); err != nil {
			return in, err
		}
	}
	return in, nil
}

func textOrFile(cmd *cobra.Command, name string) (string, error) {
	if path, _ := cmd.Flags().GetString(name + "-file"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
	v, _ := cmd.Flags().GetString(name)
	return v, nil
}

func init() {
	addPromptFlags(renderCmd)
	rootCmd.AddCommand(renderCmd)
}
