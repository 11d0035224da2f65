package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptexec/internal/llm/resilience"
	"github.com/ahrav/go-promptexec/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one prompt against the configured tiers",
	Long:  `Renders the prompt, then calls the configured providers from the requested tier downward, retrying and falling back as needed. Prints the result as JSON.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		in, err := readPromptFlags(cmd)
		if err != nil {
			return err
		}
		tierName, _ := cmd.Flags().GetString("tier")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := worker.NewRuntime(ctx, cfg, worker.Options{Logger: logger})
		if err != nil {
			return err
		}
		defer rt.Close()

		res := rt.Executor.Execute(ctx, resilience.Request{
			SystemPrompt: in.system,
			UserPrompt:   in.user,
			Context:      in.context,
			Tier:         tierName,
			Schema:       in.schema,
		})
		if err := printResult(cmd, res, rt.Executor); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("prompt failed: %s", res.Error)
		}
		return nil
	},
}

func printResult(cmd *cobra.Command, res resilience.Result, exec *resilience.Executor) error {
	out := struct {
		resilience.Result
		Circuits any `json:"circuits"`
	}{Result: res, Circuits: exec.CircuitStatus()}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(out)
}

func init() {
	addPromptFlags(runCmd)
	runCmd.Flags().String("tier", "", "tier to start from (defaults to the highest)")
	rootCmd.AddCommand(runCmd)
}
