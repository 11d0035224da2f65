package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptexec/internal/llm/configuration"
	"github.com/ahrav/go-promptexec/internal/logging"
)

var (
	cfg    *configuration.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "promptexec",
	Short:         "Resilient prompt execution across model tiers",
	Long:          `promptexec renders sandboxed prompt templates and executes them against a ladder of model tiers with retries, circuit breakers and fallback.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}

		path, _ := cmd.Flags().GetString("config")
		loaded, err := configuration.Load(path)
		if err != nil {
			return err
		}
		if level, _ := cmd.Flags().GetString("log-level"); level != "" {
			loaded.Observability.LogLevel = level
		}

		l, err := logging.New(loaded.Observability.LogLevel, loaded.Observability.LogFormat, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		slog.SetDefault(l)

		cfg, logger = loaded, l
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "YAML configuration file (defaults apply when empty)")
	rootCmd.PersistentFlags().String("env-file", ".env", "dotenv file with provider API keys")
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level")
}
