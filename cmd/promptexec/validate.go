package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptexec/internal/prompt/sandbox"
)

var validateCmd = &cobra.Command{
	Use:   "validate <template>...",
	Short: "Check templates for syntax errors and unsafe constructs",
	Long:  `Statically checks each template without rendering it and reports every security violation or syntax error found.`,
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sb := sandbox.New(sandbox.WithLogger(logger))
		failed := 0
		for _, path := range args {
			src, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			res := sb.ValidateTemplate(string(src))
			if res.Valid() {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
				continue
			}
			failed++
			for _, e := range res.Errors {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, e)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d templates invalid", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
