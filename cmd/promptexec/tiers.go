package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-promptexec/internal/llm/tier"
)

var tiersCmd = &cobra.Command{
	Use:   "tiers [policy.yaml]",
	Short: "Print the tier ladder in fallback order",
	Long:  `Loads a standalone tier policy file, or the tiers from the active configuration, and prints them highest quality first.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			policy *tier.Policy
			err    error
		)
		if len(args) == 1 {
			policy, err = tier.LoadFile(args[0])
		} else {
			policy, err = cfg.Policy()
		}
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIER\tMODEL\tBACKEND\tMAX TOKENS\tATTEMPTS\tTHRESHOLD\tTIMEOUT\tCOOLDOWN")
		for _, t := range policy.Tiers() {
			backend := t.Backend
			if backend == "" {
				backend = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
				t.Name, t.Model, backend, t.MaxTokens, t.Attempts(), t.FailureThreshold, t.Timeout, t.Cooldown)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(tiersCmd)
}
