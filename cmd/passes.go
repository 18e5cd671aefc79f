package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// dispatchCommand runs a single dispatcher batch, for an external periodic caller such as cron(8).
func dispatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch",
		Short: "Run one dispatcher batch and print its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.dispatcher.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("dispatch: %w", err)
			}
			return printJSON(cmd, summary)
		},
	}
}

func planCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Run one planner pass over all active websites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.planner.Plan(cmd.Context())
			if err != nil {
				return fmt.Errorf("plan: %w", err)
			}
			return printJSON(cmd, summary)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
