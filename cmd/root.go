// Package cmd implements the rank-tracker command-line interface.
package cmd

import (
	"context"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug forces development logging.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "rank-tracker",
		Short: "SEO rank tracking job engine",
		Long: `rank-tracker schedules and runs SERP analysis, sitemap snapshot, page extraction
and report jobs, and serves competitive scoring over the collected rankings.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so flags and config see the same environment
	_ = godotenv.Load()

	return rootCmd.ExecuteContext(context.Background())
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $CONFIG_PATH or ./config.yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rank-tracker version %s\n", Version)
		},
	})

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(dispatchCommand())
	rootCmd.AddCommand(planCommand())
	rootCmd.AddCommand(migrateCommand())
}
