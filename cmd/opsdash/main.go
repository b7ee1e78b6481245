// Command opsdash runs the IT operations and data governance dashboard
// and its maintenance tasks.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set via ldflags at build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "opsdash",
		Short: "IT operations and data governance dashboard",
		Long: `opsdash serves a dashboard over an IT ticket queue and a dataset catalog.

It ranks archive candidates by age, size and row count, records every
action in an audit trail and relays questions to a hosted chat model.

Example:
  opsdash load datasets catalog.csv
  opsdash archive --age-days 180 --export candidates.csv
  opsdash serve --config opsdash.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (overrides database.path)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newServeCmd(opts),
		newLoadCmd(opts),
		newArchiveCmd(opts),
		newAuditCmd(opts),
		newUserCmd(opts),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "opsdash", version)
		},
	}
}
