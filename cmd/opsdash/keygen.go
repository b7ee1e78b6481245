package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/opsdash/internal/auth"
)

func newKeygenCmd() *cobra.Command {
	var (
		role string
		name string
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an API key",
		Long: `Keygen prints a new API key and the matching keys-file line.

Append the second line to the file named by auth.keys_file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, err := auth.ParseRole(role)
			if err != nil || r == auth.RoleNone {
				return fmt.Errorf("invalid --role %q: must be viewer, operator or admin", role)
			}
			key, err := auth.GenerateAPIKey()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, key)
			fmt.Fprintf(out, "%s:%s:%s\n", key, r, name)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", "operator", "role granted to the key")
	cmd.Flags().StringVar(&name, "name", "cli", "label recorded with the key")
	return cmd
}
