package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/opsdash/internal/catalog"
	"github.com/ChrisB0-2/opsdash/internal/store"
	"github.com/ChrisB0-2/opsdash/internal/tickets"
)

func newLoadCmd(g *globalOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "load datasets|tickets <file.csv>",
		Short: "Bootstrap a table from a CSV export",
		Long: `Load reads a CSV file into the datasets or tickets table.

A table that already holds rows is left untouched unless --force is set,
in which case its contents are replaced. Use "-" to read standard input.`,
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"datasets", "tickets"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, path := args[0], args[1]
			if kind != "datasets" && kind != "tickets" {
				return fmt.Errorf("unknown table %q: must be datasets or tickets", kind)
			}

			var in io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			a, err := g.open()
			if err != nil {
				return err
			}
			defer a.Close()

			var res store.LoadResult
			switch kind {
			case "datasets":
				svc := catalog.NewService(catalog.Config{Repo: a.store, Auditor: a.audit, Notifier: a.notify, Log: a.log})
				res, err = svc.Load(cmd.Context(), in, force)
			case "tickets":
				svc := tickets.NewService(tickets.Config{Repo: a.store, Auditor: a.audit, Notifier: a.notify, Log: a.log})
				res, err = svc.Bootstrap(cmd.Context(), in, force)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if res.Skipped {
				fmt.Fprintf(out, "%s table already populated; use --force to replace it\n", kind)
				return nil
			}
			fmt.Fprintf(out, "loaded %s %s", humanize.Comma(int64(res.Inserted)), kind)
			if res.Replaced > 0 {
				fmt.Fprintf(out, " (replaced %s)", humanize.Comma(int64(res.Replaced)))
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace existing rows")
	return cmd
}
