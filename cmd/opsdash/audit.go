package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/opsdash/internal/auditor"
	"github.com/ChrisB0-2/opsdash/internal/notifier"
)

var errNoAuditDB = errors.New("no audit database configured (set database.audit_path)")

func newAuditCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}
	cmd.AddCommand(
		newAuditQueryCmd(g),
		newAuditStatsCmd(g),
		newAuditVerifyCmd(g),
		newAuditPruneCmd(g),
		newAuditExportCmd(g),
	)
	return cmd
}

// openAudit opens the app and fails when no SQLite audit trail exists.
func openAudit(g *globalOptions) (*app, error) {
	a, err := g.open()
	if err != nil {
		return nil, err
	}
	if a.auditDB == nil {
		a.Close()
		return nil, errNoAuditDB
	}
	return a, nil
}

func newAuditQueryCmd(g *globalOptions) *cobra.Command {
	var (
		since  time.Duration
		action string
		level  string
		target string
		limit  int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List audit records, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openAudit(g)
			if err != nil {
				return err
			}
			defer a.Close()

			f := auditor.QueryFilter{Action: action, Level: level, Target: target, Limit: limit}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			records, err := a.auditDB.Query(cmd.Context(), f)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(records)
			}
			if len(records) == 0 {
				fmt.Fprintln(out, "no audit records")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tLEVEL\tACTION\tTARGET\tREASON\tACTOR")
			for _, r := range records {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					r.Timestamp.Local().Format(time.DateTime), r.Level, r.Action, r.Target, r.Reason, r.Actor)
			}
			return tw.Flush()
		},
	}
	f := cmd.Flags()
	f.DurationVar(&since, "since", 0, "only records newer than this (e.g. 24h)")
	f.StringVar(&action, "action", "", "filter by action: evaluate, archive, ticket_update, catalog_load")
	f.StringVar(&level, "level", "", "filter by level: info, warn, error")
	f.StringVar(&target, "target", "", "filter by target (substring)")
	f.IntVar(&limit, "limit", 50, "maximum records")
	f.BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

func newAuditStatsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the audit trail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openAudit(g)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.auditDB.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Records:         %s\n", humanize.Comma(st.TotalRecords))
			if st.TotalRecords > 0 {
				fmt.Fprintf(out, "First record:    %s (%s)\n", st.FirstRecord.Local().Format(time.DateTime), humanize.Time(st.FirstRecord))
				fmt.Fprintf(out, "Last record:     %s (%s)\n", st.LastRecord.Local().Format(time.DateTime), humanize.Time(st.LastRecord))
			}
			fmt.Fprintf(out, "Archived:        %s (%s)\n", humanize.Comma(st.Archived), notifier.FormatMB(st.ArchivedSizeMB))
			fmt.Fprintf(out, "Ticket updates:  %s\n", humanize.Comma(st.TicketUpdates))
			fmt.Fprintf(out, "Errors:          %s\n", humanize.Comma(st.Errors))
			return nil
		},
	}
}

func newAuditVerifyCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check record checksums for tampering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openAudit(g)
			if err != nil {
				return err
			}
			defer a.Close()

			tampered, err := a.auditDB.VerifyIntegrity(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(tampered) == 0 {
				fmt.Fprintln(out, "PASS: all audit records verified")
				return nil
			}
			fmt.Fprintf(out, "FAIL: %d records failed verification: %v\n", len(tampered), tampered)
			return fmt.Errorf("audit integrity check failed")
		},
	}
}

func newAuditPruneCmd(g *globalOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete records older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			a, err := openAudit(g)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.auditDB.Prune(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %s records\n", humanize.Comma(n))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "remove records older than this")
	return cmd
}

func newAuditExportCmd(g *globalOptions) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write audit records as JSON to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openAudit(g)
			if err != nil {
				return err
			}
			defer a.Close()

			var from time.Time
			if since > 0 {
				from = time.Now().Add(-since)
			}
			data, err := a.auditDB.Export(cmd.Context(), from)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
	cmd.Flags().DurationVar(&since, "since", 0, "only records newer than this (0 = all)")
	return cmd
}
