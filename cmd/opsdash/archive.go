package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ChrisB0-2/opsdash/internal/archiver"
	"github.com/ChrisB0-2/opsdash/internal/catalog"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/governance"
	"github.com/ChrisB0-2/opsdash/internal/notifier"
	"github.com/ChrisB0-2/opsdash/internal/safety"
)

type archiveOptions struct {
	ageDays    int
	sizeMB     float64
	minRows    int64
	categories []string
	sources    []string
	export     string
	apply      bool
	mode       string
	limit      int
}

func newArchiveCmd(g *globalOptions) *cobra.Command {
	opts := &archiveOptions{}
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "List archive candidates and optionally flag them as archived",
		Long: `Archive evaluates the dataset catalog against the archive rule:

  age > age-days OR (size > size-mb AND rows < min-rows)

Datasets that were never updated are always candidates. Candidates are
listed largest first. Unset thresholds fall back to governance.thresholds.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchive(cmd, g, opts)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.ageDays, "age-days", 0, "age threshold in days")
	f.Float64Var(&opts.sizeMB, "size-mb", 0, "size threshold in MB")
	f.Int64Var(&opts.minRows, "min-rows", -1, "row-count threshold")
	f.StringSliceVar(&opts.categories, "category", nil, "only evaluate these categories")
	f.StringSliceVar(&opts.sources, "source", nil, "only evaluate these sources")
	f.StringVar(&opts.export, "export", "", `write candidates as CSV to this file ("-" for stdout)`)
	f.BoolVar(&opts.apply, "apply", false, "run the archive action over the candidates")
	f.StringVar(&opts.mode, "mode", string(core.ModeDryRun), "archive mode with --apply: dry-run or execute")
	f.IntVar(&opts.limit, "limit", 25, "candidates to print (0 = all)")
	return cmd
}

func (o *archiveOptions) thresholds(base core.Thresholds) core.Thresholds {
	th := base
	if o.ageDays != 0 {
		th.AgeDays = o.ageDays
	}
	if o.sizeMB != 0 {
		th.SizeMB = o.sizeMB
	}
	if o.minRows >= 0 {
		th.MinRows = o.minRows
	}
	return th
}

func runArchive(cmd *cobra.Command, g *globalOptions, opts *archiveOptions) error {
	mode := core.Mode(opts.mode)
	if mode != core.ModeDryRun && mode != core.ModeExecute {
		return fmt.Errorf("invalid --mode %q: must be dry-run or execute", opts.mode)
	}

	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	th := opts.thresholds(a.cfg.Governance.Thresholds)
	if err := th.Validate(); err != nil {
		return err
	}

	ctx := cmd.Context()
	cat := catalog.NewService(catalog.Config{Repo: a.store, Auditor: a.audit, Log: a.log})
	records, err := cat.List(ctx, governance.Filter{Categories: opts.categories, Sources: opts.sources})
	if err != nil {
		return err
	}
	report := governance.Evaluate(records, time.Now(), th)

	out := cmd.OutOrStdout()
	if opts.export != "" {
		if err := exportCandidates(out, opts.export, report.Candidates); err != nil {
			return err
		}
		if opts.export == "-" {
			return nil
		}
	}

	fmt.Fprintf(out, "Thresholds: age > %d days OR (size > %s MB AND rows < %s)\n",
		th.AgeDays, humanize.Commaf(th.SizeMB), humanize.Comma(th.MinRows))
	fmt.Fprintf(out, "Evaluated %s datasets, %s candidates totalling %s\n\n",
		humanize.Comma(int64(len(records))), humanize.Comma(int64(report.Count)),
		notifier.FormatMB(report.CandidateSizeMB()))

	if report.Count > 0 {
		printCandidates(out, report.Candidates, opts.limit)
	}
	for _, rec := range governance.Recommendations(records) {
		fmt.Fprintln(out, "*", rec)
	}

	if !opts.apply {
		return nil
	}

	arch := archiver.New(a.store, safety.NewWithLogger(a.log), a.cfg.Governance.Safety()).
		WithLogger(a.log).
		WithAuditor(a.audit)
	res := arch.Apply(ctx, report.Candidates, mode)

	fmt.Fprintf(out, "\n%s: archived=%d would_archive=%d denied=%d skipped=%d errors=%d size=%s\n",
		res.Mode, res.Archived, res.WouldArchive, res.Denied, res.Skipped, res.Errors, notifier.FormatMB(res.SizeMB))
	if res.Errors > 0 {
		return fmt.Errorf("%d datasets failed to archive", res.Errors)
	}
	return nil
}

func exportCandidates(stdout io.Writer, path string, cands []core.Evaluation) error {
	if path == "-" {
		return governance.WriteCandidatesCSV(stdout, cands)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := governance.WriteCandidatesCSV(f, cands); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %d candidates to %s\n", len(cands), path)
	return nil
}

func printCandidates(w io.Writer, cands []core.Evaluation, limit int) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATASET\tSOURCE\tCATEGORY\tSIZE\tROWS\tAGE\tSTATE")
	shown := cands
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	for _, ev := range shown {
		age := humanize.Comma(int64(ev.AgeDays)) + "d"
		if ev.Record.LastUpdated == nil {
			age = "never"
		}
		state := "active"
		if ev.Record.Archived {
			state = "archived"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.Record.Name, ev.Record.Source, ev.Record.Category,
			notifier.FormatMB(ev.Record.SizeMB), humanize.Comma(ev.Record.RecordCount), age, state)
	}
	tw.Flush()
	if len(shown) < len(cands) {
		fmt.Fprintf(w, "... and %d more\n", len(cands)-len(shown))
	}
	fmt.Fprintln(w)
}
