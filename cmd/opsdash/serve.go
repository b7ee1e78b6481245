package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ChrisB0-2/opsdash/internal/archiver"
	"github.com/ChrisB0-2/opsdash/internal/assistant"
	"github.com/ChrisB0-2/opsdash/internal/catalog"
	"github.com/ChrisB0-2/opsdash/internal/config"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/daemon"
	"github.com/ChrisB0-2/opsdash/internal/httpapi"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/metrics"
	"github.com/ChrisB0-2/opsdash/internal/pidfile"
	"github.com/ChrisB0-2/opsdash/internal/safety"
	"github.com/ChrisB0-2/opsdash/internal/tickets"
	"github.com/ChrisB0-2/opsdash/internal/web"
)

type serveOptions struct {
	addr     string
	schedule string
	mode     string
	pidFile  string
}

func newServeCmd(g *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard server and the scheduled archive sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, g, opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address (overrides server.http_addr)")
	cmd.Flags().StringVar(&opts.schedule, "schedule", "", `sweep schedule, e.g. "@every 6h" (overrides governance.schedule)`)
	cmd.Flags().StringVar(&opts.pidFile, "pid-file", "", "lock file that keeps one server per data directory (overrides server.pid_file)")
	cmd.Flags().StringVar(&opts.mode, "mode", "", "sweep mode: dry-run or execute (overrides governance.mode)")
	return cmd
}

func runServe(ctx context.Context, g *globalOptions, opts *serveOptions) error {
	a, err := g.open()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if opts.addr != "" {
		cfg.Server.HTTPAddr = opts.addr
	}
	if opts.schedule != "" {
		if _, err := config.ParseSchedule(opts.schedule); err != nil {
			return fmt.Errorf("invalid --schedule: %w", err)
		}
		cfg.Governance.Schedule = opts.schedule
	}
	if opts.mode != "" {
		if m := core.Mode(opts.mode); m != core.ModeDryRun && m != core.ModeExecute {
			return fmt.Errorf("invalid --mode %q: must be dry-run or execute", opts.mode)
		}
		cfg.Governance.Mode = opts.mode
	}
	if opts.pidFile != "" {
		cfg.Server.PIDFile = opts.pidFile
	}
	log := a.log

	pf, err := pidfile.Acquire(cfg.Server.PIDFile)
	if err != nil {
		return err
	}
	defer pf.Close()

	var m core.Metrics = metrics.NewNoop()
	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.NewPrometheus(reg)
		metricsSrv = metrics.NewServer(cfg.Metrics.Addr, reg)
	}

	cat := catalog.NewService(catalog.Config{
		Repo:     a.store,
		Auditor:  a.audit,
		Notifier: a.notify,
		Metrics:  m,
		Log:      log,
	})
	tix := tickets.NewService(tickets.Config{
		Repo:     a.store,
		Auditor:  a.audit,
		Notifier: a.notify,
		Metrics:  m,
		Log:      log,
	})
	arch := archiver.New(a.store, safety.NewWithLogger(log), cfg.Governance.Safety()).
		WithLogger(log).
		WithMetrics(m).
		WithAuditor(a.audit)

	sweeper := daemon.NewSweeper(daemon.SweepConfig{
		Catalog:  cat,
		Archiver: arch,
		Settings: sweepSettings(cfg.Governance),
		Auditor:  a.audit,
		Notifier: a.notify,
		Metrics:  m,
		Log:      log,
	})

	chat := assistant.New(assistant.Config{
		BaseURL: cfg.Assistant.BaseURL,
		Model:   cfg.Assistant.Model,
		APIKey:  cfg.AssistantKey(),
		Timeout: cfg.Assistant.Timeout,
	}, log, m)
	if !chat.Configured() {
		log.Warn("assistant API key not set; chat is disabled", logger.F("api_key_env", cfg.Assistant.APIKeyEnv))
	}

	static, err := web.DistFS()
	if err != nil {
		return fmt.Errorf("dashboard assets: %w", err)
	}

	apiCfg := httpapi.Config{
		Catalog:    cat,
		Tickets:    tix,
		Archiver:   arch,
		Assistant:  chat,
		SystemRole: cfg.Assistant.SystemRole,
		Users:      a.store,
		Defaults:   func() core.Thresholds { return sweeper.Settings().Thresholds },
		TopN:       cfg.Governance.TopN,
		Static:     static,
		Log:        log,
	}
	if a.auditDB != nil {
		apiCfg.Audit = a.auditDB
	}
	api := httpapi.New(apiCfg)

	wrap, err := buildAuth(cfg.Auth, a.store, log)
	if err != nil {
		return err
	}

	d := daemon.New(log, sweeper.Run, daemon.Config{
		Schedule:        cfg.Governance.Schedule,
		HTTPAddr:        cfg.Server.HTTPAddr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		DataPath:        filepath.Dir(cfg.Database.Path),
		Handler:         api.Handler(),
		Wrap:            wrap,
		Notifier:        a.notify,
	})

	log.Info("starting opsdash",
		logger.F("version", version),
		logger.F("config", a.cfgPath),
		logger.F("db", cfg.Database.Path),
		logger.F("addr", cfg.Server.HTTPAddr),
		logger.F("schedule", cfg.Governance.Schedule),
		logger.F("mode", cfg.Governance.Mode),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return d.Run(ctx)
	})

	if metricsSrv != nil {
		eg.Go(func() error {
			log.Info("metrics server starting", logger.F("addr", cfg.Metrics.Addr))
			if err := metricsSrv.Start(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if a.cfgPath != "" {
		w, err := config.NewWatcher(a.cfgPath, func(next *config.Config) {
			sweeper.SetSettings(sweepSettings(next.Governance))
			arch.SetSafetyConfig(next.Governance.Safety())
			if lvl, err := logger.ParseLevel(next.Logging.Level); err == nil {
				log.SetLevel(lvl)
			}
			log.Info("configuration reloaded",
				logger.F("age_days", next.Governance.Thresholds.AgeDays),
				logger.F("size_mb", next.Governance.Thresholds.SizeMB),
				logger.F("min_rows", next.Governance.Thresholds.MinRows),
				logger.F("mode", next.Governance.Mode),
			)
		}, log)
		if err != nil {
			log.Warn("config watcher disabled", logger.F("error", err))
		} else {
			eg.Go(func() error {
				return w.Run(ctx)
			})
		}
	}

	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}
