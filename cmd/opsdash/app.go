package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ChrisB0-2/opsdash/internal/auditor"
	"github.com/ChrisB0-2/opsdash/internal/auth"
	"github.com/ChrisB0-2/opsdash/internal/config"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/daemon"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/notifier"
	"github.com/ChrisB0-2/opsdash/internal/store"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dbPath     string
	logLevel   string
}

// loadConfig finds, loads and validates the configuration, then applies
// flag overrides. The returned path is empty when only defaults were used.
func (o *globalOptions) loadConfig() (*config.Config, string, error) {
	path := o.configPath
	if path == "" {
		path = config.FindConfigFile()
	}

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config: %w", err)
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", fmt.Errorf("invalid configuration:\n%w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			path = ""
		}
	}
	return cfg, path, nil
}

// app holds the resources every command opens.
type app struct {
	cfg     *config.Config
	cfgPath string
	log     *logger.ZapLogger
	store   *store.Store
	audit   core.Auditor
	auditDB *auditor.SQLiteAuditor
	notify  notifier.Notifier

	closers []io.Closer
}

// open loads config and opens the logger, store, auditors and notifiers.
func (o *globalOptions) open() (*app, error) {
	cfg, path, err := o.loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cfgPath: path}
	a.log, a.closers, err = initLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		a.Close()
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	a.store, err = store.Open(store.Config{Path: cfg.Database.Path})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.store)

	if err := a.openAuditors(); err != nil {
		a.Close()
		return nil, err
	}
	a.notify = buildNotifier(cfg.Notifier)
	return a, nil
}

func (a *app) openAuditors() error {
	var backends []core.Auditor

	if p := a.cfg.Database.AuditPath; p != "" {
		sa, err := auditor.NewSQLite(auditor.SQLiteConfig{Path: p, Log: a.log})
		if err != nil {
			return fmt.Errorf("open audit database: %w", err)
		}
		a.auditDB = sa
		backends = append(backends, sa)
		a.closers = append(a.closers, sa)
	}

	if p := a.cfg.Database.AuditJSON; p != "" {
		ja, err := auditor.NewJSONL(p)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		backends = append(backends, ja)
		a.closers = append(a.closers, closerFunc(func() error {
			if err := ja.Err(); err != nil {
				a.log.Warn("audit write error", logger.F("error", err))
			}
			return ja.Close()
		}))
	}

	a.audit = auditor.NewMulti(backends...)
	return nil
}

// Close releases resources in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
	a.closers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// initLogger creates a logger based on configuration. The returned
// closers flush the file output and the Loki shipper.
func initLogger(cfg config.LoggingConfig) (*logger.ZapLogger, []io.Closer, error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		level = logger.LevelInfo
	}

	var closers []io.Closer
	var output io.Writer
	switch cfg.Output {
	case "", "stderr":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		closers = append(closers, f)
	}

	log := logger.New(level, cfg.Format, output)
	if cfg.Loki != nil && cfg.Loki.Enabled {
		lc := logger.NewLokiCore(logger.LokiConfig{
			URL:       cfg.Loki.URL,
			BatchSize: cfg.Loki.BatchSize,
			BatchWait: cfg.Loki.BatchWait,
			Labels:    cfg.Loki.Labels,
			TenantID:  cfg.Loki.TenantID,
			OnError: func(err error) {
				fmt.Fprintf(os.Stderr, "loki push failed: %v\n", err)
			},
		})
		log = log.Tee(lc)
		closers = append(closers, lc)
	}

	closers = append(closers, closerFunc(func() error {
		_ = log.Sync()
		return nil
	}))
	return log, closers, nil
}

// buildNotifier fans out to every configured webhook.
func buildNotifier(cfg config.NotifierConfig) notifier.Notifier {
	if len(cfg.Webhooks) == 0 {
		return &notifier.NoopNotifier{}
	}
	m := notifier.NewMultiNotifier()
	for _, wh := range cfg.Webhooks {
		events := make([]notifier.EventType, 0, len(wh.Events))
		for _, e := range wh.Events {
			events = append(events, notifier.EventType(e))
		}
		m.Add(notifier.NewWebhook(notifier.WebhookConfig{
			URL:     wh.URL,
			Headers: wh.Headers,
			Events:  events,
			Timeout: wh.Timeout,
		}))
	}
	return m
}

// buildAuth returns the middleware chain for the dashboard. With auth
// disabled every request runs as the anonymous admin; RBAC still rejects
// endpoints without a permission entry.
func buildAuth(cfg config.AuthConfig, users auth.UserLookup, log logger.Logger) (func(http.Handler) http.Handler, error) {
	rbac := auth.NewRBACMiddleware(auth.DefaultPermissions(), log)

	if !cfg.Enabled {
		log.Warn("authentication disabled; all requests run as admin")
		return func(next http.Handler) http.Handler {
			return auth.Anonymous(rbac.Wrap(next))
		}, nil
	}

	var authenticators []auth.Authenticator
	if cfg.APIKey != "" || cfg.APIKeyEnv != "" || cfg.KeysFile != "" {
		ka, err := auth.NewAPIKeyAuthenticator(auth.APIKeyConfig{
			Key:      cfg.APIKey,
			KeyEnv:   cfg.APIKeyEnv,
			KeysFile: cfg.KeysFile,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("api keys: %w", err)
		}
		authenticators = append(authenticators, ka)
	}
	if cfg.BasicAuth {
		authenticators = append(authenticators, auth.NewBasicAuthenticator(users, log))
	}

	mw := auth.NewMiddleware(log, authenticators, cfg.PublicPaths)
	return func(next http.Handler) http.Handler {
		return mw.Wrap(rbac.Wrap(next))
	}, nil
}

func sweepSettings(g config.GovernanceConfig) daemon.SweepSettings {
	mode := core.Mode(g.Mode)
	if mode == "" {
		mode = core.ModeDryRun
	}
	return daemon.SweepSettings{Thresholds: g.Thresholds, Mode: mode}
}
