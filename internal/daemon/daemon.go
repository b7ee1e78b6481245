package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/config"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/notifier"
)

// State represents the current daemon state.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RunFunc is the function called on each scheduled run.
type RunFunc func(ctx context.Context) error

// ErrRunInProgress is returned by TriggerRun while another run is active.
var ErrRunInProgress = errors.New("run already in progress")

// Daemon manages the lifecycle of the dashboard server: the HTTP
// listener, the optional sweep schedule and shutdown.
type Daemon struct {
	log             logger.Logger
	runFunc         RunFunc
	schedule        string
	httpAddr        string
	dataPath        string
	shutdownTimeout time.Duration
	handler         http.Handler
	wrap            func(http.Handler) http.Handler
	notify          notifier.Notifier
	handleSignals   bool

	state      atomic.Int32
	running    atomic.Bool
	lastRun    time.Time
	lastErr    error
	runCount   int64
	mu         sync.RWMutex
	stopCh     chan struct{}
	stopOnce   sync.Once
	httpServer *http.Server
	listener   net.Listener
	closers    []namedCloser
}

type namedCloser struct {
	name string
	c    io.Closer
}

// Config holds daemon configuration.
type Config struct {
	// Schedule is "@every <duration>" or a plain duration. Empty disables
	// scheduled runs.
	Schedule string
	// HTTPAddr is the listen address (default ":8080").
	HTTPAddr string
	// ShutdownTimeout bounds HTTP shutdown (default 10s).
	ShutdownTimeout time.Duration
	// DataPath is reported on /status with its volume usage.
	DataPath string
	// Handler serves everything not handled by the lifecycle endpoints.
	Handler http.Handler
	// Wrap, if set, wraps every route except /health (authentication).
	Wrap func(http.Handler) http.Handler
	// Notifier receives daemon_started and daemon_stopped.
	Notifier notifier.Notifier
	// HandleSignals stops the daemon on SIGINT and SIGTERM.
	HandleSignals bool
}

// New creates a new daemon instance.
func New(log logger.Logger, runFunc RunFunc, cfg Config) *Daemon {
	if log == nil {
		log = logger.NewNop()
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Notifier == nil {
		cfg.Notifier = &notifier.NoopNotifier{}
	}

	d := &Daemon{
		log:             log,
		runFunc:         runFunc,
		schedule:        cfg.Schedule,
		httpAddr:        cfg.HTTPAddr,
		dataPath:        cfg.DataPath,
		shutdownTimeout: cfg.ShutdownTimeout,
		handler:         cfg.Handler,
		wrap:            cfg.Wrap,
		notify:          cfg.Notifier,
		handleSignals:   cfg.HandleSignals,
		stopCh:          make(chan struct{}),
	}
	d.state.Store(int32(StateStarting))

	return d
}

// AddCloser registers a resource closed once after the HTTP server stops.
// Closers run in reverse registration order.
func (d *Daemon) AddCloser(name string, c io.Closer) {
	if c == nil {
		return
	}
	d.closers = append(d.closers, namedCloser{name: name, c: c})
}

// Run starts the daemon and blocks until ctx is canceled, Stop is
// called, or a signal arrives when HandleSignals is set.
func (d *Daemon) Run(ctx context.Context) error {
	d.log.Info("daemon starting", logger.F("http_addr", d.httpAddr), logger.F("schedule", d.schedule))

	var sigCh chan os.Signal
	if d.handleSignals {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}

	if err := d.startHTTP(); err != nil {
		d.closeResources()
		d.state.Store(int32(StateStopped))
		return fmt.Errorf("start HTTP server: %w", err)
	}

	d.state.Store(int32(StateReady))
	d.log.Info("daemon ready", logger.F("addr", d.Addr()))
	d.sendEvent(notifier.EventDaemonStarted, "opsdash started on "+d.Addr())

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var schedulerDone chan struct{}
	if d.schedule != "" && d.runFunc != nil {
		schedulerDone = make(chan struct{})
		go d.runScheduler(ctx, schedulerDone)
	}

	select {
	case sig := <-sigCh:
		d.log.Info("received signal", logger.F("signal", sig.String()))
	case <-ctx.Done():
		d.log.Info("context canceled")
	case <-d.stopCh:
		d.log.Info("stop requested")
	}

	d.state.Store(int32(StateStopping))
	d.log.Info("daemon stopping")

	cancel()
	if schedulerDone != nil {
		<-schedulerDone
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), d.shutdownTimeout)
	defer shutdownCancel()
	if err := d.httpServer.Shutdown(shutdownCtx); err != nil {
		d.log.Warn("HTTP server shutdown error", logger.F("error", err))
	}

	d.sendEvent(notifier.EventDaemonStopped, "opsdash stopped")
	d.closeResources()

	d.state.Store(int32(StateStopped))
	d.log.Info("daemon stopped")
	return nil
}

func (d *Daemon) closeResources() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		nc := d.closers[i]
		if err := nc.c.Close(); err != nil {
			d.log.Warn("close failed", logger.F("resource", nc.name), logger.F("error", err))
		}
	}
	d.closers = nil
}

func (d *Daemon) sendEvent(event notifier.EventType, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.notify.Notify(ctx, notifier.NewPayload(event, msg)); err != nil {
		d.log.Warn("notification failed", logger.F("event", string(event)), logger.F("error", err))
	}
}

// Stop signals the daemon to shut down. Safe to call more than once.
func (d *Daemon) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// TriggerRun runs the RunFunc now. It fails with ErrRunInProgress if a
// run is already active.
func (d *Daemon) TriggerRun(ctx context.Context) error {
	if d.runFunc == nil {
		return errors.New("no run function configured")
	}
	if !d.running.CompareAndSwap(false, true) {
		return ErrRunInProgress
	}
	defer d.running.Store(false)

	prev := d.State()
	d.state.CompareAndSwap(int32(StateReady), int32(StateRunning))
	defer d.state.CompareAndSwap(int32(StateRunning), int32(prev))

	return d.executeRun(ctx)
}

// State returns the current daemon state.
func (d *Daemon) State() State {
	return State(d.state.Load())
}

// IsRunning returns true if a run is currently in progress.
func (d *Daemon) IsRunning() bool {
	return d.running.Load()
}

// LastRun returns info about the last run.
func (d *Daemon) LastRun() (time.Time, int64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastRun, d.runCount, d.lastErr
}

// Addr returns the bound listen address once the server is up, or the
// configured address before that.
func (d *Daemon) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.httpAddr
}

// runScheduler runs the RunFunc on the configured interval.
func (d *Daemon) runScheduler(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval, err := config.ParseSchedule(d.schedule)
	if err != nil {
		d.log.Error("invalid schedule", logger.F("schedule", d.schedule), logger.F("error", err))
		return
	}

	d.log.Info("scheduler started", logger.F("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Debug("scheduler stopping")
			return
		case <-ticker.C:
			if !d.running.CompareAndSwap(false, true) {
				d.log.Warn("skipping scheduled run, previous run still in progress")
				continue
			}
			d.state.Store(int32(StateRunning))
			if err := d.executeRun(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("scheduled run failed", logger.F("error", err))
			}
			d.state.CompareAndSwap(int32(StateRunning), int32(StateReady))
			d.running.Store(false)
		}
	}
}

// executeRun performs a single run, converting a panic into an error so
// one bad sweep cannot take the dashboard down.
func (d *Daemon) executeRun(ctx context.Context) (err error) {
	d.log.Info("starting governance sweep")
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("run panicked", logger.F("panic", fmt.Sprint(r)), logger.F("stack", string(debug.Stack())))
			err = fmt.Errorf("run panicked: %v", r)
		}

		d.mu.Lock()
		d.lastRun = start
		d.lastErr = err
		d.runCount++
		d.mu.Unlock()

		duration := time.Since(start)
		if err != nil {
			d.log.Error("governance sweep failed", logger.F("duration", duration.String()), logger.F("error", err))
		} else {
			d.log.Info("governance sweep completed", logger.F("duration", duration.String()))
		}
	}()

	return d.runFunc(ctx)
}

// statusResponse is the /status body.
type statusResponse struct {
	State       string   `json:"state"`
	Running     bool     `json:"running"`
	LastRun     string   `json:"last_run,omitempty"`
	LastError   string   `json:"last_error,omitempty"`
	RunCount    int64    `json:"run_count"`
	Schedule    string   `json:"schedule,omitempty"`
	DataPath    string   `json:"data_path,omitempty"`
	DiskUsedPct *float64 `json:"disk_used_pct,omitempty"`
}

// routes builds the lifecycle mux. Unmatched paths fall through to the
// configured handler.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ready", func(w http.ResponseWriter, _ *http.Request) {
		state := d.State()
		ready := state == StateReady || state == StateRunning
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"ready": ready, "state": state.String()})
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
		lastRun, runCount, lastErr := d.LastRun()
		resp := statusResponse{
			State:    d.State().String(),
			Running:  d.IsRunning(),
			RunCount: runCount,
			Schedule: d.schedule,
			DataPath: d.dataPath,
		}
		if !lastRun.IsZero() {
			resp.LastRun = lastRun.Format(time.RFC3339)
		}
		if lastErr != nil {
			resp.LastError = lastErr.Error()
		}
		if d.dataPath != "" {
			if pct, err := getDiskUsagePercent(d.dataPath); err == nil {
				resp.DiskUsedPct = &pct
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	mux.HandleFunc("POST /trigger", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
		defer cancel()

		if err := d.TriggerRun(ctx); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, ErrRunInProgress) {
				status = http.StatusConflict
			}
			writeJSON(w, status, map[string]any{"triggered": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"triggered": true})
	})

	if d.handler != nil {
		mux.Handle("/", d.handler)
	}

	var h http.Handler = mux
	if d.wrap != nil {
		h = d.wrap(h)
	}

	outer := http.NewServeMux()
	outer.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": d.State().String()})
	})
	outer.Handle("/", h)
	return outer
}

// startHTTP binds the listener synchronously so address errors surface
// from Run, then serves in the background.
func (d *Daemon) startHTTP() error {
	ln, err := net.Listen("tcp", d.httpAddr)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()

	d.httpServer = &http.Server{
		Handler:           d.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := d.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("HTTP server error", logger.F("error", err))
		}
	}()
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
