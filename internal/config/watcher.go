package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ChrisB0-2/opsdash/internal/logger"
)

// DefaultDebounce collapses editor write bursts into one reload.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file when it changes and hands each valid
// result to a callback. Invalid files are logged and ignored.
type Watcher struct {
	path     string
	fsw      *fsnotify.Watcher
	onChange func(*Config)
	log      logger.Logger
	debounce time.Duration
}

// NewWatcher creates a watcher for path. Call Run to start it.
func NewWatcher(path string, onChange func(*Config), log logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors often write a temp file and rename it.
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	return &Watcher{
		path:     abs,
		fsw:      fsw,
		onChange: onChange,
		log:      log.WithFields(logger.F("component", "config_watcher")),
		debounce: DefaultDebounce,
	}, nil
}

// SetDebounce overrides the debounce interval. Must be called before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Run processes file events until ctx is cancelled. It closes the
// underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.log.Info("config watcher started", logger.F("path", w.path))

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("config watcher stopped")
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.isConfigEvent(ev) {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			w.log.Debug("config file event", logger.F("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error("config watcher error", logger.F("error", err))
		}
	}
}

func (w *Watcher) isConfigEvent(ev fsnotify.Event) bool {
	p, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	return p == w.path
}

func (w *Watcher) reload() {
	start := time.Now()
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error("config reload failed", logger.F("error", err))
		return
	}
	if err := Validate(cfg); err != nil {
		w.log.Error("config reload rejected", logger.F("error", err.Error()))
		return
	}
	w.onChange(cfg)
	w.log.Info("config reloaded", logger.F("duration", time.Since(start).String()))
}
