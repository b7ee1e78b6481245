package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap/zapcore"
)

// LokiConfig holds configuration for Loki log shipping.
type LokiConfig struct {
	URL       string
	BatchSize int
	BatchWait time.Duration
	Labels    map[string]string
	TenantID  string

	// OnError receives push failures. Nil discards them.
	OnError func(error)
}

// lokiEntry represents a log entry to be sent to Loki.
type lokiEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
	Fields    map[string]any
}

// lokiRequest is the JSON payload for Loki's push API.
type lokiRequest struct {
	Streams []lokiStream `json:"streams"`
}

// lokiStream represents a stream of log entries with labels.
type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"` // [[timestamp_ns, line], ...]
}

// LokiCore is a zapcore.Core that batches entries and pushes them to
// Loki. Combine it with a console or JSON core through ZapLogger.Tee.
type LokiCore struct {
	zapcore.LevelEnabler
	fields []zapcore.Field
	ship   *lokiShipper
}

type lokiShipper struct {
	config LokiConfig
	client *http.Client

	mu     sync.Mutex
	buffer []lokiEntry

	sendMu   sync.Mutex
	kick     chan struct{}
	shutdown chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// NewLokiCore creates a LokiCore and starts its background flusher.
// Close must be called to stop it.
func NewLokiCore(cfg LokiConfig) *LokiCore {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchWait <= 0 {
		cfg.BatchWait = 5 * time.Second
	}
	if cfg.Labels == nil {
		cfg.Labels = map[string]string{"service": "opsdash"}
	}

	s := &lokiShipper{
		config:   cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		buffer:   make([]lokiEntry, 0, cfg.BatchSize),
		kick:     make(chan struct{}, 1),
		shutdown: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.flusher()

	return &LokiCore{LevelEnabler: zapcore.DebugLevel, ship: s}
}

// With adds structured context to the core.
func (c *LokiCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &LokiCore{LevelEnabler: c.LevelEnabler, fields: merged, ship: c.ship}
}

// Check adds the core to the checked entry when the level is enabled.
func (c *LokiCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

// Write buffers one entry.
func (c *LokiCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.fields {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	c.ship.enqueue(lokiEntry{
		Timestamp: ent.Time,
		Level:     ent.Level.String(),
		Message:   ent.Message,
		Fields:    enc.Fields,
	})
	return nil
}

// Sync pushes everything buffered so far and waits for the push.
func (c *LokiCore) Sync() error {
	return c.ship.flush()
}

// Close stops the flusher after a final push.
func (c *LokiCore) Close() error {
	c.ship.once.Do(func() { close(c.ship.shutdown) })

	done := make(chan struct{})
	go func() {
		c.ship.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("loki: shutdown timed out")
	}
}

func (s *lokiShipper) enqueue(e lokiEntry) {
	s.mu.Lock()
	s.buffer = append(s.buffer, e)
	full := len(s.buffer) >= s.config.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.kick <- struct{}{}:
		default:
		}
	}
}

// flusher runs in background and flushes buffer periodically.
func (s *lokiShipper) flusher() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.BatchWait)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.report(s.flush())
		case <-s.kick:
			s.report(s.flush())
		case <-s.shutdown:
			s.report(s.flush())
			return
		}
	}
}

func (s *lokiShipper) report(err error) {
	if err != nil && s.config.OnError != nil {
		s.config.OnError(err)
	}
}

func (s *lokiShipper) flush() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	entries := s.buffer
	s.buffer = make([]lokiEntry, 0, s.config.BatchSize)
	s.mu.Unlock()

	return s.send(entries)
}

// send pushes log entries to Loki, one stream per level.
func (s *lokiShipper) send(entries []lokiEntry) error {
	streams := make(map[string]*lokiStream)
	for _, entry := range entries {
		stream, ok := streams[entry.Level]
		if !ok {
			labels := make(map[string]string, len(s.config.Labels)+1)
			for k, v := range s.config.Labels {
				labels[k] = v
			}
			labels["level"] = entry.Level
			stream = &lokiStream{Stream: labels}
			streams[entry.Level] = stream
		}
		ts := strconv.FormatInt(entry.Timestamp.UnixNano(), 10)
		stream.Values = append(stream.Values, [2]string{ts, formatLine(entry)})
	}

	levels := make([]string, 0, len(streams))
	for lvl := range streams {
		levels = append(levels, lvl)
	}
	sort.Strings(levels)

	req := lokiRequest{Streams: make([]lokiStream, 0, len(streams))}
	for _, lvl := range levels {
		req.Streams = append(req.Streams, *streams[lvl])
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("loki: marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL+"/loki/api/v1/push", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("loki: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.TenantID != "" {
		httpReq.Header.Set("X-Scope-OrgID", s.config.TenantID)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("loki: send %d entries: %w", len(entries), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("loki: server returned %d for %d entries", resp.StatusCode, len(entries))
	}
	return nil
}

// formatLine renders a log entry as the JSON line stored in Loki.
func formatLine(entry lokiEntry) string {
	line := map[string]any{
		"msg": entry.Message,
	}
	for k, v := range entry.Fields {
		line[k] = v
	}

	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Sprintf(`{"msg":%q,"error":"marshal_failed"}`, entry.Message)
	}
	return string(data)
}

var _ zapcore.Core = (*LokiCore)(nil)
