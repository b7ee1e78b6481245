package auditor

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// JSONLAuditor appends one JSON object per line for shipping to log
// pipelines alongside the SQLite trail. Each record is flushed before
// Record returns.
type JSONLAuditor struct {
	mu       sync.Mutex
	f        *os.File
	w        *bufio.Writer
	writeErr error // first write error; auditing is fail-open
}

// jsonlLine is the on-disk shape. Err is kept as a string.
type jsonlLine struct {
	Time   time.Time      `json:"time"`
	Level  string         `json:"level"`
	Action string         `json:"action"`
	Target string         `json:"target,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
	Err    string         `json:"err,omitempty"`
}

// NewJSONL opens path for appending, creating it with 0600 if needed.
func NewJSONL(path string) (*JSONLAuditor, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &JSONLAuditor{f: f, w: bufio.NewWriterSize(f, 32*1024)}, nil
}

// Close flushes and closes the file. Safe to call twice.
func (a *JSONLAuditor) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	_ = a.w.Flush()
	err := a.f.Close()
	a.f = nil
	return err
}

// Err returns the first write error encountered, if any.
func (a *JSONLAuditor) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeErr
}

// Record appends evt. Events after Close are dropped.
func (a *JSONLAuditor) Record(_ context.Context, evt core.AuditEvent) {
	if evt.Time.IsZero() {
		evt.Time = time.Now()
	}

	line := jsonlLine{
		Time:   evt.Time.UTC(),
		Level:  evt.Level,
		Action: evt.Action,
		Target: evt.Target,
		Fields: evt.Fields,
	}
	if evt.Err != nil {
		line.Err = evt.Err.Error()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return
	}

	if err := json.NewEncoder(a.w).Encode(line); err != nil {
		a.setErr(err)
		return
	}
	a.setErr(a.w.Flush())
}

func (a *JSONLAuditor) setErr(err error) {
	if err != nil && a.writeErr == nil {
		a.writeErr = err
	}
}

var _ core.Auditor = (*JSONLAuditor)(nil)
