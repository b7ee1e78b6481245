package logger

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type captureServer struct {
	*httptest.Server
	mu      sync.Mutex
	bodies  [][]byte
	headers []http.Header
	hits    atomic.Int32
}

func newCaptureServer(t *testing.T, status int) *captureServer {
	t.Helper()
	cs := &captureServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.bodies = append(cs.bodies, body)
		cs.headers = append(cs.headers, r.Header.Clone())
		cs.mu.Unlock()
		cs.hits.Add(1)
		w.WriteHeader(status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) requests(t *testing.T) []lokiRequest {
	t.Helper()
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]lokiRequest, 0, len(cs.bodies))
	for _, b := range cs.bodies {
		var req lokiRequest
		if err := json.Unmarshal(b, &req); err != nil {
			t.Fatalf("failed to parse request body: %v", err)
		}
		out = append(out, req)
	}
	return out
}

func TestLokiCore_TeeWritesBothSinks(t *testing.T) {
	srv := newCaptureServer(t, http.StatusNoContent)

	var buf bytes.Buffer
	core := NewLokiCore(LokiConfig{URL: srv.URL, BatchSize: 100, BatchWait: time.Hour})
	defer core.Close()

	log := New(LevelDebug, FormatJSON, &buf).Tee(core)
	log.Info("ticket updated", F("ticket_id", "T-1"))

	if !strings.Contains(buf.String(), "ticket updated") {
		t.Errorf("expected local sink to receive message, got: %s", buf.String())
	}

	if err := log.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	reqs := srv.requests(t)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 push after sync, got %d", len(reqs))
	}
	line := reqs[0].Streams[0].Values[0][1]
	if !strings.Contains(line, `"ticket_id":"T-1"`) {
		t.Errorf("expected field in pushed line, got %s", line)
	}
}

func TestLokiCore_RespectsLoggerLevel(t *testing.T) {
	srv := newCaptureServer(t, http.StatusNoContent)

	core := NewLokiCore(LokiConfig{URL: srv.URL, BatchSize: 100, BatchWait: time.Hour})
	defer core.Close()

	log := New(LevelWarn, FormatJSON, io.Discard).Tee(core)
	log.Info("dropped")
	log.Warn("kept")
	_ = log.Sync()

	reqs := srv.requests(t)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 push, got %d", len(reqs))
	}
	if n := len(reqs[0].Streams); n != 1 || reqs[0].Streams[0].Stream["level"] != "warn" {
		t.Errorf("expected only a warn stream, got %+v", reqs[0].Streams)
	}
}

func TestLokiCore_WithFields(t *testing.T) {
	srv := newCaptureServer(t, http.StatusNoContent)

	core := NewLokiCore(LokiConfig{URL: srv.URL, BatchSize: 100, BatchWait: time.Hour})
	defer core.Close()

	log := New(LevelDebug, FormatJSON, io.Discard).Tee(core)
	log.WithFields(F("request_id", "123")).Info("with context")
	_ = log.Sync()

	line := srv.requests(t)[0].Streams[0].Values[0][1]
	if !strings.Contains(line, `"request_id":"123"`) {
		t.Errorf("expected request_id in line, got %s", line)
	}
}

func TestLokiCore_BatchFlushOnSize(t *testing.T) {
	srv := newCaptureServer(t, http.StatusNoContent)

	core := NewLokiCore(LokiConfig{URL: srv.URL, BatchSize: 3, BatchWait: time.Hour})
	defer core.Close()

	log := New(LevelDebug, FormatJSON, io.Discard).Tee(core)
	log.Info("one")
	log.Info("two")
	log.Info("three")

	waitFor(t, func() bool { return srv.hits.Load() >= 1 })
}

func TestLokiCore_BatchFlushOnTime(t *testing.T) {
	srv := newCaptureServer(t, http.StatusNoContent)

	core := NewLokiCore(LokiConfig{URL: srv.URL, BatchSize: 100, BatchWait: 20 * time.Millisecond})
	defer core.Close()

	New(LevelDebug, FormatJSON, io.Discard).Tee(core).Info("eventually")

	waitFor(t, func() bool { return srv.hits.Load() >= 1 })
}

func TestLokiCore_FlushOnClose(t *testing.T) {
	srv := newCaptureServer(t, http.StatusNoContent)

	core := NewLokiCore(LokiConfig{URL: srv.URL, BatchSize: 100, BatchWait: time.Hour})
	New(LevelDebug, FormatJSON, io.Discard).Tee(core).Info("last words")

	if err := core.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if srv.hits.Load() != 1 {
		t.Fatalf("expected final push on close, got %d", srv.hits.Load())
	}
	// Second close is a no-op
	if err := core.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestLokiCore_RequestFormat(t *testing.T) {
	srv := newCaptureServer(t, http.StatusNoContent)

	core := NewLokiCore(LokiConfig{
		URL:       srv.URL,
		BatchSize: 100,
		BatchWait: time.Hour,
		Labels:    map[string]string{"service": "test"},
		TenantID:  "tenant-a",
	})
	defer core.Close()

	log := New(LevelDebug, FormatJSON, io.Discard).Tee(core)
	log.Info("test message", F("foo", "bar"))
	log.Error("bad thing")
	_ = log.Sync()

	reqs := srv.requests(t)
	if len(reqs) != 1 {
		t.Fatalf("expected 1 push, got %d", len(reqs))
	}
	streams := reqs[0].Streams
	if len(streams) != 2 {
		t.Fatalf("expected one stream per level, got %d", len(streams))
	}
	// Streams are ordered by level name
	if streams[0].Stream["level"] != "error" || streams[1].Stream["level"] != "info" {
		t.Errorf("unexpected stream order: %+v", streams)
	}
	if streams[1].Stream["service"] != "test" {
		t.Errorf("expected service=test label, got: %v", streams[1].Stream)
	}
	if !strings.Contains(streams[1].Values[0][1], "test message") {
		t.Errorf("expected line to contain message, got: %s", streams[1].Values[0][1])
	}

	srv.mu.Lock()
	h := srv.headers[0]
	srv.mu.Unlock()
	if h.Get("X-Scope-OrgID") != "tenant-a" {
		t.Errorf("expected tenant header, got %q", h.Get("X-Scope-OrgID"))
	}
	if h.Get("Content-Type") != "application/json" {
		t.Errorf("expected json content type, got %q", h.Get("Content-Type"))
	}
}

func TestLokiCore_ServerErrorReported(t *testing.T) {
	srv := newCaptureServer(t, http.StatusInternalServerError)

	var reported atomic.Int32
	core := NewLokiCore(LokiConfig{
		URL:       srv.URL,
		BatchSize: 1,
		BatchWait: time.Hour,
		OnError:   func(error) { reported.Add(1) },
	})
	defer core.Close()

	New(LevelDebug, FormatJSON, io.Discard).Tee(core).Info("rejected")

	waitFor(t, func() bool { return reported.Load() >= 1 })
}

func TestLokiConfig_Defaults(t *testing.T) {
	core := NewLokiCore(LokiConfig{URL: "http://127.0.0.1:1"})
	defer core.Close()

	cfg := core.ship.config
	if cfg.BatchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", cfg.BatchSize)
	}
	if cfg.BatchWait != 5*time.Second {
		t.Errorf("expected default batch wait 5s, got %v", cfg.BatchWait)
	}
	if cfg.Labels["service"] != "opsdash" {
		t.Errorf("expected default service label, got %v", cfg.Labels)
	}
}

func TestFormatLine(t *testing.T) {
	line := formatLine(lokiEntry{
		Message: "hello",
		Fields:  map[string]any{"count": 2, "who": "ops"},
	})

	var got map[string]any
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if got["msg"] != "hello" || got["who"] != "ops" || got["count"] != float64(2) {
		t.Errorf("unexpected line: %s", line)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
