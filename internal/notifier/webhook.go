package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Event types for notifications
type EventType string

const (
	EventSweepCompleted EventType = "governance_sweep_completed"
	EventSweepFailed    EventType = "governance_sweep_failed"
	EventTicketUpdated  EventType = "ticket_updated"
	EventCatalogLoaded  EventType = "catalog_loaded"
	EventDaemonStarted  EventType = "daemon_started"
	EventDaemonStopped  EventType = "daemon_stopped"
)

// SweepSummary contains statistics from a governance sweep.
type SweepSummary struct {
	RunID           string    `json:"run_id"`
	Mode            string    `json:"mode"`
	Datasets        int       `json:"datasets"`
	Candidates      int       `json:"candidates"`
	CandidateSizeMB float64   `json:"candidate_size_mb"`
	Archived        int       `json:"archived"`
	Denied          int       `json:"denied"`
	Errors          int       `json:"errors"`
	TopSource       string    `json:"top_source,omitempty"`
	TopSourcePct    float64   `json:"top_source_pct,omitempty"`
	Duration        string    `json:"duration"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	ErrorMessages   []string  `json:"error_messages,omitempty"`
}

// WebhookPayload is the JSON payload sent to webhook endpoints
type WebhookPayload struct {
	Event     EventType         `json:"event"`
	Timestamp time.Time         `json:"timestamp"`
	Hostname  string            `json:"hostname,omitempty"`
	Summary   *SweepSummary     `json:"summary,omitempty"`
	Message   string            `json:"message,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewPayload stamps an event with the current time and host name.
func NewPayload(event EventType, message string) WebhookPayload {
	host, _ := os.Hostname()
	return WebhookPayload{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Hostname:  host,
		Message:   message,
	}
}

// WebhookConfig configures a webhook notification endpoint
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Events  []EventType       `yaml:"events,omitempty"` // Empty = all events
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

// Webhook sends notifications to HTTP endpoints
type Webhook struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhook creates a new webhook notifier
func NewWebhook(cfg WebhookConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Webhook{
		config: cfg,
		client: &http.Client{Timeout: timeout},
	}
}

// Notify sends a notification to the webhook endpoint
func (w *Webhook) Notify(ctx context.Context, payload WebhookPayload) error {
	if !w.shouldNotify(payload.Event) {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "opsdash/1.0")

	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return nil
}

func (w *Webhook) shouldNotify(event EventType) bool {
	// Empty events list means notify for all events
	if len(w.config.Events) == 0 {
		return true
	}

	for _, e := range w.config.Events {
		if e == event {
			return true
		}
	}
	return false
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Notify(ctx context.Context, payload WebhookPayload) error
}

// MultiNotifier sends notifications to multiple endpoints
type MultiNotifier struct {
	mu        sync.RWMutex
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to multiple endpoints
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify sends to all configured notifiers, collecting errors
func (m *MultiNotifier) Notify(ctx context.Context, payload WebhookPayload) error {
	m.mu.RLock()
	notifiers := make([]Notifier, len(m.notifiers))
	copy(notifiers, m.notifiers)
	m.mu.RUnlock()

	var errs []error
	for _, n := range notifiers {
		if err := n.Notify(ctx, payload); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %w", errors.Join(errs...))
	}
	return nil
}

// Add adds a notifier to the multi-notifier
func (m *MultiNotifier) Add(n Notifier) {
	m.mu.Lock()
	m.notifiers = append(m.notifiers, n)
	m.mu.Unlock()
}

// Len reports how many notifiers are attached.
func (m *MultiNotifier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.notifiers)
}

// NoopNotifier does nothing (for when notifications are disabled)
type NoopNotifier struct{}

func (n *NoopNotifier) Notify(ctx context.Context, payload WebhookPayload) error {
	return nil
}

// SlackPayload formats a webhook payload for Slack
func SlackPayload(payload WebhookPayload) map[string]interface{} {
	var color, title string
	switch payload.Event {
	case EventSweepCompleted:
		if payload.Summary != nil && payload.Summary.Errors > 0 {
			color = "warning"
			title = "Governance Sweep Completed with Errors"
		} else {
			color = "good"
			title = "Governance Sweep Completed"
		}
	case EventSweepFailed:
		color = "danger"
		title = "Governance Sweep Failed"
	case EventTicketUpdated:
		color = "#439FE0"
		title = "Ticket Updated"
	default:
		color = "#808080"
		title = fmt.Sprintf("opsdash: %s", payload.Event)
	}

	fields := []map[string]interface{}{}

	if s := payload.Summary; s != nil {
		fields = append(fields,
			map[string]interface{}{"title": "Mode", "value": s.Mode, "short": true},
			map[string]interface{}{"title": "Datasets", "value": humanize.Comma(int64(s.Datasets)), "short": true},
			map[string]interface{}{"title": "Candidates", "value": humanize.Comma(int64(s.Candidates)), "short": true},
			map[string]interface{}{"title": "Candidate Size", "value": FormatMB(s.CandidateSizeMB), "short": true},
			map[string]interface{}{"title": "Archived", "value": humanize.Comma(int64(s.Archived)), "short": true},
			map[string]interface{}{"title": "Duration", "value": s.Duration, "short": true},
		)
		if s.TopSource != "" {
			fields = append(fields,
				map[string]interface{}{"title": "Top Source", "value": fmt.Sprintf("%s (%.1f%%)", s.TopSource, s.TopSourcePct), "short": true},
			)
		}
		if s.Errors > 0 {
			fields = append(fields,
				map[string]interface{}{"title": "Errors", "value": fmt.Sprintf("%d", s.Errors), "short": true},
			)
		}
	}
	for k, v := range payload.Details {
		fields = append(fields, map[string]interface{}{"title": k, "value": v, "short": true})
	}

	return map[string]interface{}{
		"attachments": []map[string]interface{}{
			{
				"color":  color,
				"title":  title,
				"text":   payload.Message,
				"fields": fields,
				"footer": "opsdash",
				"ts":     payload.Timestamp.Unix(),
			},
		},
	}
}

// FormatMB renders a size in megabytes with IEC units ("2.0 GiB").
func FormatMB(mb float64) string {
	if mb <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(mb * 1024 * 1024))
}
