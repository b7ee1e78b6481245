// Package assistant streams chat completions from an OpenAI-compatible
// endpoint for the dashboard's chat panel.
package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/metrics"
)

// Defaults for the hosted model.
const (
	DefaultBaseURL    = "https://api.groq.com/openai/v1"
	DefaultModel      = "llama-3.3-70b-versatile"
	DefaultTimeout    = 2 * time.Minute
	DefaultSystemRole = "You are a helpful assistant for IT operations and data governance."
)

// Outcomes reported to IncChatRequests.
const (
	OutcomeOK            = "ok"
	OutcomeError         = "error"
	OutcomeCanceled      = "canceled"
	OutcomeNotConfigured = "not_configured"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config configures the client. An empty APIKey leaves the client
// unconfigured; Stream then fails with core.ErrNotConfigured.
type Config struct {
	BaseURL    string
	Model      string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client talks to /chat/completions with stream enabled.
type Client struct {
	baseURL string
	model   string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	log     logger.Logger
	metrics core.Metrics
}

// New creates a client, filling defaults for blank fields.
func New(cfg Config, log logger.Logger, m core.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		// No client-level timeout: it would cut long streams. The
		// per-request context deadline bounds each call instead.
		cfg.HTTPClient = &http.Client{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		log:     log,
		metrics: m,
	}
}

// Configured reports whether an API key is set.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Model returns the model name sent upstream.
func (c *Client) Model() string {
	return c.model
}

// StatusError is a non-200 reply from the upstream API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("chat API returned status %d: %s", e.StatusCode, e.Body)
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// BuildMessages orders the conversation as system role, prior history,
// then the new user prompt. A blank system role uses DefaultSystemRole.
func BuildMessages(systemRole, prompt string, history []Message) []Message {
	if strings.TrimSpace(systemRole) == "" {
		systemRole = DefaultSystemRole
	}
	msgs := make([]Message, 0, len(history)+2)
	msgs = append(msgs, Message{Role: "system", Content: systemRole})
	msgs = append(msgs, history...)
	msgs = append(msgs, Message{Role: "user", Content: prompt})
	return msgs
}

// Stream sends the conversation and returns content deltas in arrival
// order. The content channel closes when the stream ends. The error
// channel receives at most one error and is closed after the content
// channel. Canceling ctx stops the stream.
func (c *Client) Stream(ctx context.Context, systemRole, prompt string, history []Message) (<-chan string, <-chan error) {
	content := make(chan string, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(content)

		start := time.Now()
		err := c.stream(ctx, BuildMessages(systemRole, prompt, history), content)

		outcome := OutcomeOK
		switch {
		case err == nil:
		case errors.Is(err, core.ErrNotConfigured):
			outcome = OutcomeNotConfigured
		case errors.Is(err, context.Canceled):
			outcome = OutcomeCanceled
		default:
			outcome = OutcomeError
		}
		c.metrics.IncChatRequests(outcome)

		if err != nil {
			c.log.Warn("chat stream failed",
				logger.F("model", c.model),
				logger.F("outcome", outcome),
				logger.F("duration", time.Since(start).String()),
				logger.F("error", err))
			errc <- err
			return
		}
		c.log.Debug("chat stream complete",
			logger.F("model", c.model),
			logger.F("duration", time.Since(start).String()))
	}()

	return content, errc
}

func (c *Client) stream(ctx context.Context, msgs []Message, out chan<- string) error {
	if !c.Configured() {
		return fmt.Errorf("chat assistant: %w", core.ErrNotConfigured)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: msgs, Stream: true})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return nil
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("chat API error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}

		select {
		case out <- chunk.Choices[0].Delta.Content:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// Collect drains a stream into one string. It returns the text received
// so far together with any stream error.
func Collect(content <-chan string, errc <-chan error) (string, error) {
	var b strings.Builder
	for s := range content {
		b.WriteString(s)
	}
	return b.String(), <-errc
}
