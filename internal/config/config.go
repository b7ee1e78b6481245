package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/safety"
)

// Config represents the complete configuration for opsdash.
type Config struct {
	Version    int              `yaml:"version"`
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Governance GovernanceConfig `yaml:"governance"`
	Assistant  AssistantConfig  `yaml:"assistant"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Notifier   NotifierConfig   `yaml:"notifier"`
}

// ServerConfig configures the dashboard HTTP server.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	PIDFile         string        `yaml:"pid_file"` // empty disables the single-instance lock
}

// DatabaseConfig configures the SQLite store and audit trail.
type DatabaseConfig struct {
	Path      string `yaml:"path"`
	AuditPath string `yaml:"audit_path"` // SQLite audit database; empty disables
	AuditJSON string `yaml:"audit_json"` // JSONL audit file; empty disables
}

// GovernanceConfig holds the archive rule defaults and safety boundaries.
type GovernanceConfig struct {
	Thresholds          core.Thresholds `yaml:"thresholds"`
	Schedule            string          `yaml:"schedule"` // "@every 6h" or "6h"; empty disables
	Mode                string          `yaml:"mode"`     // "dry-run" or "execute"
	TopN                int             `yaml:"top_n"`
	ProtectedSources    []string        `yaml:"protected_sources"`
	ProtectedCategories []string        `yaml:"protected_categories"`
	ProtectedPrefixes   []string        `yaml:"protected_prefixes"`
}

// AssistantConfig configures the OpenAI-compatible chat upstream.
type AssistantConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	APIKey     string        `yaml:"api_key"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Timeout    time.Duration `yaml:"timeout"`
	SystemRole string        `yaml:"system_role"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	Enabled     bool     `yaml:"enabled"`
	APIKey      string   `yaml:"api_key"`
	APIKeyEnv   string   `yaml:"api_key_env"`
	KeysFile    string   `yaml:"keys_file"`
	BasicAuth   bool     `yaml:"basic_auth"` // username/password against the users table
	PublicPaths []string `yaml:"public_paths"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	Level  string      `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string      `yaml:"format"` // "json" or "console"
	Output string      `yaml:"output"` // "stderr", "stdout", or file path
	Loki   *LokiConfig `yaml:"loki,omitempty"`
}

// LokiConfig configures log shipping to Grafana Loki.
type LokiConfig struct {
	Enabled   bool              `yaml:"enabled"`
	URL       string            `yaml:"url"`
	BatchSize int               `yaml:"batch_size"`
	BatchWait time.Duration     `yaml:"batch_wait"`
	Labels    map[string]string `yaml:"labels,omitempty"`
	TenantID  string            `yaml:"tenant_id,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// NotifierConfig lists webhook endpoints.
type NotifierConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig configures a single webhook endpoint.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Events  []string          `yaml:"events,omitempty"` // Empty = all events
	Timeout time.Duration     `yaml:"timeout,omitempty"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Version: 1,
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "opsdash.db",
		},
		Governance: GovernanceConfig{
			Thresholds: core.DefaultThresholds(),
			Schedule:   "",
			Mode:       string(core.ModeDryRun),
			TopN:       20,
		},
		Assistant: AssistantConfig{
			BaseURL:    "https://api.groq.com/openai/v1",
			Model:      "llama-3.3-70b-versatile",
			APIKeyEnv:  "GROQ_API_KEY",
			Timeout:    2 * time.Minute,
			SystemRole: "You are an IT operations assistant. Answer questions about tickets, datasets and data governance concisely.",
		},
		Auth: AuthConfig{
			Enabled:     false,
			PublicPaths: []string{"/health"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load reads a config file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads config from path if it exists, otherwise returns defaults.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}

	return Load(path)
}

// FindConfigFile searches for a config file in standard locations.
func FindConfigFile() string {
	candidates := []string{
		"opsdash.yaml",
		"opsdash.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "opsdash", "config.yaml"),
		"/etc/opsdash/config.yaml",
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// AssistantKey resolves the chat API key: explicit value first, then the
// configured environment variable.
func (c *Config) AssistantKey() string {
	if c.Assistant.APIKey != "" {
		return c.Assistant.APIKey
	}
	if c.Assistant.APIKeyEnv != "" {
		return os.Getenv(c.Assistant.APIKeyEnv)
	}
	return ""
}

// Safety returns the protection lists as a safety engine config.
func (g GovernanceConfig) Safety() safety.Config {
	return safety.Config{
		ProtectedSources:    g.ProtectedSources,
		ProtectedCategories: g.ProtectedCategories,
		ProtectedPrefixes:   g.ProtectedPrefixes,
	}
}
