package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// ValidationError contains details about a single validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("config validation failed:\n")
	for _, err := range e {
		sb.WriteString(fmt.Sprintf("  - %s: %s\n", err.Field, err.Message))
	}
	return sb.String()
}

// ValidModes are the allowed archive modes.
var ValidModes = []string{string(core.ModeDryRun), string(core.ModeExecute)}

// ValidLogLevels are the allowed log levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// ValidLogFormats are the allowed log formats.
var ValidLogFormats = []string{"json", "console"}

// ValidEvents are the notification events a webhook may subscribe to.
var ValidEvents = []string{
	"governance_sweep_completed",
	"governance_sweep_failed",
	"ticket_updated",
	"catalog_loaded",
	"daemon_started",
	"daemon_stopped",
}

// Validate performs comprehensive validation of the configuration.
// It returns all validation errors found (not just the first).
// Returns nil if the configuration is valid.
func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, ValidateServer(cfg.Server)...)
	errs = append(errs, ValidateDatabase(cfg.Database)...)
	errs = append(errs, ValidateGovernance(cfg.Governance)...)
	errs = append(errs, ValidateAssistant(cfg.Assistant)...)
	errs = append(errs, ValidateAuth(cfg.Auth)...)
	errs = append(errs, ValidateLogging(cfg.Logging)...)
	errs = append(errs, ValidateMetrics(cfg.Metrics)...)
	errs = append(errs, ValidateNotifier(cfg.Notifier)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateServer checks the HTTP listener settings.
func ValidateServer(s ServerConfig) []ValidationError {
	var errs []ValidationError

	if s.HTTPAddr == "" {
		errs = append(errs, ValidationError{Field: "server.http_addr", Message: "must not be empty"})
	} else if _, _, err := net.SplitHostPort(s.HTTPAddr); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.http_addr",
			Message: fmt.Sprintf("invalid address %q: %v", s.HTTPAddr, err),
		})
	}

	if s.ShutdownTimeout < 0 {
		errs = append(errs, ValidationError{Field: "server.shutdown_timeout", Message: "must be >= 0"})
	}

	return errs
}

// ValidateDatabase checks storage paths.
func ValidateDatabase(d DatabaseConfig) []ValidationError {
	var errs []ValidationError

	if strings.TrimSpace(d.Path) == "" {
		errs = append(errs, ValidationError{Field: "database.path", Message: "must not be empty"})
	}
	if d.AuditPath != "" && d.AuditPath == d.Path {
		errs = append(errs, ValidationError{
			Field:   "database.audit_path",
			Message: "must differ from database.path",
		})
	}

	return errs
}

// ValidateGovernance checks thresholds, mode, schedule and protection lists.
func ValidateGovernance(g GovernanceConfig) []ValidationError {
	var errs []ValidationError

	if err := g.Thresholds.Validate(); err != nil {
		for _, e := range unwrapJoined(err) {
			errs = append(errs, ValidationError{
				Field:   "governance.thresholds",
				Message: e.Error(),
			})
		}
	}

	if g.Mode != "" && !contains(ValidModes, g.Mode) {
		errs = append(errs, ValidationError{
			Field:   "governance.mode",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidModes, g.Mode),
		})
	}

	if g.Schedule != "" {
		if d, err := ParseSchedule(g.Schedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "governance.schedule",
				Message: fmt.Sprintf("invalid schedule %q: %v", g.Schedule, err),
			})
		} else if d < time.Minute {
			errs = append(errs, ValidationError{
				Field:   "governance.schedule",
				Message: fmt.Sprintf("interval must be at least 1m, got %v", d),
			})
		}
	}

	if g.TopN < 0 {
		errs = append(errs, ValidationError{Field: "governance.top_n", Message: "must be >= 0"})
	}

	errs = append(errs, validateNonEmpty("governance.protected_sources", g.ProtectedSources)...)
	errs = append(errs, validateNonEmpty("governance.protected_categories", g.ProtectedCategories)...)
	errs = append(errs, validateNonEmpty("governance.protected_prefixes", g.ProtectedPrefixes)...)

	return errs
}

// ValidateAssistant checks the chat upstream settings.
func ValidateAssistant(a AssistantConfig) []ValidationError {
	var errs []ValidationError

	if a.BaseURL != "" {
		errs = append(errs, validateHTTPURL("assistant.base_url", a.BaseURL)...)
	}
	if a.BaseURL != "" && a.Model == "" {
		errs = append(errs, ValidationError{Field: "assistant.model", Message: "required when base_url is set"})
	}
	if a.Timeout < 0 {
		errs = append(errs, ValidationError{Field: "assistant.timeout", Message: "must be >= 0"})
	}

	return errs
}

// ValidateAuth checks that enabled auth has at least one credential source.
func ValidateAuth(a AuthConfig) []ValidationError {
	var errs []ValidationError

	if a.Enabled && a.APIKey == "" && a.APIKeyEnv == "" && a.KeysFile == "" && !a.BasicAuth {
		errs = append(errs, ValidationError{
			Field:   "auth",
			Message: "enabled auth requires api_key, api_key_env, keys_file or basic_auth",
		})
	}

	for i, p := range a.PublicPaths {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("auth.public_paths[%d]", i),
				Message: fmt.Sprintf("path must start with /: %q", p),
			})
		}
	}

	return errs
}

// ValidateLogging checks logging configuration.
func ValidateLogging(log LoggingConfig) []ValidationError {
	var errs []ValidationError

	// level must be valid (or empty for default)
	if log.Level != "" && !contains(ValidLogLevels, log.Level) {
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidLogLevels, log.Level),
		})
	}

	if log.Format != "" && !contains(ValidLogFormats, log.Format) {
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be one of %v, got %q", ValidLogFormats, log.Format),
		})
	}

	if log.Loki != nil {
		errs = append(errs, ValidateLoki(*log.Loki)...)
	}

	return errs
}

// ValidateLoki checks Loki configuration.
func ValidateLoki(loki LokiConfig) []ValidationError {
	var errs []ValidationError

	if loki.Enabled {
		if loki.URL == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.loki.url",
				Message: "URL is required when Loki is enabled",
			})
		} else {
			errs = append(errs, validateHTTPURL("logging.loki.url", loki.URL)...)
		}
	}

	if loki.BatchSize < 0 {
		errs = append(errs, ValidationError{Field: "logging.loki.batch_size", Message: "must be >= 0"})
	}
	if loki.BatchWait < 0 {
		errs = append(errs, ValidationError{Field: "logging.loki.batch_wait", Message: "must be >= 0"})
	}

	return errs
}

// ValidateMetrics checks the metrics listener.
func ValidateMetrics(m MetricsConfig) []ValidationError {
	var errs []ValidationError

	if m.Enabled && m.Addr != "" {
		if _, _, err := net.SplitHostPort(m.Addr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics.addr",
				Message: fmt.Sprintf("invalid address %q: %v", m.Addr, err),
			})
		}
	}

	return errs
}

// ValidateNotifier checks webhook endpoints and event filters.
func ValidateNotifier(n NotifierConfig) []ValidationError {
	var errs []ValidationError

	for i, wh := range n.Webhooks {
		field := fmt.Sprintf("notifier.webhooks[%d]", i)
		if wh.URL == "" {
			errs = append(errs, ValidationError{Field: field + ".url", Message: "must not be empty"})
		} else {
			errs = append(errs, validateHTTPURL(field+".url", wh.URL)...)
		}
		for _, ev := range wh.Events {
			if !contains(ValidEvents, ev) {
				errs = append(errs, ValidationError{
					Field:   field + ".events",
					Message: fmt.Sprintf("unknown event %q", ev),
				})
			}
		}
		if wh.Timeout < 0 {
			errs = append(errs, ValidationError{Field: field + ".timeout", Message: "must be >= 0"})
		}
	}

	return errs
}

// ParseSchedule parses a simple schedule string into a duration.
// Supports: "1h", "30m", "6h", etc. or cron-like "@every 1h".
func ParseSchedule(s string) (time.Duration, error) {
	s = strings.TrimPrefix(s, "@every ")
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be positive")
	}
	return d, nil
}

func validateHTTPURL(field, raw string) []ValidationError {
	u, err := url.Parse(raw)
	if err != nil {
		return []ValidationError{{Field: field, Message: fmt.Sprintf("invalid URL: %v", err)}}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return []ValidationError{{Field: field, Message: fmt.Sprintf("URL scheme must be http or https, got %q", u.Scheme)}}
	}
	if u.Host == "" {
		return []ValidationError{{Field: field, Message: "URL must include a host"}}
	}
	return nil
}

func validateNonEmpty(field string, values []string) []ValidationError {
	var errs []ValidationError
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("%s[%d]", field, i),
				Message: "must not be empty",
			})
		}
	}
	return errs
}

// unwrapJoined flattens an errors.Join result.
func unwrapJoined(err error) []error {
	var j interface{ Unwrap() []error }
	if errors.As(err, &j) {
		return j.Unwrap()
	}
	return []error{err}
}

// contains checks if a string slice contains a value.
func contains(slice []string, val string) bool {
	for _, s := range slice {
		if s == val {
			return true
		}
	}
	return false
}
