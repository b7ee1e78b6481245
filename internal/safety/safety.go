package safety

import (
	"context"
	"strings"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
)

// Config lists datasets that must never be archived. Source and
// category entries match whole values; prefixes match the start of the
// dataset name. All comparisons ignore case.
type Config struct {
	ProtectedSources    []string `yaml:"protected_sources" json:"protected_sources"`
	ProtectedCategories []string `yaml:"protected_categories" json:"protected_categories"`
	ProtectedPrefixes   []string `yaml:"protected_prefixes" json:"protected_prefixes"`
}

// Empty reports whether no protection rule is configured.
func (c Config) Empty() bool {
	return len(c.ProtectedSources) == 0 && len(c.ProtectedCategories) == 0 && len(c.ProtectedPrefixes) == 0
}

type Engine struct {
	log logger.Logger
}

// New creates a safety engine with no-op logging.
func New() *Engine {
	return &Engine{log: logger.NewNop()}
}

// NewWithLogger creates a safety engine with the given logger.
func NewWithLogger(log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{log: log}
}

// Validate is the last gate before a catalog record is archived.
// Rules are checked in order: source, category, name prefix. The first
// match denies with a reason of the form "protected_<rule>:<value>".
func (e *Engine) Validate(_ context.Context, rec core.DatasetRecord, cfg Config) core.SafetyVerdict {
	// Unnamed records cannot be matched against prefixes or shown to an
	// operator; refuse them outright.
	if strings.TrimSpace(rec.Name) == "" {
		return e.denyWithLog(rec, "missing_name")
	}

	for _, s := range cfg.ProtectedSources {
		if matchValue(rec.Source, s) {
			return e.denyWithLog(rec, "protected_source:"+s)
		}
	}

	for _, c := range cfg.ProtectedCategories {
		if matchValue(rec.Category, c) {
			return e.denyWithLog(rec, "protected_category:"+c)
		}
	}

	for _, p := range cfg.ProtectedPrefixes {
		if hasPrefixFold(rec.Name, p) {
			return e.denyWithLog(rec, "protected_prefix:"+p)
		}
	}

	return allow("ok")
}

func allow(reason string) core.SafetyVerdict {
	return core.SafetyVerdict{Allowed: true, Reason: reason}
}

func deny(reason string) core.SafetyVerdict {
	return core.SafetyVerdict{Allowed: false, Reason: reason}
}

// denyWithLog creates a deny verdict and logs it.
func (e *Engine) denyWithLog(rec core.DatasetRecord, reason string) core.SafetyVerdict {
	e.log.Debug("safety denied",
		logger.F("dataset_id", rec.ID),
		logger.F("dataset", rec.Name),
		logger.F("reason", reason))
	return deny(reason)
}

// matchValue compares trimmed values ignoring case. A blank rule never
// matches, so an empty list entry cannot protect every unlabeled record.
func matchValue(v, rule string) bool {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(v), rule)
}

func hasPrefixFold(name, prefix string) bool {
	if prefix == "" || len(name) < len(prefix) {
		return false
	}
	return strings.EqualFold(name[:len(prefix)], prefix)
}
