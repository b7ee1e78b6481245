package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Mode string

const (
	ModeDryRun  Mode = "dry-run"
	ModeExecute Mode = "execute"
)

// NeverUpdatedAgeDays is the age reported for datasets with no last_updated
// timestamp. It exceeds the largest accepted age threshold.
const NeverUpdatedAgeDays = 9999

// DatasetRecord is one row of the dataset catalog.
type DatasetRecord struct {
	ID          int64      `json:"id"`
	Name        string     `json:"dataset_name"`
	Source      string     `json:"source"`
	Category    string     `json:"category"`
	SizeMB      float64    `json:"file_size_mb"`
	RecordCount int64      `json:"record_count"`
	LastUpdated *time.Time `json:"last_updated"` // nil = never updated
	Archived    bool       `json:"archived"`
}

// Thresholds are the operator-supplied archive rule parameters.
type Thresholds struct {
	AgeDays int     `json:"age_days" yaml:"age_days"`
	SizeMB  float64 `json:"size_mb" yaml:"size_mb"`
	MinRows int64   `json:"min_rows" yaml:"min_rows"`
}

// Accepted threshold ranges.
const (
	MinAgeDays = 30
	MaxAgeDays = 3650
	MinSizeMB  = 1
	MaxSizeMB  = 100000
	MinRows    = 0
	MaxRows    = 100000000
)

// DefaultThresholds returns 365 days / 1024 MB / 1000 rows.
func DefaultThresholds() Thresholds {
	return Thresholds{AgeDays: 365, SizeMB: 1024, MinRows: 1000}
}

// Validate checks every threshold against its accepted range.
func (t Thresholds) Validate() error {
	var errs []error
	if t.AgeDays < MinAgeDays || t.AgeDays > MaxAgeDays {
		errs = append(errs, fmt.Errorf("%w: age_days must be in [%d, %d], got %d", ErrInvalidThreshold, MinAgeDays, MaxAgeDays, t.AgeDays))
	}
	if t.SizeMB < MinSizeMB || t.SizeMB > MaxSizeMB {
		errs = append(errs, fmt.Errorf("%w: size_mb must be in [%d, %d], got %g", ErrInvalidThreshold, MinSizeMB, MaxSizeMB, t.SizeMB))
	}
	if t.MinRows < MinRows || t.MinRows > MaxRows {
		errs = append(errs, fmt.Errorf("%w: min_rows must be in [%d, %d], got %d", ErrInvalidThreshold, MinRows, MaxRows, t.MinRows))
	}
	return errors.Join(errs...)
}

// AgeDays returns whole days elapsed between last and now, rounded toward
// negative infinity. Future timestamps yield negative values. A nil
// timestamp yields NeverUpdatedAgeDays.
func AgeDays(now time.Time, last *time.Time) int {
	if last == nil {
		return NeverUpdatedAgeDays
	}
	const day = 24 * time.Hour
	d := now.Sub(*last)
	days := int(d / day)
	if d%day < 0 {
		days--
	}
	return days
}

type EnvSnapshot struct {
	Now time.Time
}

type Decision struct {
	Allow  bool
	Reason string
	Score  int
}

// Policy decides whether a dataset matches a rule.
type Policy interface {
	Evaluate(rec DatasetRecord, env EnvSnapshot) Decision
}

// Evaluation is the derived view of one record under a set of thresholds.
type Evaluation struct {
	Record      DatasetRecord
	AgeDays     int
	IsCandidate bool
	Reason      string
}

type SafetyVerdict struct {
	Allowed bool
	Reason  string
}

type ActionResult struct {
	DatasetID  int64
	Name       string
	Mode       Mode
	Archived   bool
	Reason     string
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Ticket is one IT service-desk ticket.
type Ticket struct {
	ID          int64      `json:"id"`
	TicketID    string     `json:"ticket_id"`
	Subject     string     `json:"subject"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	Category    string     `json:"category"`
	CreatedDate *time.Time `json:"created_date,omitempty"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
}

// User is a dashboard account. PasswordHash is a bcrypt hash.
type User struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	Role         string `json:"role"`
}

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidThreshold = errors.New("invalid threshold")
	ErrMalformedCSV     = errors.New("malformed csv")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrNotConfigured    = errors.New("not configured")
	ErrProtected        = errors.New("protected dataset")
)

type Auditor interface {
	Record(ctx context.Context, evt AuditEvent)
}

type AuditEvent struct {
	Time   time.Time
	Level  string
	Action string
	Target string
	Fields map[string]any
	Err    error
}

// Metrics defines the interface for collecting operational metrics.
type Metrics interface {
	// Governance metrics
	SetDatasetsTotal(count int)
	SetArchiveCandidates(count int, sizeMB float64)
	ObserveSweep(duration time.Duration, err error)
	IncArchiveAction(reason string)

	// Ticket metrics
	SetTicketsByStatus(counts map[string]int)
	IncTicketUpdates(status string)

	// Assistant metrics
	IncChatRequests(outcome string)
}
