package core

import (
	"strconv"
	"time"
)

// Canonical audit actions
const (
	AuditActionEvaluate     = "evaluate"
	AuditActionArchive      = "archive"
	AuditActionTicketUpdate = "ticket_update"
	AuditActionCatalogLoad  = "catalog_load"
)

// NewEvaluateAuditEvent standardizes the shape of a candidate recorded during a sweep.
func NewEvaluateAuditEvent(runID string, th Thresholds, ev Evaluation) AuditEvent {
	return AuditEvent{
		Time:   time.Now(),
		Level:  "info",
		Action: AuditActionEvaluate,
		Target: ev.Record.Name,
		Fields: map[string]any{
			"run_id":      runID,
			"dataset_id":  ev.Record.ID,
			"source":      ev.Record.Source,
			"category":    ev.Record.Category,
			"size_mb":     ev.Record.SizeMB,
			"rows":        ev.Record.RecordCount,
			"age_days":    ev.AgeDays,
			"candidate":   ev.IsCandidate,
			"reason":      ReasonKey(ev.Reason),
			"th_age_days": th.AgeDays,
			"th_size_mb":  th.SizeMB,
			"th_min_rows": th.MinRows,
		},
	}
}

// NewArchiveAuditEvent standardizes the shape of an archive action outcome.
func NewArchiveAuditEvent(ev Evaluation, sv SafetyVerdict, ar ActionResult) AuditEvent {
	level := "info"
	if ar.Err != nil {
		level = "error"
	}
	return AuditEvent{
		Time:   time.Now(),
		Level:  level,
		Action: AuditActionArchive,
		Target: ev.Record.Name,
		Fields: map[string]any{
			"dataset_id":    ev.Record.ID,
			"mode":          string(ar.Mode),
			"size_mb":       ev.Record.SizeMB,
			"age_days":      ev.AgeDays,
			"safety_allow":  sv.Allowed,
			"safety_reason": ReasonKey(sv.Reason),
			"reason":        ar.Reason,
			"archived":      ar.Archived,
		},
		Err: ar.Err,
	}
}

// NewTicketAuditEvent records a ticket status or assignee change.
func NewTicketAuditEvent(actor string, before, after Ticket) AuditEvent {
	return AuditEvent{
		Time:   time.Now(),
		Level:  "info",
		Action: AuditActionTicketUpdate,
		Target: ticketTarget(after),
		Fields: map[string]any{
			"actor":           actor,
			"status_before":   before.Status,
			"status":          after.Status,
			"assignee_before": before.AssignedTo,
			"assignee":        after.AssignedTo,
		},
	}
}

func ticketTarget(t Ticket) string {
	if t.TicketID != "" {
		return t.TicketID
	}
	return "#" + strconv.FormatInt(t.ID, 10)
}

// ReasonKey collapses reasons like "protected_source:finance" -> "protected_source"
func ReasonKey(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return s[:i]
		}
	}
	return s
}
