package auditor

import (
	"context"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// Multi writes audit events to multiple auditors.
type Multi struct {
	auditors []core.Auditor
}

// NewMulti creates an auditor that writes to multiple backends.
// Nil entries are skipped.
func NewMulti(auditors ...core.Auditor) *Multi {
	m := &Multi{}
	for _, a := range auditors {
		if a != nil {
			m.auditors = append(m.auditors, a)
		}
	}
	return m
}

// Record writes the event to all configured auditors.
func (m *Multi) Record(ctx context.Context, evt core.AuditEvent) {
	for _, a := range m.auditors {
		a.Record(ctx, evt)
	}
}

// Len reports how many backends are attached.
func (m *Multi) Len() int {
	return len(m.auditors)
}

// Nop discards audit events.
type Nop struct{}

func (Nop) Record(context.Context, core.AuditEvent) {}

// Ensure Multi implements core.Auditor
var _ core.Auditor = (*Multi)(nil)
var _ core.Auditor = Nop{}
