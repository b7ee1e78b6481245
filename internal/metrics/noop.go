package metrics

import (
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// Noop is a no-op implementation of core.Metrics.
// Use this when metrics collection is disabled.
type Noop struct{}

// NewNoop creates a new no-op metrics collector.
func NewNoop() *Noop {
	return &Noop{}
}

// Governance metrics
func (Noop) SetDatasetsTotal(int)              {}
func (Noop) SetArchiveCandidates(int, float64) {}
func (Noop) ObserveSweep(time.Duration, error) {}
func (Noop) IncArchiveAction(string)           {}

// Ticket metrics
func (Noop) SetTicketsByStatus(map[string]int) {}
func (Noop) IncTicketUpdates(string)           {}

// Assistant metrics
func (Noop) IncChatRequests(string) {}

// Ensure Noop implements core.Metrics
var _ core.Metrics = (*Noop)(nil)
