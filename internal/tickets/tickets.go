// Package tickets holds the service-desk view logic: status badges,
// queue and summary counts, and the update workflow over the store.
package tickets

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// Status values accepted by Update.
const (
	StatusOpen        = "open"
	StatusClosed      = "closed"
	StatusWaitingUser = "waiting_user"
)

// ValidStatuses lists the statuses an operator may set.
var ValidStatuses = []string{StatusOpen, StatusClosed, StatusWaitingUser}

// DefaultQueueSize is how many tickets the queue panel shows.
const DefaultQueueSize = 5

// StatusEmoji returns the badge for a status. Matching is by
// case-insensitive substring, checked in open, waiting, closed order.
func StatusEmoji(status string) string {
	s := strings.ToLower(status)
	switch {
	case strings.Contains(s, "open"):
		return "🔴"
	case strings.Contains(s, "waiting"):
		return "🟡"
	case strings.Contains(s, "closed"):
		return "🟢"
	default:
		return "⚪"
	}
}

// IsAssigned reports whether the ticket has a non-empty assignee.
func IsAssigned(t core.Ticket) bool {
	return t.AssignedTo != ""
}

// Summary holds the headline counters.
type Summary struct {
	Total   int `json:"total"`
	Open    int `json:"open"`
	Waiting int `json:"waiting"`
}

// Summarize counts tickets. Open means the status equals "open"
// ignoring case; waiting means it contains "waiting".
func Summarize(ts []core.Ticket) Summary {
	s := Summary{Total: len(ts)}
	for _, t := range ts {
		st := strings.ToLower(t.Status)
		if st == StatusOpen {
			s.Open++
		}
		if strings.Contains(st, "waiting") {
			s.Waiting++
		}
	}
	return s
}

// StatusCount is one bar of the open-status chart.
type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// OpenStatusCounts counts tickets by status, skipping closed ones.
// Ordered by count descending, then status name.
func OpenStatusCounts(ts []core.Ticket) []StatusCount {
	counts := make(map[string]int)
	for _, t := range ts {
		if strings.EqualFold(t.Status, StatusClosed) {
			continue
		}
		counts[t.Status]++
	}

	out := make([]StatusCount, 0, len(counts))
	for st, n := range counts {
		out = append(out, StatusCount{Status: st, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Status < out[j].Status
	})
	return out
}

// StatusHistogram counts every ticket by exact status.
func StatusHistogram(ts []core.Ticket) map[string]int {
	m := make(map[string]int)
	for _, t := range ts {
		m[t.Status]++
	}
	return m
}

// QueueItem is a ticket prepared for the queue panel.
type QueueItem struct {
	core.Ticket
	Emoji    string `json:"emoji"`
	Assignee string `json:"assignee"`
}

// Queue returns the first limit tickets and how many were left out.
// A non-positive limit uses DefaultQueueSize.
func Queue(ts []core.Ticket, limit int) ([]QueueItem, int) {
	if limit <= 0 {
		limit = DefaultQueueSize
	}
	n := min(limit, len(ts))

	items := make([]QueueItem, 0, n)
	for _, t := range ts[:n] {
		assignee := "Unassigned"
		if IsAssigned(t) {
			assignee = t.AssignedTo
		}
		items = append(items, QueueItem{Ticket: t, Emoji: StatusEmoji(t.Status), Assignee: assignee})
	}
	return items, len(ts) - n
}

// NormalizeStatus lowercases and trims s and checks it against
// ValidStatuses.
func NormalizeStatus(s string) (string, error) {
	st := strings.ToLower(strings.TrimSpace(s))
	for _, v := range ValidStatuses {
		if st == v {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of %s)", core.ErrInvalidStatus, s, strings.Join(ValidStatuses, ", "))
}
