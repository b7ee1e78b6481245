package tickets

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/notifier"
	"github.com/ChrisB0-2/opsdash/internal/store"
)

const ticketsCSV = `ticket_id,subject,priority,status,category,created_date,assigned_to
TCK-1,Printer jam,Low,open,Hardware,2026-01-05,
TCK-2,VPN down,High,waiting_user,Network,2026-01-06,dana
TCK-3,Password reset,Medium,closed,Access,2026-01-07,lee
`

type recordingAuditor struct {
	mu     sync.Mutex
	events []core.AuditEvent
}

func (a *recordingAuditor) Record(_ context.Context, evt core.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, evt)
}

type recordingNotifier struct {
	payloads []notifier.WebhookPayload
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, p notifier.WebhookPayload) error {
	n.payloads = append(n.payloads, p)
	return n.err
}

type countingMetrics struct {
	core.Metrics
	updates  map[string]int
	byStatus map[string]int
}

func (m *countingMetrics) IncTicketUpdates(status string) { m.updates[status]++ }

func (m *countingMetrics) SetTicketsByStatus(c map[string]int) { m.byStatus = c }

func newTestService(t *testing.T) (*Service, *recordingAuditor, *recordingNotifier, *countingMetrics) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "opsdash.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	aud := &recordingAuditor{}
	nt := &recordingNotifier{}
	m := &countingMetrics{updates: map[string]int{}}
	svc := NewService(Config{Repo: st, Auditor: aud, Notifier: nt, Metrics: m})
	return svc, aud, nt, m
}

func TestService_BootstrapAndBoard(t *testing.T) {
	svc, aud, nt, m := newTestService(t)
	ctx := context.Background()

	res, err := svc.Bootstrap(ctx, strings.NewReader(ticketsCSV), false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Inserted)
	require.Len(t, aud.events, 1)
	assert.Equal(t, core.AuditActionCatalogLoad, aud.events[0].Action)
	require.Len(t, nt.payloads, 1)
	assert.Equal(t, notifier.EventCatalogLoaded, nt.payloads[0].Event)

	board, err := svc.Board(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, Summary{Total: 3, Open: 1, Waiting: 1}, board.Summary)
	assert.Len(t, board.Queue, 2)
	assert.Equal(t, 1, board.More)
	assert.Equal(t, "TCK-1", board.Queue[0].TicketID)
	assert.Equal(t, "Unassigned", board.Queue[0].Assignee)
	assert.Equal(t, map[string]int{"open": 1, "waiting_user": 1, "closed": 1}, m.byStatus)

	// second load without force leaves the table alone
	res, err = svc.Bootstrap(ctx, strings.NewReader(ticketsCSV), false)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Len(t, nt.payloads, 1)
}

func TestService_BootstrapMalformed(t *testing.T) {
	svc, aud, _, _ := newTestService(t)

	_, err := svc.Bootstrap(context.Background(), strings.NewReader("ticket_id,subject\n\"unterminated\n"), false)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMalformedCSV)
	require.Len(t, aud.events, 1)
	assert.Equal(t, "error", aud.events[0].Level)
}

func TestService_Update(t *testing.T) {
	svc, aud, nt, m := newTestService(t)
	ctx := context.Background()
	_, err := svc.Bootstrap(ctx, strings.NewReader(ticketsCSV), false)
	require.NoError(t, err)

	status, assignee := "Closed", "sam"
	got, err := svc.Update(ctx, "alice", 1, store.TicketUpdate{Status: &status, AssignedTo: &assignee})
	require.NoError(t, err)
	assert.Equal(t, "closed", got.Status)
	assert.Equal(t, "sam", got.AssignedTo)
	assert.Equal(t, 1, m.updates["closed"])
	assert.Equal(t, 2, m.byStatus["closed"])

	last := aud.events[len(aud.events)-1]
	assert.Equal(t, core.AuditActionTicketUpdate, last.Action)
	assert.Equal(t, "alice", last.Fields["actor"])
	assert.Equal(t, "open", last.Fields["status_before"])

	p := nt.payloads[len(nt.payloads)-1]
	assert.Equal(t, notifier.EventTicketUpdated, p.Event)
	assert.Equal(t, "sam", p.Details["assignee"])
}

func TestService_UpdateRejectsStatus(t *testing.T) {
	svc, aud, _, _ := newTestService(t)
	bad := "resolved"

	_, err := svc.Update(context.Background(), "alice", 1, store.TicketUpdate{Status: &bad})
	assert.ErrorIs(t, err, core.ErrInvalidStatus)
	assert.Empty(t, aud.events)
}

func TestService_UpdateUnknownTicket(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	st := "open"

	_, err := svc.Update(context.Background(), "alice", 99, store.TicketUpdate{Status: &st})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_NotifierFailureDoesNotFailUpdate(t *testing.T) {
	svc, _, nt, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Bootstrap(ctx, strings.NewReader(ticketsCSV), false)
	require.NoError(t, err)

	nt.err = errors.New("webhook down")
	st := "waiting_user"
	_, err = svc.Update(ctx, "alice", 2, store.TicketUpdate{Status: &st})
	assert.NoError(t, err)
}
