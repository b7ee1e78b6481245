package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisB0-2/opsdash/internal/archiver"
	"github.com/ChrisB0-2/opsdash/internal/assistant"
	"github.com/ChrisB0-2/opsdash/internal/auditor"
	"github.com/ChrisB0-2/opsdash/internal/auth"
	"github.com/ChrisB0-2/opsdash/internal/catalog"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/metrics"
	"github.com/ChrisB0-2/opsdash/internal/safety"
	"github.com/ChrisB0-2/opsdash/internal/store"
	"github.com/ChrisB0-2/opsdash/internal/tickets"
)

const ticketsCSV = `ticket_id,subject,priority,status,category,created_date,assigned_to
TCK-1,Printer jam,Low,open,Hardware,2026-01-05,
TCK-2,VPN down,High,waiting_user,Network,2026-01-06,dana
TCK-3,Password reset,Medium,closed,Access,2026-01-07,lee
`

func catalogCSV() string {
	recent := time.Now().AddDate(0, 0, -10).Format("2006-01-02")
	return "dataset_name,source,category,file_size_mb,record_count,last_updated\n" +
		"clicks_2019,web,analytics,2048,5000000,2019-03-01\n" +
		"ledger_2018,finance,accounting,512,20000,2018-12-31\n" +
		"orders_live,web,sales,300,90000," + recent + "\n" +
		"scratch_dump,ops,misc,4096,10," + recent + "\n" +
		"never_touched,ops,misc,1,5,\n"
}

type fakeChat struct {
	configured bool
	deltas     []string
	err        error
}

func (f *fakeChat) Configured() bool { return f.configured }

func (f *fakeChat) Stream(_ context.Context, _, _ string, _ []assistant.Message) (<-chan string, <-chan error) {
	content := make(chan string, len(f.deltas))
	errc := make(chan error, 1)
	for _, d := range f.deltas {
		content <- d
	}
	close(content)
	if f.err != nil {
		errc <- f.err
	}
	close(errc)
	return content, errc
}

type testEnv struct {
	handler http.Handler
	store   *store.Store
	audit   *auditor.SQLiteAuditor
}

type option func(*Config)

func newTestEnv(t *testing.T, opts ...option) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(store.Config{Path: filepath.Join(dir, "opsdash.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	aud, err := auditor.NewSQLite(auditor.SQLiteConfig{Path: filepath.Join(dir, "audit.db")})
	require.NoError(t, err)
	t.Cleanup(func() { aud.Close() })

	cfg := Config{
		Catalog:  catalog.NewService(catalog.Config{Repo: st, Auditor: aud}),
		Tickets:  tickets.NewService(tickets.Config{Repo: st, Auditor: aud}),
		Archiver: archiver.New(st, safety.New(), safety.Config{ProtectedSources: []string{"finance"}}).WithAuditor(aud),
		Audit:    aud,
		Users:    st,
		Static:   fstest.MapFS{"index.html": {Data: []byte("<h1>opsdash</h1>")}},
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &testEnv{handler: New(cfg).Handler(), store: st, audit: aud}
}

func (e *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rd)
	req = req.WithContext(auth.ContextWithIdentity(req.Context(), &auth.Identity{Name: "dana", Role: auth.RoleAdmin}))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := map[string]any{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *testEnv) seed(t *testing.T) {
	t.Helper()
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/api/tickets/load", ticketsCSV).Code)
	require.Equal(t, http.StatusOK, e.do(t, "POST", "/api/datasets/load", catalogCSV()).Code)
}

func TestTicketBoardAndUpdate(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec := env.do(t, "GET", "/api/tickets?queue=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	board := decode(t, rec)
	summary := board["summary"].(map[string]any)
	assert.EqualValues(t, 3, summary["total"])
	assert.EqualValues(t, 1, summary["open"])
	assert.EqualValues(t, 1, summary["waiting"])
	assert.Len(t, board["queue"], 2)
	assert.EqualValues(t, 1, board["more"])

	rec = env.do(t, "PATCH", "/api/tickets/1", map[string]string{"status": "Closed", "assigned_to": "lee"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode(t, rec)
	assert.Equal(t, "closed", got["status"])
	assert.Equal(t, "lee", got["assigned_to"])

	recs, err := env.audit.Query(context.Background(), auditor.QueryFilter{Action: core.AuditActionTicketUpdate})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "dana", recs[0].Actor)
}

func TestTicketUpdateErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	tests := []struct {
		name   string
		target string
		body   any
		want   int
	}{
		{"invalid status", "/api/tickets/1", map[string]string{"status": "resolved"}, http.StatusBadRequest},
		{"unknown id", "/api/tickets/99", map[string]string{"status": "open"}, http.StatusNotFound},
		{"bad id", "/api/tickets/abc", map[string]string{"status": "open"}, http.StatusBadRequest},
		{"empty patch", "/api/tickets/1", map[string]string{}, http.StatusBadRequest},
		{"bad json", "/api/tickets/1", "{", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, "PATCH", tt.target, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["error"])
		})
	}
}

func TestTicketLoadSkipsWithoutForce(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec := env.do(t, "POST", "/api/tickets/load", ticketsCSV)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["skipped"])

	rec = env.do(t, "POST", "/api/tickets/load?force=true", ticketsCSV)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode(t, rec)
	assert.EqualValues(t, 3, res["inserted"])
	assert.EqualValues(t, 3, res["replaced"])
}

func TestDatasetLoadMultipartAndFilter(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "datasets.csv")
	require.NoError(t, err)
	_, _ = fw.Write([]byte(catalogCSV()))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/api/datasets/load", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 5, decode(t, rec)["inserted"])

	rec = env.do(t, "GET", "/api/datasets?source=web,ops&category=misc", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["datasets"], 2)
	assert.EqualValues(t, 2, body["summary"].(map[string]any)["total_datasets"])
}

func TestDatasetLoadMalformed(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/datasets/load", "dataset_name,source\n\"oops,erp\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDatasetExport(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec := env.do(t, "GET", "/api/datasets/export.csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Len(t, strings.Split(strings.TrimSpace(rec.Body.String()), "\n"), 6)
}

func TestArchiveRecommendations(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec := env.do(t, "GET", "/api/governance/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 5, body["evaluated"])
	assert.EqualValues(t, 4, body["count"])

	cands := body["candidates"].([]any)
	var names []string
	for _, c := range cands {
		names = append(names, c.(map[string]any)["dataset_name"].(string))
	}
	assert.Equal(t, []string{"scratch_dump", "clicks_2019", "ledger_2018", "never_touched"}, names)

	recs := body["recommendations"].([]any)
	require.Len(t, recs, 3)
	assert.Contains(t, recs[0], "source ops")

	// Only the never-updated dataset survives the widest thresholds.
	rec = env.do(t, "GET", "/api/governance/archive?age_days=3650&size_mb=100000&min_rows=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["count"])
}

type gaugeRecorder struct {
	metrics.Noop
	totals     []int
	candidates []int
}

func (g *gaugeRecorder) SetDatasetsTotal(n int) { g.totals = append(g.totals, n) }

func (g *gaugeRecorder) SetArchiveCandidates(n int, _ float64) {
	g.candidates = append(g.candidates, n)
}

func TestArchiveFilterLeavesCatalogGauges(t *testing.T) {
	g := &gaugeRecorder{}
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "opsdash.db")})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cat := catalog.NewService(catalog.Config{Repo: st, Metrics: g})
	env := &testEnv{handler: New(Config{
		Catalog: cat,
		Tickets: tickets.NewService(tickets.Config{Repo: st, Metrics: g}),
	}).Handler(), store: st}
	env.seed(t)

	rec := env.do(t, "GET", "/api/governance/archive?source=finance", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, decode(t, rec)["count"])

	rec = env.do(t, "GET", "/api/datasets?category=misc", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NotEmpty(t, g.totals)
	for _, n := range g.totals {
		assert.Equal(t, 5, n, "datasets gauge must track the whole catalog")
	}
	assert.Empty(t, g.candidates, "browser requests must not publish the sweep gauge")
}

func TestArchiveInvalidThresholds(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	for _, q := range []string{"age_days=10", "size_mb=abc", "min_rows=-1", "age_days=4000&size_mb=0"} {
		rec := env.do(t, "GET", "/api/governance/archive?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.Contains(t, decode(t, rec)["error"], "invalid threshold", q)
	}
}

func TestArchiveCSV(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec := env.do(t, "GET", "/api/governance/archive.csv?source=web", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `attachment; filename="archive_candidates.csv"`, rec.Header().Get("Content-Disposition"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "dataset_name,source,category,size_mb,rows,age_days,last_updated", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "clicks_2019,web,"))
}

func TestArchiveApply(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec := env.do(t, "POST", "/api/governance/archive/apply", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dry := decode(t, rec)
	assert.Equal(t, "dry-run", dry["mode"])
	assert.EqualValues(t, 3, dry["would_archive"])
	assert.EqualValues(t, 1, dry["denied"])

	rec = env.do(t, "POST", "/api/governance/archive/apply?mode=execute", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exec := decode(t, rec)
	assert.EqualValues(t, 3, exec["archived"])
	assert.EqualValues(t, 1, exec["denied"])

	rec = env.do(t, "POST", "/api/governance/archive/apply?mode=execute", nil)
	again := decode(t, rec)
	assert.EqualValues(t, 0, again["archived"])
	assert.EqualValues(t, 3, again["skipped"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/governance/archive/apply?mode=yolo", nil).Code)
}

func TestArchiveApplyWithoutArchiver(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Archiver = nil })
	rec := env.do(t, "POST", "/api/governance/archive/apply", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestChatStreams(t *testing.T) {
	chat := &fakeChat{configured: true, deltas: []string{"Hello", ", ", "world"}}
	env := newTestEnv(t, func(c *Config) { c.Assistant = chat })

	rec := env.do(t, "POST", "/api/chat", map[string]any{"prompt": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "data: \"Hello\"\n\ndata: \", \"\n\ndata: \"world\"\n\ndata: [DONE]\n\n", rec.Body.String())
}

func TestChatErrors(t *testing.T) {
	tests := []struct {
		name string
		chat Chatter
		body any
		want int
	}{
		{"unset", nil, map[string]any{"prompt": "hi"}, http.StatusServiceUnavailable},
		{"no key", &fakeChat{}, map[string]any{"prompt": "hi"}, http.StatusServiceUnavailable},
		{"blank prompt", &fakeChat{configured: true}, map[string]any{"prompt": "  "}, http.StatusBadRequest},
		{"upstream status", &fakeChat{configured: true, err: &assistant.StatusError{StatusCode: 429, Body: "slow down"}}, map[string]any{"prompt": "hi"}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, func(c *Config) { c.Assistant = tt.chat })
			rec := env.do(t, "POST", "/api/chat", tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestChatMidStreamError(t *testing.T) {
	chat := &fakeChat{configured: true, deltas: []string{"partial"}, err: fmt.Errorf("chat API error: overloaded")}
	env := newTestEnv(t, func(c *Config) { c.Assistant = chat })

	rec := env.do(t, "POST", "/api/chat", map[string]any{"prompt": "hi"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "data: \"partial\"\n\n")
	assert.Contains(t, body, "event: error\ndata: {\"error\":\"chat API error: overloaded\"}")
	assert.NotContains(t, body, "[DONE]")
}

func TestAuditEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t)

	rec := env.do(t, "GET", "/api/audit?action=catalog_load&limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["count"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/audit?limit=zero", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "GET", "/api/audit?since=yesterday", nil).Code)

	rec = env.do(t, "GET", "/api/audit/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["total_records"])

	bare := newTestEnv(t, func(c *Config) { c.Audit = nil })
	assert.Equal(t, http.StatusServiceUnavailable, bare.do(t, "GET", "/api/audit", nil).Code)
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "POST", "/api/users", map[string]string{"username": "ops", "password": "correct horse", "role": "Operator"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotContains(t, rec.Body.String(), "$2a$")
	assert.Equal(t, "operator", decode(t, rec)["role"])

	u, err := env.store.GetUser(context.Background(), "ops")
	require.NoError(t, err)
	assert.True(t, auth.VerifyPassword(u.PasswordHash, "correct horse"))

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"duplicate", map[string]string{"username": "ops", "password": "correct horse"}, http.StatusConflict},
		{"weak password", map[string]string{"username": "new", "password": "short"}, http.StatusBadRequest},
		{"bad role", map[string]string{"username": "new", "password": "long enough", "role": "root"}, http.StatusBadRequest},
		{"no name", map[string]string{"password": "long enough"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, env.do(t, "POST", "/api/users", tt.body).Code)
		})
	}

	rec = env.do(t, "GET", "/api/users", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["users"], 1)
}

func TestRequestIDAndFallbacks(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, "GET", "/api/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/api/tickets", nil)
	req.Header.Set("X-Request-ID", "req-42")
	out := httptest.NewRecorder()
	env.handler.ServeHTTP(out, req)
	assert.Equal(t, "req-42", out.Header().Get("X-Request-ID"))

	rec = env.do(t, "GET", "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "opsdash")
}
