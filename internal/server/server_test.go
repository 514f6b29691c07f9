package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/app"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/engine"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/output"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	db, err := store.InitDBWithPath(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return New(engine.New(db), nil)
}

// doJSON runs one request through the full middleware chain and decodes the
// response envelope.
func doJSON(t *testing.T, s *Server, method, path, body string) (int, output.Response) {
	t.Helper()

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var resp output.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func ingestHTTP(t *testing.T, s *Server, sourceApp, sessionID, evType, payload string) {
	t.Helper()
	if payload == "" {
		payload = "{}"
	}
	body := fmt.Sprintf(`{"source_app":%q,"session_id":%q,"hook_event_type":%q,"payload":%s}`,
		sourceApp, sessionID, evType, payload)
	code, resp := doJSON(t, s, http.MethodPost, "/events", body)
	require.Equal(t, http.StatusAccepted, code)
	require.True(t, resp.Success)
}

func TestIngestAndQueryRoundTrip(t *testing.T) {
	s := newTestServer(t)

	ingestHTTP(t, s, "api", "sess-1", "SessionStart", `{"cwd":"/tmp/api"}`)
	ingestHTTP(t, s, "api", "sess-1", "PostToolUse", `{"tool_name":"Bash"}`)

	code, resp := doJSON(t, s, http.MethodGet, "/projects", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)

	projects, ok := resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, projects, 1)

	code, resp = doJSON(t, s, http.MethodGet, "/projects/api", "")
	require.Equal(t, http.StatusOK, code)
	detail, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, detail, "project")

	code, resp = doJSON(t, s, http.MethodGet, "/sessions", "")
	require.Equal(t, http.StatusOK, code)
	sessions, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, sessions, 1)

	code, resp = doJSON(t, s, http.MethodGet, "/sessions/api/sess-1/cost", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)

	code, resp = doJSON(t, s, http.MethodGet, "/sessions/api/sess-1/metrics", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)
}

func TestIngestRejectsInvalid(t *testing.T) {
	s := newTestServer(t)

	code, resp := doJSON(t, s, http.MethodPost, "/events", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)

	code, _ = doJSON(t, s, http.MethodPost, "/events",
		`{"source_app":"api","session_id":"s","hook_event_type":"Bogus","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, s, http.MethodPost, "/events",
		`{"source_app":"","session_id":"s","hook_event_type":"Stop","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestProjectDetailNotFound(t *testing.T) {
	s := newTestServer(t)

	code, resp := doJSON(t, s, http.MethodGet, "/projects/ghost", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
}

func TestQueryParameterValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		method, path string
	}{
		{http.MethodGet, "/summary/daily/not-a-date"},
		{http.MethodGet, "/summary/daily/2026-13-45"},
		{http.MethodGet, "/summary/weekly/2026-08"},
		{http.MethodGet, "/summary/weekly/2026-W54"},
		{http.MethodGet, "/search"},
		{http.MethodGet, "/search?q=x&type=bogus"},
		{http.MethodGet, "/search?q=x&limit=9999"},
		{http.MethodGet, "/heatmap?days=400"},
		{http.MethodGet, "/heatmap?days=abc"},
		{http.MethodGet, "/sessions?stopped_minutes=-1"},
		{http.MethodGet, "/devlogs?limit=0"},
		{http.MethodGet, "/conflicts?window_minutes=nope"},
		{http.MethodGet, "/sessions/api/s/metrics?from=yesterday"},
		{http.MethodGet, "/sessions/api/s/metrics?to=2026-13-01"},
		{http.MethodGet, "/projects/api/metrics?from=2026-02-10&to=2026-02-01"},
		{http.MethodGet, "/events/recent?limit=nope"},
		{http.MethodGet, "/events/recent?limit=501"},
	}
	for _, tc := range cases {
		code, resp := doJSON(t, s, tc.method, tc.path, "")
		assert.Equal(t, http.StatusBadRequest, code, tc.path)
		assert.False(t, resp.Success, tc.path)
	}
}

func TestMetricsDateRangeFiltersEvents(t *testing.T) {
	s := newTestServer(t)

	post := func(day, evType, payload string) {
		t.Helper()
		body := fmt.Sprintf(`{"source_app":"api","session_id":"sess-1","hook_event_type":%q,"payload":%s,"timestamp":%q}`,
			evType, payload, day+"T12:00:00Z")
		code, resp := doJSON(t, s, http.MethodPost, "/events", body)
		require.Equal(t, http.StatusAccepted, code)
		require.True(t, resp.Success)
	}
	post("2026-01-05", "SessionStart", "{}")
	post("2026-01-05", "PostToolUseFailure", `{"tool_name":"Bash"}`)
	post("2026-01-07", "PostToolUse", `{"tool_name":"Bash"}`)
	post("2026-01-07", "PostToolUse", `{"tool_name":"Bash"}`)

	rate := func(path string) float64 {
		t.Helper()
		code, resp := doJSON(t, s, http.MethodGet, path, "")
		require.Equal(t, http.StatusOK, code)
		m, ok := resp.Data.(map[string]interface{})
		require.True(t, ok)
		return m["tool_success_rate"].(float64)
	}

	// Unbounded: 2 successes, 1 failure.
	assert.InDelta(t, 66.666, rate("/sessions/api/sess-1/metrics"), 0.01)
	// From the second day on, the failure is out of the window.
	assert.Equal(t, 100.0, rate("/sessions/api/sess-1/metrics?from=2026-01-07"))
	// "to" is inclusive, so the first day alone sees only the failure.
	assert.Equal(t, 0.0, rate("/sessions/api/sess-1/metrics?from=2026-01-05&to=2026-01-05"))
	assert.Equal(t, 100.0, rate("/projects/api/metrics?from=2026-01-07"))
}

func TestTopologyEndpoints(t *testing.T) {
	s := newTestServer(t)

	ingestHTTP(t, s, "api", "sess-1", "SessionStart", "")
	ingestHTTP(t, s, "api", "sess-1", "SubagentStart", `{"agent_id":"api:child-1"}`)
	ingestHTTP(t, s, "web", "sess-2", "SessionStart", "")
	ingestHTTP(t, s, "web", "sess-2", "SubagentStart", `{"agent_id":"web:child-2"}`)

	code, resp := doJSON(t, s, http.MethodGet, "/topology", "")
	require.Equal(t, http.StatusOK, code)
	nodes, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, nodes, 2)

	code, resp = doJSON(t, s, http.MethodGet, "/projects/api/topology", "")
	require.Equal(t, http.StatusOK, code)
	nodes, ok = resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, nodes, 1)
	node, ok := nodes[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "api:child-1", node["id"])
}

func TestRecentEventsEndpoint(t *testing.T) {
	s := newTestServer(t)

	ingestHTTP(t, s, "api", "sess-1", "SessionStart", "")
	ingestHTTP(t, s, "api", "sess-1", "Stop", "")
	ingestHTTP(t, s, "web", "sess-2", "SessionStart", "")

	code, resp := doJSON(t, s, http.MethodGet, "/events/recent", "")
	require.Equal(t, http.StatusOK, code)
	events, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, events, 3)

	code, resp = doJSON(t, s, http.MethodGet, "/events/recent?project=api", "")
	require.Equal(t, http.StatusOK, code)
	events, ok = resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, events, 2)

	// Newest first when limited.
	code, resp = doJSON(t, s, http.MethodGet, "/events/recent?limit=1", "")
	require.Equal(t, http.StatusOK, code)
	events, ok = resp.Data.([]interface{})
	require.True(t, ok)
	require.Len(t, events, 1)
	ev, ok := events[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "web", ev["source_app"])
}

func TestSummaryEndpoints(t *testing.T) {
	s := newTestServer(t)
	ingestHTTP(t, s, "api", "sess-1", "SessionStart", "")

	today := time.Now().UTC().Format("2006-01-02")
	code, resp := doJSON(t, s, http.MethodGet, "/summary/daily/"+today, "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)

	year, week := time.Now().UTC().ISOWeek()
	code, resp = doJSON(t, s, http.MethodGet, fmt.Sprintf("/summary/weekly/%d-W%02d", year, week), "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)
}

func TestIsoWeekStart(t *testing.T) {
	// 2026-01-04 is a Sunday, so week 1 starts Monday 2025-12-29.
	assert.Equal(t, time.Date(2025, 12, 29, 0, 0, 0, 0, time.UTC), isoWeekStart(2026, 1))
	// Week 10 of 2026 starts Monday 2026-03-02.
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), isoWeekStart(2026, 10))

	// Round-trip against the standard library for a spread of dates.
	for _, d := range []time.Time{
		time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 12, 28, 0, 0, 0, 0, time.UTC),
	} {
		year, week := d.ISOWeek()
		start := isoWeekStart(year, week)
		assert.False(t, d.Before(start), d)
		assert.True(t, d.Before(start.AddDate(0, 0, 7)), d)
	}
}

func TestSearchEndpoint(t *testing.T) {
	s := newTestServer(t)
	ingestHTTP(t, s, "api", "sess-1", "SessionStart", "")
	ingestHTTP(t, s, "api", "sess-1", "UserPromptSubmit", `{"prompt":"fix login flow"}`)

	code, resp := doJSON(t, s, http.MethodGet, "/search?q=login&type=sessions", "")
	require.Equal(t, http.StatusOK, code)
	results, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, results, "sessions")
}

func TestWebhookEndpoints(t *testing.T) {
	s := newTestServer(t)

	// Private targets are refused at creation time.
	code, _ := doJSON(t, s, http.MethodPost, "/webhooks", `{"url":"http://10.0.0.5/hook"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := doJSON(t, s, http.MethodPost, "/webhooks",
		`{"url":"http://localhost:9999/hook","secret":"s3cret","events":["event"]}`)
	require.Equal(t, http.StatusCreated, code)
	created, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	id, _ := created["id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, true, created["active"])

	code, resp = doJSON(t, s, http.MethodGet, "/webhooks", "")
	require.Equal(t, http.StatusOK, code)
	list, ok := resp.Data.([]interface{})
	require.True(t, ok)
	assert.Len(t, list, 1)

	code, resp = doJSON(t, s, http.MethodPut, "/webhooks/"+id,
		`{"url":"http://localhost:9999/hook2","active":false}`)
	require.Equal(t, http.StatusOK, code)
	updated, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9999/hook2", updated["url"])
	assert.Equal(t, false, updated["active"])

	code, _ = doJSON(t, s, http.MethodPut, "/webhooks/ghost", `{"url":"http://localhost/h"}`)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = doJSON(t, s, http.MethodPost, "/webhooks/"+id+"/test", "")
	assert.Equal(t, http.StatusAccepted, code)

	code, _ = doJSON(t, s, http.MethodDelete, "/webhooks/"+id, "")
	assert.Equal(t, http.StatusOK, code)

	code, _ = doJSON(t, s, http.MethodDelete, "/webhooks/"+id, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRetentionEndpoint(t *testing.T) {
	s := newTestServer(t)

	code, resp := doJSON(t, s, http.MethodPut, "/settings/retention", `{"event_days":5}`)
	require.Equal(t, http.StatusOK, code)
	got, ok := resp.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(5), got["event_days"])
	assert.Equal(t, 5, s.engine.Retention().EventDays)
	// Unspecified fields keep their current values.
	assert.Equal(t, app.EffectiveRetentionSettings().SessionDays, s.engine.Retention().SessionDays)

	code, _ = doJSON(t, s, http.MethodPut, "/settings/retention", `{"session_days":0}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doJSON(t, s, http.MethodPut, "/settings/retention", "{not json")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCleanupEndpoint(t *testing.T) {
	// Without a sweeper the endpoint reports unavailable.
	s := newTestServer(t)
	code, _ := doJSON(t, s, http.MethodPost, "/cleanup", "")
	assert.Equal(t, http.StatusBadRequest, code)

	db, err := store.InitDBWithPath(t.TempDir() + "/test.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e := engine.New(db)
	withSweeper := New(e, engine.NewSweeper(e, app.EffectiveSweepSettings()))

	code, resp := doJSON(t, withSweeper, http.MethodPost, "/cleanup", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)
}

func TestDismissConflictEndpoint(t *testing.T) {
	s := newTestServer(t)

	code, resp := doJSON(t, s, http.MethodPost, "/conflicts/package.json:api,web/dismiss", "")
	require.Equal(t, http.StatusOK, code)
	require.True(t, resp.Success)
}

func TestReportRendersHTML(t *testing.T) {
	s := newTestServer(t)
	ingestHTTP(t, s, "api", "sess-1", "SessionStart", `{"cwd":"/tmp/api"}`)

	req := httptest.NewRequest(http.MethodGet, "/report", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<html")
	assert.Contains(t, rec.Body.String(), "api")
}

func TestHealthzEndpoint(t *testing.T) {
	s := newTestServer(t)

	code, resp := doJSON(t, s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, resp.Success)
}

func TestStreamDeliversEvents(t *testing.T) {
	s := newTestServer(t)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Publish once the subscription is registered.
	require.Eventually(t, func() bool { return s.hub.SubscriberCount() == 1 },
		5*time.Second, 10*time.Millisecond)
	s.hub.Publish(map[string]string{"id": "evt-1"})

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			assert.JSONEq(t, `{"id":"evt-1"}`, strings.TrimPrefix(line, "data: "))
			return
		}
	}
	t.Fatal("no data frame before stream closed")
}
