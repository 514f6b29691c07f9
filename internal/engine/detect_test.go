package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

func TestTestCommandRe(t *testing.T) {
	matches := []string{
		"go test ./...",
		"npm test",
		"npm run test -- --watch",
		"pnpm test",
		"yarn run test",
		"pytest -x tests/",
		"cargo test --release",
		"npx vitest run",
	}
	for _, cmd := range matches {
		assert.True(t, testCommandRe.MatchString(cmd), cmd)
	}

	misses := []string{
		"go build ./...",
		"npm install",
		"cat test.txt",
		"echo contest",
	}
	for _, cmd := range misses {
		assert.False(t, testCommandRe.MatchString(cmd), cmd)
	}
}

func TestClassifyTestOutcome(t *testing.T) {
	fail := &models.Event{Type: models.HookPostToolUseFailure}
	status, summary := classifyTestOutcome(fail, models.EventPayload{})
	assert.Equal(t, models.TestStatusFailing, status)
	assert.NotEmpty(t, summary)

	post := &models.Event{Type: models.HookPostToolUse}

	p, err := models.DecodePayload([]byte(`{"tool_name":"Bash","tool_response":"--- FAIL: TestLogin (0.01s)\nFAIL"}`))
	require.NoError(t, err)
	status, summary = classifyTestOutcome(post, p)
	assert.Equal(t, models.TestStatusFailing, status)
	assert.Equal(t, "--- FAIL: TestLogin (0.01s)", summary)

	p, err = models.DecodePayload([]byte(`{"tool_name":"Bash","tool_response":"12 tests passed"}`))
	require.NoError(t, err)
	status, summary = classifyTestOutcome(post, p)
	assert.Equal(t, models.TestStatusPassing, status)
	assert.Equal(t, "12 tests passed", summary)

	p, err = models.DecodePayload([]byte(`{"tool_name":"Bash","tool_response":"compiling..."}`))
	require.NoError(t, err)
	status, _ = classifyTestOutcome(post, p)
	assert.Equal(t, models.TestStatusUnknown, status)
}

func TestDetectDevServer(t *testing.T) {
	server, ok := detectDevServer("npx next dev")
	require.True(t, ok)
	assert.Equal(t, models.DevServer{Port: 3000, Type: "next"}, server)

	server, ok = detectDevServer("next dev --port 4000")
	require.True(t, ok)
	assert.Equal(t, 4000, server.Port)

	server, ok = detectDevServer("flask run -p 5005")
	require.True(t, ok)
	assert.Equal(t, models.DevServer{Port: 5005, Type: "flask"}, server)

	server, ok = detectDevServer("uvicorn app:main --port=9000")
	require.True(t, ok)
	assert.Equal(t, 9000, server.Port)

	_, ok = detectDevServer("ls -la")
	assert.False(t, ok)
}

func TestDetectSignalsEndToEnd(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()

	ingest(t, e, "api", "sess-1", models.HookSessionStart, "", now)

	// A passing test run on PostToolUse updates the project.
	ingest(t, e, "api", "sess-1", models.HookPostToolUse,
		`{"tool_name":"Bash","tool_input":{"command":"go test ./..."},"tool_response":"ok  \tgithub.com/x/api\t0.2s"}`, now)
	p, err := store.GetProject(e.db, "api")
	require.NoError(t, err)
	assert.Equal(t, models.TestStatusPassing, p.TestStatus)

	// The pre event must not classify: no tool response exists yet.
	ingest(t, e, "api", "sess-1", models.HookPreToolUse,
		`{"tool_name":"Bash","tool_input":{"command":"go test ./..."}}`, now)
	p, err = store.GetProject(e.db, "api")
	require.NoError(t, err)
	assert.Equal(t, models.TestStatusPassing, p.TestStatus)

	// Dev server launches merge by port.
	ingest(t, e, "api", "sess-1", models.HookPostToolUse,
		`{"tool_name":"Bash","tool_input":{"command":"npm run dev"}}`, now)
	ingest(t, e, "api", "sess-1", models.HookPostToolUse,
		`{"tool_name":"Bash","tool_input":{"command":"next dev --port 3000"}}`, now)
	ingest(t, e, "api", "sess-1", models.HookPostToolUse,
		`{"tool_name":"Bash","tool_input":{"command":"vite --port 5173"}}`, now)

	p, err = store.GetProject(e.db, "api")
	require.NoError(t, err)
	require.Len(t, p.DevServers, 2)
	assert.Equal(t, models.DevServer{Port: 3000, Type: "next"}, p.DevServers[0])
	assert.Equal(t, models.DevServer{Port: 5173, Type: "vite"}, p.DevServers[1])
}
