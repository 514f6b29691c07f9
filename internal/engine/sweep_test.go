package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/app"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

func newTestSweeper(e *Engine) *Sweeper {
	return NewSweeper(e, app.SweepSettings{
		IdleAfterMinutes:  2,
		StaleAfterMinutes: 10,
		IntervalSecs:      30,
	})
}

func TestSweepOnceMarksIdleAndStopsStale(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSweeper(e)
	now := time.Now().UTC()

	ingest(t, e, "api", "fresh", models.HookSessionStart, "", now)
	ingest(t, e, "api", "quiet", models.HookSessionStart, "", now.Add(-3*time.Minute))
	ingest(t, e, "api", "dead", models.HookSessionStart, "", now.Add(-30*time.Minute))
	ingest(t, e, "api", "dead", models.HookPostToolUse,
		`{"tool_name":"Edit","tool_input":{"file_path":"auth.go"}}`, now.Add(-29*time.Minute))

	s.SweepOnce()

	assert.Equal(t, models.SessionStatusActive, getSession(t, e, "fresh", "api").Status)
	assert.Equal(t, models.SessionStatusIdle, getSession(t, e, "quiet", "api").Status)
	assert.Equal(t, models.SessionStatusStopped, getSession(t, e, "dead", "api").Status)

	// The stale stop stands in for a missing SessionEnd: one dev log appears.
	logs, err := store.ListDevLogs(e.db, "api", 10)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "dead", logs[0].SessionID)
	assert.Equal(t, []string{"auth.go"}, logs[0].FilesChanged)

	p, err := store.GetProject(e.db, "api")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.ActiveSessions)
}

func TestSweepOnceIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSweeper(e)
	now := time.Now().UTC()

	ingest(t, e, "api", "dead", models.HookSessionStart, "", now.Add(-30*time.Minute))

	s.SweepOnce()
	s.SweepOnce()

	assert.Equal(t, models.SessionStatusStopped, getSession(t, e, "dead", "api").Status)
	logs, err := store.ListDevLogs(e.db, "api", 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestCleanupOnceAppliesRetention(t *testing.T) {
	e := newTestEngine(t)
	s := newTestSweeper(e)
	now := time.Now().UTC()

	e.SetRetention(app.RetentionSettings{
		EventDays:     1,
		SessionDays:   1,
		FileAccessHrs: 1,
		DismissalHrs:  1,
	})

	old := now.AddDate(0, 0, -2)
	ingest(t, e, "api", "ancient", models.HookSessionStart, "", old)
	ingest(t, e, "api", "ancient", models.HookSessionEnd, "", old.Add(time.Minute))
	ingest(t, e, "api", "current", models.HookSessionStart, "", now)

	s.CleanupOnce()

	// Old events and the old stopped session are gone; live data survives.
	events, err := store.SessionEvents(e.db, "ancient", "api")
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = store.GetSession(e.db, "ancient", "api")
	require.ErrorIs(t, err, models.ErrNotFound)

	assert.Equal(t, models.SessionStatusActive, getSession(t, e, "current", "api").Status)
	events, err = store.SessionEvents(e.db, "current", "api")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
