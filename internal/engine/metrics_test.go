package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

func TestComputeSessionMetricsTurns(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC().Truncate(time.Second)

	ingest(t, e, "api", "sess-1", models.HookSessionStart, "", now)
	ingest(t, e, "api", "sess-1", models.HookUserPromptSubmit, `{"prompt":"one"}`, now.Add(10*time.Second))
	ingest(t, e, "api", "sess-1", models.HookStop, "", now.Add(40*time.Second))
	ingest(t, e, "api", "sess-1", models.HookUserPromptSubmit, `{"prompt":"two"}`, now.Add(60*time.Second))
	ingest(t, e, "api", "sess-1", models.HookNotification, `{"message":"waiting"}`, now.Add(70*time.Second))
	// Trailing prompt with no pause yet must not count as a turn.
	ingest(t, e, "api", "sess-1", models.HookUserPromptSubmit, `{"prompt":"three"}`, now.Add(80*time.Second))

	m, err := ComputeSessionMetrics(e, "sess-1", "api")
	require.NoError(t, err)
	assert.Equal(t, 2, m.TurnCount)
	assert.InDelta(t, 20.0, m.AvgTurnSecs, 0.001)
	assert.InDelta(t, 20.0, m.MedianTurnSecs, 0.001)
	assert.InDelta(t, 30.0, m.MaxTurnSecs, 0.001)
}

func TestComputeSessionMetricsSuccessRate(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()

	ingest(t, e, "api", "sess-1", models.HookSessionStart, "", now)
	for i := 0; i < 3; i++ {
		ingest(t, e, "api", "sess-1", models.HookPostToolUse, `{"tool_name":"Bash"}`, now)
	}
	ingest(t, e, "api", "sess-1", models.HookPostToolUseFailure, `{"tool_name":"Bash"}`, now)

	m, err := ComputeSessionMetrics(e, "sess-1", "api")
	require.NoError(t, err)
	assert.InDelta(t, 75.0, m.ToolSuccessRate, 0.001)
	assert.Equal(t, int64(3), m.ToolSuccesses)
	assert.Equal(t, int64(1), m.ToolFailures)
}

func TestComputeSessionMetricsNoToolEventsIsPerfect(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()

	ingest(t, e, "api", "sess-1", models.HookSessionStart, "", now)

	m, err := ComputeSessionMetrics(e, "sess-1", "api")
	require.NoError(t, err)
	assert.Equal(t, 100.0, m.ToolSuccessRate)
	assert.Zero(t, m.TurnCount)

	// No events at all behaves the same.
	empty, err := ComputeSessionMetrics(e, "ghost", "api")
	require.NoError(t, err)
	assert.Equal(t, 100.0, empty.ToolSuccessRate)
}

func TestComputeSessionMetricsHistogram(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC().Truncate(time.Minute)

	ingest(t, e, "api", "sess-1", models.HookSessionStart, "", now)
	ingest(t, e, "api", "sess-1", models.HookPostToolUse, `{"tool_name":"Bash"}`, now.Add(30*time.Second))
	ingest(t, e, "api", "sess-1", models.HookPostToolUse, `{"tool_name":"Bash"}`, now.Add(2*time.Minute))

	m, err := ComputeSessionMetrics(e, "sess-1", "api")
	require.NoError(t, err)
	require.Len(t, m.ActivityHistogram, 3)
	assert.Equal(t, []int64{2, 0, 1}, m.ActivityHistogram)
}

func TestComputeSessionMetricsRange(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC().Truncate(time.Second)

	// Day one: a failure. Day two: two successes.
	ingest(t, e, "api", "sess-1", models.HookSessionStart, "", now.Add(-48*time.Hour))
	ingest(t, e, "api", "sess-1", models.HookPostToolUseFailure, `{"tool_name":"Bash"}`, now.Add(-48*time.Hour))
	ingest(t, e, "api", "sess-1", models.HookPostToolUse, `{"tool_name":"Bash"}`, now)
	ingest(t, e, "api", "sess-1", models.HookPostToolUse, `{"tool_name":"Bash"}`, now)

	// Unbounded sees all three tool events.
	m, err := ComputeSessionMetricsRange(e, "sess-1", "api", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.ToolSuccesses)
	assert.Equal(t, int64(1), m.ToolFailures)

	// A window starting after the failure excludes it.
	m, err = ComputeSessionMetricsRange(e, "sess-1", "api", now.Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), m.ToolSuccesses)
	assert.Zero(t, m.ToolFailures)
	assert.Equal(t, 100.0, m.ToolSuccessRate)

	// An upper bound before the successes sees only the failure.
	m, err = ComputeSessionMetricsRange(e, "sess-1", "api", time.Time{}, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, m.ToolSuccesses)
	assert.Equal(t, int64(1), m.ToolFailures)

	pm, err := ComputeProjectMetricsRange(e, "api", 0, now.Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, pm.ToolSuccessRate)
}

func TestComputeProjectMetricsAverages(t *testing.T) {
	e := newTestEngine(t)
	now := time.Now().UTC()

	// sess-1: 100% success. sess-2: 50%.
	ingest(t, e, "api", "sess-1", models.HookSessionStart, "", now)
	ingest(t, e, "api", "sess-1", models.HookPostToolUse, `{"tool_name":"Bash"}`, now)
	ingest(t, e, "api", "sess-2", models.HookSessionStart, "", now)
	ingest(t, e, "api", "sess-2", models.HookPostToolUse, `{"tool_name":"Bash"}`, now)
	ingest(t, e, "api", "sess-2", models.HookPostToolUseFailure, `{"tool_name":"Bash"}`, now)

	pm, err := ComputeProjectMetrics(e, "api", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, pm.SessionCount)
	assert.InDelta(t, 75.0, pm.ToolSuccessRate, 0.001)
}

func TestComputeProjectMetricsEmptyProject(t *testing.T) {
	e := newTestEngine(t)

	pm, err := ComputeProjectMetrics(e, "ghost", 0)
	require.NoError(t, err)
	assert.Zero(t, pm.SessionCount)
	assert.Equal(t, 100.0, pm.ToolSuccessRate)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 0.0, median(nil))
	assert.Equal(t, 4.0, median([]float64{4}))
	assert.Equal(t, 3.0, median([]float64{5, 1, 3}))
	assert.Equal(t, 2.5, median([]float64{4, 1, 2, 3}))
}
