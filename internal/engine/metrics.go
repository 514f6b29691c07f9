package engine

import (
	"sort"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// SessionMetrics are on-demand performance statistics for one session.
type SessionMetrics struct {
	SessionID       string  `json:"session_id"`
	SourceApp       string  `json:"source_app"`
	ToolSuccessRate float64 `json:"tool_success_rate"` // percent; 100 when no tool events
	ToolSuccesses   int64   `json:"tool_successes"`
	ToolFailures    int64   `json:"tool_failures"`
	TurnCount       int     `json:"turn_count"`
	AvgTurnSecs     float64 `json:"avg_turn_seconds"`
	MedianTurnSecs  float64 `json:"median_turn_seconds"`
	MaxTurnSecs     float64 `json:"max_turn_seconds"`
	// ActivityHistogram counts events per minute from session start.
	ActivityHistogram []int64 `json:"activity_histogram,omitempty"`
}

// ProjectMetrics are session-weighted averages across one project.
type ProjectMetrics struct {
	Project         string  `json:"project"`
	SessionCount    int     `json:"session_count"`
	ToolSuccessRate float64 `json:"tool_success_rate"`
	AvgTurnSecs     float64 `json:"avg_turn_seconds"`
	MedianTurnSecs  float64 `json:"median_turn_seconds"`
}

// ComputeSessionMetrics derives metrics from a session's full event history.
// A turn spans UserPromptSubmit to the next Stop or Notification; a trailing
// prompt with no pause yet is discarded rather than measured short.
func ComputeSessionMetrics(e *Engine, sessionID, sourceApp string) (*SessionMetrics, error) {
	return ComputeSessionMetricsRange(e, sessionID, sourceApp, time.Time{}, time.Time{})
}

// ComputeSessionMetricsRange restricts the computation to events in [from, to).
// A zero bound leaves that side open; the histogram starts at the first event
// inside the window.
func ComputeSessionMetricsRange(e *Engine, sessionID, sourceApp string, from, to time.Time) (*SessionMetrics, error) {
	events, err := store.SessionEventsRange(e.db, sessionID, sourceApp, from, to)
	if err != nil {
		return nil, err
	}

	m := &SessionMetrics{SessionID: sessionID, SourceApp: sourceApp}
	if len(events) == 0 {
		m.ToolSuccessRate = 100
		return m, nil
	}

	var turnDurations []float64
	var turnStart *time.Time
	start := events[0].Timestamp

	for _, ev := range events {
		switch ev.Type {
		case models.HookPostToolUse:
			m.ToolSuccesses++
		case models.HookPostToolUseFailure:
			m.ToolFailures++
		case models.HookUserPromptSubmit:
			t := ev.Timestamp
			turnStart = &t
		case models.HookStop, models.HookNotification:
			if turnStart != nil {
				turnDurations = append(turnDurations, ev.Timestamp.Sub(*turnStart).Seconds())
				turnStart = nil
			}
		}

		minute := int(ev.Timestamp.Sub(start).Minutes())
		if minute >= 0 {
			for len(m.ActivityHistogram) <= minute {
				m.ActivityHistogram = append(m.ActivityHistogram, 0)
			}
			m.ActivityHistogram[minute]++
		}
	}

	total := m.ToolSuccesses + m.ToolFailures
	if total == 0 {
		m.ToolSuccessRate = 100
	} else {
		m.ToolSuccessRate = float64(m.ToolSuccesses) / float64(total) * 100
	}

	m.TurnCount = len(turnDurations)
	if len(turnDurations) > 0 {
		var sum, max float64
		for _, d := range turnDurations {
			sum += d
			if d > max {
				max = d
			}
		}
		m.AvgTurnSecs = sum / float64(len(turnDurations))
		m.MedianTurnSecs = median(turnDurations)
		m.MaxTurnSecs = max
	}
	return m, nil
}

// ComputeProjectMetrics averages session metrics across a project's recent
// sessions, weighting every session equally.
func ComputeProjectMetrics(e *Engine, project string, sessionLimit int) (*ProjectMetrics, error) {
	return ComputeProjectMetricsRange(e, project, sessionLimit, time.Time{}, time.Time{})
}

// ComputeProjectMetricsRange restricts every per-session computation to
// events in [from, to). A zero bound is open.
func ComputeProjectMetricsRange(e *Engine, project string, sessionLimit int, from, to time.Time) (*ProjectMetrics, error) {
	if sessionLimit <= 0 {
		sessionLimit = 20
	}
	sessions, err := store.SessionsForProject(e.db, project, sessionLimit)
	if err != nil {
		return nil, err
	}

	pm := &ProjectMetrics{Project: project, SessionCount: len(sessions)}
	if len(sessions) == 0 {
		pm.ToolSuccessRate = 100
		return pm, nil
	}

	var rateSum, avgSum, medianSum float64
	for _, s := range sessions {
		sm, err := ComputeSessionMetricsRange(e, s.SessionID, s.SourceApp, from, to)
		if err != nil {
			return nil, err
		}
		rateSum += sm.ToolSuccessRate
		avgSum += sm.AvgTurnSecs
		medianSum += sm.MedianTurnSecs
	}
	n := float64(len(sessions))
	pm.ToolSuccessRate = rateSum / n
	pm.AvgTurnSecs = avgSum / n
	pm.MedianTurnSecs = medianSum / n
	return pm, nil
}

// median implements the standard even/odd sorted-array rule.
func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
