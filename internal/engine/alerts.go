package engine

import (
	"fmt"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// ScanAlerts runs the stateless anomaly scan over current sessions and the
// event log. All thresholds are strict greater-than: a session sitting at
// exactly the threshold does not alert. IDs are deterministic
// ("type-session-app") so repeated scans de-duplicate client-side.
func ScanAlerts(e *Engine) ([]*models.Alert, error) {
	now := e.now().UTC()
	t := e.thresholds
	var alerts []*models.Alert

	// stuck_agent: active sessions gone silent.
	stuckCutoff := now.Add(-time.Duration(t.StuckAgentMinutes) * time.Minute)
	stuck, err := store.StuckSessions(e.db, stuckCutoff)
	if err != nil {
		return nil, err
	}
	for _, s := range stuck {
		alerts = append(alerts, &models.Alert{
			ID:        alertID(models.AlertStuckAgent, s.SessionID, s.SourceApp),
			Type:      models.AlertStuckAgent,
			Severity:  models.AlertWarning,
			SessionID: s.SessionID,
			SourceApp: s.SourceApp,
			Message: fmt.Sprintf("session active but silent for over %d minutes (last event %s)",
				t.StuckAgentMinutes, s.LastEventAt.UTC().Format(time.RFC3339)),
			CreatedAt: now,
		})
	}

	// excessive_writes and repeated_failures scan every non-terminal session.
	live, err := store.ActiveSessions(e.db, now) // no recently-stopped tail
	if err != nil {
		return nil, err
	}

	writeCutoff := now.Add(-time.Duration(t.WriteStormWindowSecs) * time.Second)
	failCutoff := now.Add(-time.Duration(t.FailureStormWindowSecs) * time.Second)
	for _, s := range live {
		writes, err := store.CountWriteToolEventsSince(e.db, s.SessionID, s.SourceApp, writeCutoff)
		if err != nil {
			return nil, err
		}
		if writes > int64(t.WriteStormCount) {
			alerts = append(alerts, &models.Alert{
				ID:        alertID(models.AlertExcessiveWrites, s.SessionID, s.SourceApp),
				Type:      models.AlertExcessiveWrites,
				Severity:  models.AlertCritical,
				SessionID: s.SessionID,
				SourceApp: s.SourceApp,
				Message: fmt.Sprintf("%d write operations in the last %ds",
					writes, t.WriteStormWindowSecs),
				Count:     writes,
				CreatedAt: now,
			})
		}

		failures, err := store.CountSessionEventsSince(e.db, s.SessionID, s.SourceApp,
			[]string{string(models.HookPostToolUseFailure)}, failCutoff)
		if err != nil {
			return nil, err
		}
		if failures > int64(t.FailureStormCount) {
			severity := models.AlertWarning
			if failures > int64(t.FailureStormCritical) {
				severity = models.AlertCritical
			}
			alerts = append(alerts, &models.Alert{
				ID:        alertID(models.AlertRepeatedFailures, s.SessionID, s.SourceApp),
				Type:      models.AlertRepeatedFailures,
				Severity:  severity,
				SessionID: s.SessionID,
				SourceApp: s.SourceApp,
				Message: fmt.Sprintf("%d tool failures in the last %ds",
					failures, t.FailureStormWindowSecs),
				Count:     failures,
				CreatedAt: now,
			})
		}
	}

	return alerts, nil
}

func alertID(alertType, sessionID, sourceApp string) string {
	return alertType + "-" + sessionID + "-" + sourceApp
}
