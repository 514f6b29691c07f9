package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/branch"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// ProcessEvent appends one validated event to the log and runs every derived
// computation. The append is the only operation that must succeed; each
// enrichment step is individually recovered and logged so a fault in one
// never blocks event acceptance or the remaining steps.
func ProcessEvent(e *Engine, ev *models.Event) (*models.Event, error) {
	if _, err := store.AppendEvent(e.db, ev); err != nil {
		return nil, err
	}

	payload, err := models.DecodePayload(ev.Payload)
	if err != nil {
		slog.Default().Warn("malformed event payload, enrichment skipped",
			"source_app", ev.SourceApp, "session_id", ev.SessionID, "type", ev.Type, "error", err)
		return ev, nil
	}

	branchName := e.branches.resolveBranch(payload.WorkingDir, payload.Branch)

	if err := store.TouchProject(e.db, ev.SourceApp, payload.WorkingDir, branchName, ev.Timestamp); err != nil {
		slog.Default().Warn("project touch failed", "source_app", ev.SourceApp, "error", err)
	}

	if err := e.applySessionTransition(ev, payload, branchName); err != nil {
		slog.Default().Warn("session transition failed",
			"source_app", ev.SourceApp, "session_id", ev.SessionID, "type", ev.Type, "error", err)
	}

	if err := e.accumulateCost(ev, payload); err != nil {
		slog.Default().Warn("cost accumulation failed",
			"source_app", ev.SourceApp, "session_id", ev.SessionID, "error", err)
	}

	if ev.Type.IsToolEvent() {
		if err := e.trackFileAccess(ev, payload); err != nil {
			slog.Default().Warn("file access tracking failed",
				"source_app", ev.SourceApp, "session_id", ev.SessionID, "error", err)
		}
		e.detectProjectSignals(ev, payload)
	}

	e.recomputeHealthThrottled(ev.SourceApp)

	return ev, nil
}

// applySessionTransition drives the session state machine for one event.
func (e *Engine) applySessionTransition(ev *models.Event, payload models.EventPayload, branchName string) error {
	now := ev.Timestamp
	model := firstNonEmpty(ev.Model, payload.Model)

	switch ev.Type {
	case models.HookSessionStart:
		sess := &models.Session{
			SessionID:   ev.SessionID,
			SourceApp:   ev.SourceApp,
			Status:      models.SessionStatusActive,
			Branch:      branchName,
			TaskContext: branch.Parse(branchName),
			Model:       model,
			WorkingDir:  payload.WorkingDir,
			StartedAt:   now,
			LastEventAt: now,
		}
		if err := store.UpsertSessionStart(e.db, sess); err != nil {
			return err
		}
		return store.RecountProjectSessions(e.db, ev.SourceApp)

	case models.HookSessionEnd:
		stopped, err := store.StopSession(e.db, ev.SessionID, ev.SourceApp, now)
		if err != nil {
			return err
		}
		if stopped {
			if err := e.SynthesizeDevLog(ev.SessionID, ev.SourceApp); err != nil {
				slog.Default().Warn("dev log synthesis failed",
					"source_app", ev.SourceApp, "session_id", ev.SessionID, "error", err)
			}
		}
		return store.RecountProjectSessions(e.db, ev.SourceApp)

	case models.HookStop:
		// End of one agent turn, not of the session.
		return e.touchOrCreate(ev, models.SessionStatusWaiting, now)

	case models.HookNotification:
		if err := e.touchOrCreate(ev, models.SessionStatusWaiting, now); err != nil {
			return err
		}
		return e.refreshContext(ev, branchName)

	case models.HookUserPromptSubmit:
		if err := e.touchOrCreate(ev, models.SessionStatusActive, now); err != nil {
			return err
		}
		if err := e.refreshContext(ev, branchName); err != nil {
			return err
		}
		if topic := payload.FirstPromptLine(); topic != "" {
			if err := store.SetSessionTopicOnce(e.db, ev.SessionID, ev.SourceApp, topic); err != nil {
				return err
			}
		}
		return store.SetSessionModel(e.db, ev.SessionID, ev.SourceApp, model)

	case models.HookPreToolUse, models.HookPostToolUse, models.HookPostToolUseFailure:
		return e.touchOrCreate(ev, models.SessionStatusActive, now)

	case models.HookSubagentStart:
		if err := e.bumpActivity(ev, now); err != nil {
			return err
		}
		return e.trackSubagentStart(ev, payload, now)

	case models.HookSubagentStop:
		if err := e.bumpActivity(ev, now); err != nil {
			return err
		}
		return e.trackSubagentStop(payload, now)

	case models.HookPreCompact:
		if err := e.bumpActivity(ev, now); err != nil {
			return err
		}
		err := store.RecordCompaction(e.db, ev.SessionID, ev.SourceApp, now)
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return err

	default:
		// Unknown-but-allowed types reactivate the session unless stopped.
		return e.touchOrCreate(ev, models.SessionStatusActive, now)
	}
}

// touchOrCreate bumps the session into the given status, lazily creating the
// row when the event arrived without a SessionStart. A stopped session
// swallows the bump: only SessionStart restarts a session.
func (e *Engine) touchOrCreate(ev *models.Event, status models.SessionStatus, now time.Time) error {
	err := store.TouchSession(e.db, ev.SessionID, ev.SourceApp, status, now)
	if errors.Is(err, models.ErrNotFound) {
		if err := store.EnsureSession(e.db, ev.SessionID, ev.SourceApp, now); err != nil {
			return err
		}
		err = store.TouchSession(e.db, ev.SessionID, ev.SourceApp, status, now)
	}
	if errors.Is(err, models.ErrSessionStopped) {
		return nil
	}
	return err
}

// bumpActivity refreshes last_event_at and the event counter while keeping
// the current status (SubagentStart/Stop and PreCompact must not change it).
func (e *Engine) bumpActivity(ev *models.Event, now time.Time) error {
	sess, err := store.GetSession(e.db, ev.SessionID, ev.SourceApp)
	if errors.Is(err, models.ErrNotFound) {
		return store.EnsureSession(e.db, ev.SessionID, ev.SourceApp, now)
	}
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return nil
	}
	err = store.TouchSession(e.db, ev.SessionID, ev.SourceApp, sess.Status, now)
	if errors.Is(err, models.ErrSessionStopped) {
		return nil
	}
	return err
}

func (e *Engine) refreshContext(ev *models.Event, branchName string) error {
	if branchName == "" {
		return nil
	}
	return store.RefreshSessionContext(e.db, ev.SessionID, ev.SourceApp, branchName, branch.Parse(branchName))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
