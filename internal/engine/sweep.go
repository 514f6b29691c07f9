package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/app"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// Sweeper runs the fixed-interval background passes: idle marking, stale
// stopping (with dev-log synthesis), health recomputes and retention cleanup.
// All sweeps use predicate-scoped writes, so they are idempotent and safe to
// interleave with live ingestion.
type Sweeper struct {
	engine   *Engine
	settings app.SweepSettings
}

// NewSweeper builds a sweeper over an engine.
func NewSweeper(e *Engine, settings app.SweepSettings) *Sweeper {
	return &Sweeper{engine: e, settings: settings}
}

// Run blocks, executing the sweep on its interval until ctx is done.
// Retention cleanup runs on a coarser multiple of the same ticker.
func (s *Sweeper) Run(ctx context.Context) {
	interval := time.Duration(s.settings.IntervalSecs) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	const retentionEvery = 20 // every ~10 min at the default 30s interval
	tick := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
			tick++
			if tick%retentionEvery == 0 {
				s.CleanupOnce()
			}
		}
	}
}

// SweepOnce runs one idle/stale pass. Exposed for tests and for the
// immediate-cleanup endpoint.
func (s *Sweeper) SweepOnce() {
	e := s.engine
	now := e.now().UTC()

	idleCutoff := now.Add(-time.Duration(s.settings.IdleAfterMinutes) * time.Minute)
	if n, err := store.MarkIdleSessions(e.db, idleCutoff); err != nil {
		slog.Default().Warn("idle sweep failed", "error", err)
	} else if n > 0 {
		slog.Default().Info("marked sessions idle", "count", n)
	}

	staleCutoff := now.Add(-time.Duration(s.settings.StaleAfterMinutes) * time.Minute)
	stopped, err := store.StopStaleSessions(e.db, staleCutoff)
	if err != nil {
		slog.Default().Warn("stale sweep failed", "error", err)
	}
	for _, key := range stopped {
		// A stale stop is a session end in every way that matters: the
		// process died without a clean SessionEnd, so synthesize here.
		if err := e.SynthesizeDevLog(key.SessionID, key.SourceApp); err != nil {
			slog.Default().Warn("dev log synthesis failed on sweep",
				"source_app", key.SourceApp, "session_id", key.SessionID, "error", err)
		}
		if err := store.RecountProjectSessions(e.db, key.SourceApp); err != nil {
			slog.Default().Warn("session recount failed on sweep",
				"source_app", key.SourceApp, "error", err)
		}
	}

	// Health is recomputed unthrottled here; the sweep interval is already
	// coarse, so there is no burst risk.
	names, err := store.ProjectNames(e.db)
	if err != nil {
		slog.Default().Warn("project list failed on sweep", "error", err)
		return
	}
	for _, name := range names {
		if err := e.RecomputeHealth(name); err != nil {
			slog.Default().Warn("health recompute failed on sweep", "project", name, "error", err)
		}
	}
}

// CleanupOnce runs one retention pass over events, stopped sessions, stopped
// agent nodes and the file-access/dismissal log.
func (s *Sweeper) CleanupOnce() {
	e := s.engine
	now := e.now().UTC()
	r := e.Retention()

	if n, err := store.PruneEventsBefore(e.db, now.AddDate(0, 0, -r.EventDays), 1000); err != nil {
		slog.Default().Warn("event retention failed", "error", err)
	} else if n > 0 {
		slog.Default().Info("pruned events", "count", n)
	}

	sessionCutoff := now.AddDate(0, 0, -r.SessionDays)
	if n, err := store.DeleteStoppedSessionsBefore(e.db, sessionCutoff); err != nil {
		slog.Default().Warn("session retention failed", "error", err)
	} else if n > 0 {
		slog.Default().Info("pruned stopped sessions", "count", n)
	}

	if _, err := store.DeleteAgentNodesBefore(e.db, sessionCutoff); err != nil {
		slog.Default().Warn("agent node retention failed", "error", err)
	}

	accessCutoff := now.Add(-time.Duration(r.FileAccessHrs) * time.Hour)
	dismissalCutoff := now.Add(-time.Duration(r.DismissalHrs) * time.Hour)
	if _, err := store.PruneFileAccessLog(e.db, accessCutoff, dismissalCutoff); err != nil {
		slog.Default().Warn("file access retention failed", "error", err)
	}
}
