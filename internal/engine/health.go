package engine

import (
	"errors"
	"log/slog"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// healthThrottle caps health recomputation per project. Every event triggers
// a recompute request, but the score only moves on minutes-scale signals, so
// once per 30 seconds is plenty.
const healthThrottle = 30 * time.Second

// errorRateWindow is the trailing window for the tool-error-rate component.
const errorRateWindow = 30 * time.Minute

// Health score weights: test status 40%, session activity 30%, error rate 30%.
const (
	testWeight     = 40
	activityWeight = 30
	errorWeight    = 30
)

// trendBand is the score delta beyond which the trend leaves "stable".
const trendBand = 5

// recomputeHealthThrottled recomputes a project's health unless it was
// recomputed within the throttle window. The per-project last-run map is
// engine state, so the throttle never leaks across engine instances.
func (e *Engine) recomputeHealthThrottled(project string) {
	now := e.now()
	e.healthMu.Lock()
	last, seen := e.healthLastRun[project]
	if seen && now.Sub(last) < healthThrottle {
		e.healthMu.Unlock()
		return
	}
	e.healthLastRun[project] = now
	e.healthMu.Unlock()

	if err := e.RecomputeHealth(project); err != nil {
		slog.Default().Warn("health recompute failed", "project", project, "error", err)
	}
}

// RecomputeHealth computes and stores a project's health score and trend,
// bypassing the throttle. The background sweep calls this directly; the
// sweep interval is already coarse, so there is no burst risk.
func (e *Engine) RecomputeHealth(project string) error {
	p, err := store.GetProject(e.db, project)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	live, err := store.CountLiveSessions(e.db, project)
	if err != nil {
		return err
	}
	errRate, err := store.ProjectErrorRate(e.db, project, e.now().UTC().Add(-errorRateWindow))
	if err != nil {
		return err
	}

	score := healthScore(p.TestStatus, live, errRate)

	e.healthMu.Lock()
	prev, hadPrev := e.healthLastScore[project]
	e.healthLastScore[project] = score
	e.healthMu.Unlock()

	trend := models.TrendStable
	if hadPrev {
		switch {
		case score-prev > trendBand:
			trend = models.TrendImproving
		case prev-score > trendBand:
			trend = models.TrendDeclining
		}
	}

	return store.SetProjectHealth(e.db, project, score, trend)
}

// healthScore combines the three weighted components into 0–100.
func healthScore(tests models.TestStatus, liveSessions int64, errRate float64) int {
	score := 0

	switch tests {
	case models.TestStatusPassing:
		score += testWeight
	case models.TestStatusUnknown:
		score += testWeight / 2
	case models.TestStatusFailing:
		// no contribution
	}

	if liveSessions > 0 {
		score += activityWeight
	}

	score += int(float64(errorWeight) * (1 - errRate))

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}
