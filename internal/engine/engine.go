// Package engine consumes the append-only hook-event log and maintains the
// derived operational state: sessions, projects, topology, dev logs, plus the
// satellite analytics (costs, conflicts, alerts, performance metrics).
package engine

import (
	"database/sql"
	"sync"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/app"
)

// Engine owns all derived-state computation for one database. Mutable caches
// (branch detection, health throttling, prior health scores) are instance
// state injected at construction, never process-wide globals, so multiple
// engines can coexist in tests.
type Engine struct {
	db *sql.DB

	branches *branchCache

	healthMu        sync.Mutex
	healthLastRun   map[string]time.Time
	healthLastScore map[string]int

	thresholds app.AlertThresholds

	retentionMu sync.RWMutex
	retention   app.RetentionSettings

	now func() time.Time
}

// New constructs an engine over an initialized database.
func New(db *sql.DB) *Engine {
	return &Engine{
		db:              db,
		branches:        newBranchCache(),
		healthLastRun:   make(map[string]time.Time),
		healthLastScore: make(map[string]int),
		thresholds:      app.EffectiveAlertThresholds(),
		retention:       app.EffectiveRetentionSettings(),
		now:             time.Now,
	}
}

// Retention returns the currently effective retention windows.
func (e *Engine) Retention() app.RetentionSettings {
	e.retentionMu.RLock()
	defer e.retentionMu.RUnlock()
	return e.retention
}

// SetRetention replaces the retention windows (settings mutation endpoint).
func (e *Engine) SetRetention(r app.RetentionSettings) {
	e.retentionMu.Lock()
	e.retention = r
	e.retentionMu.Unlock()
}

// DB exposes the underlying handle for the query layer.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// SetThresholds overrides the anomaly-scan thresholds (tests, settings reload).
func (e *Engine) SetThresholds(t app.AlertThresholds) {
	e.thresholds = t
}
