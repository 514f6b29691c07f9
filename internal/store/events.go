package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

// Event payload size constraints enforced by ValidateEvent.
const (
	MaxEventSourceAppLength = 128
	MaxEventSessionIDLength = 256
	MaxEventPayloadBytes    = 5 << 20 // 5 MB ingestion cap
)

// ValidateEvent enforces ingestion constraints: required fields, allow-listed
// type, valid JSON payload, size caps. All failures are validation errors,
// surfaced to the client as 4xx, never logged as system faults.
func ValidateEvent(ev *models.Event) error {
	if ev.SourceApp == "" {
		return models.NewValidationError("source_app", "is required")
	}
	if len(ev.SourceApp) > MaxEventSourceAppLength {
		return models.NewValidationError("source_app", fmt.Sprintf("exceeds max length (%d)", MaxEventSourceAppLength))
	}
	if ev.SessionID == "" {
		return models.NewValidationError("session_id", "is required")
	}
	if len(ev.SessionID) > MaxEventSessionIDLength {
		return models.NewValidationError("session_id", fmt.Sprintf("exceeds max length (%d)", MaxEventSessionIDLength))
	}
	if ev.Type == "" {
		return models.NewValidationError("hook_event_type", "is required")
	}
	if !ev.Type.IsKnown() {
		return models.NewValidationError("hook_event_type", fmt.Sprintf("unknown type %q", ev.Type))
	}
	if len(ev.Payload) == 0 {
		return models.NewValidationError("payload", "is required")
	}
	if len(ev.Payload) > MaxEventPayloadBytes {
		return models.NewValidationError("payload", "exceeds 5 MB cap")
	}
	if !json.Valid(ev.Payload) {
		return models.NewValidationError("payload", "must be valid JSON")
	}
	if len(ev.Chat) > 0 && !json.Valid(ev.Chat) {
		return models.NewValidationError("chat", "must be valid JSON")
	}
	return nil
}

// AppendEvent validates and appends one event to the log, returning its id.
// This is the only write that must succeed for ingestion to report success;
// every derived computation downstream is recoverable.
func AppendEvent(db *sql.DB, ev *models.Event) (int64, error) {
	if err := ValidateEvent(ev); err != nil {
		return 0, err
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	var chat any
	if len(ev.Chat) > 0 {
		chat = string(ev.Chat)
	}

	var id int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			INSERT INTO events (source_app, session_id, hook_event_type, payload, chat, summary, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, ev.SourceApp, ev.SessionID, string(ev.Type), string(ev.Payload), chat, ev.Summary, ev.Model, ev.Timestamp)
		if execErr != nil {
			return fmt.Errorf("failed to insert event: %w", execErr)
		}
		var lastErr error
		id, lastErr = res.LastInsertId()
		return lastErr
	})
	if err != nil {
		return 0, err
	}
	ev.ID = id
	return id, nil
}

const eventColumns = `id, source_app, session_id, hook_event_type, payload, chat, summary, model, created_at`

func scanEvent(row interface{ Scan(dest ...any) error }) (*models.Event, error) {
	var ev models.Event
	var typ, payload string
	var chat, summary, model sql.NullString
	if err := row.Scan(&ev.ID, &ev.SourceApp, &ev.SessionID, &typ, &payload, &chat, &summary, &model, &ev.Timestamp); err != nil {
		return nil, err
	}
	ev.Type = models.HookEventType(typ)
	ev.Payload = json.RawMessage(payload)
	if chat.Valid && chat.String != "" {
		ev.Chat = json.RawMessage(chat.String)
	}
	ev.Summary = scanNullString(summary)
	ev.Model = scanNullString(model)
	return &ev, nil
}

func queryEvents(db *sql.DB, query string, args ...any) ([]*models.Event, error) {
	var out []*models.Event
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			ev, scanErr := scanEvent(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, ev)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

// SessionEvents returns every event for one (session, app) pair in insertion
// order. Used by dev-log synthesis and performance metrics.
func SessionEvents(db *sql.DB, sessionID, sourceApp string) ([]*models.Event, error) {
	return SessionEventsRange(db, sessionID, sourceApp, time.Time{}, time.Time{})
}

// SessionEventsRange restricts SessionEvents to [from, to). A zero bound is
// open on that side.
func SessionEventsRange(db *sql.DB, sessionID, sourceApp string, from, to time.Time) ([]*models.Event, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM events
		WHERE session_id = ? AND source_app = ?`
	args := []any{sessionID, sourceApp}
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, from)
	}
	if !to.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, to)
	}
	query += ` ORDER BY id ASC`
	return queryEvents(db, query, args...)
}

// RecentEvents returns the newest events, optionally scoped to one app.
func RecentEvents(db *sql.DB, sourceApp string, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if sourceApp != "" {
		return queryEvents(db, `
			SELECT `+eventColumns+`
			FROM events
			WHERE source_app = ?
			ORDER BY id DESC
			LIMIT ?
		`, sourceApp, limit)
	}
	return queryEvents(db, `
		SELECT `+eventColumns+`
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
}

// CountSessionEventsSince counts events of the given types for one session
// newer than the cutoff. Drives the write-storm and failure-storm alerts.
func CountSessionEventsSince(db *sql.DB, sessionID, sourceApp string, types []string, since time.Time) (int64, error) {
	if len(types) == 0 {
		return 0, nil
	}
	query := `
		SELECT COUNT(*) FROM events
		WHERE session_id = ? AND source_app = ? AND created_at > ?
		AND hook_event_type IN (?` + repeatPlaceholder(len(types)-1) + `)
	`
	args := []any{sessionID, sourceApp, since}
	for _, t := range types {
		args = append(args, t)
	}

	var count int64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), query, args...).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count session events: %w", err)
	}
	return count, nil
}

// CountWriteToolEventsSince counts Write/Edit tool operations for one session
// newer than the cutoff, matching on the payload's tool_name. Only PostToolUse
// rows count: each operation fires a pre+post pair, so counting both would
// double every write.
func CountWriteToolEventsSince(db *sql.DB, sessionID, sourceApp string, since time.Time) (int64, error) {
	var count int64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT COUNT(*) FROM events
			WHERE session_id = ? AND source_app = ? AND created_at > ?
			AND hook_event_type = 'PostToolUse'
			AND json_extract(payload, '$.tool_name') IN ('Write', 'Edit', 'MultiEdit', 'NotebookEdit')
		`, sessionID, sourceApp, since).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count write tool events: %w", err)
	}
	return count, nil
}

// ProjectErrorRate returns the tool failure rate (0..1) for one app over the
// trailing window: failures / (successes + failures). Zero when no tool events.
func ProjectErrorRate(db *sql.DB, sourceApp string, since time.Time) (float64, error) {
	var failures, successes int64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT
				COUNT(CASE WHEN hook_event_type = 'PostToolUseFailure' THEN 1 END),
				COUNT(CASE WHEN hook_event_type = 'PostToolUse' THEN 1 END)
			FROM events
			WHERE source_app = ? AND created_at > ?
		`, sourceApp, since).Scan(&failures, &successes)
	})
	if err != nil {
		return 0, fmt.Errorf("project error rate: %w", err)
	}
	total := failures + successes
	if total == 0 {
		return 0, nil
	}
	return float64(failures) / float64(total), nil
}

// SearchEvents performs a LIKE match over payload, summary and session id.
func SearchEvents(db *sql.DB, term string, limit int) ([]*models.Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	pattern := "%" + escapeLike(term) + "%"
	return queryEvents(db, `
		SELECT `+eventColumns+`
		FROM events
		WHERE payload LIKE ? ESCAPE '\'
		   OR summary LIKE ? ESCAPE '\'
		   OR session_id LIKE ? ESCAPE '\'
		ORDER BY id DESC
		LIMIT ?
	`, pattern, pattern, pattern, limit)
}

// HeatmapBucket is one day×hour activity count.
type HeatmapBucket struct {
	Day   string `json:"day"`  // "2026-08-31"
	Hour  int    `json:"hour"` // 0-23
	Count int64  `json:"count"`
}

// ActivityHeatmap buckets event counts by day and hour over the trailing N days.
func ActivityHeatmap(db *sql.DB, days int) ([]HeatmapBucket, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	var out []HeatmapBucket
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT date(created_at), CAST(strftime('%H', created_at) AS INTEGER), COUNT(*)
			FROM events
			WHERE created_at > ?
			GROUP BY 1, 2
			ORDER BY 1, 2
		`, since)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			var b HeatmapBucket
			if scanErr := rows.Scan(&b.Day, &b.Hour, &b.Count); scanErr != nil {
				return scanErr
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("activity heatmap: %w", err)
	}
	return out, nil
}

// TypeCount is one event-type count in an aggregate summary.
type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

// AggregateSummary is the daily/weekly rollup of the event log.
type AggregateSummary struct {
	From         time.Time   `json:"from"`
	To           time.Time   `json:"to"`
	EventCount   int64       `json:"event_count"`
	SessionCount int64       `json:"session_count"`
	ProjectCount int64       `json:"project_count"`
	EventsByType []TypeCount `json:"events_by_type,omitempty"`
}

// SummarizeRange aggregates events between from (inclusive) and to (exclusive).
func SummarizeRange(db *sql.DB, from, to time.Time) (*AggregateSummary, error) {
	s := &AggregateSummary{From: from, To: to}
	err := RetryWithBackoff(func() error {
		if err := db.QueryRowContext(context.Background(), `
			SELECT COUNT(*), COUNT(DISTINCT session_id || ':' || source_app), COUNT(DISTINCT source_app)
			FROM events
			WHERE created_at >= ? AND created_at < ?
		`, from, to).Scan(&s.EventCount, &s.SessionCount, &s.ProjectCount); err != nil {
			return err
		}

		rows, err := db.QueryContext(context.Background(), `
			SELECT hook_event_type, COUNT(*)
			FROM events
			WHERE created_at >= ? AND created_at < ?
			GROUP BY hook_event_type
			ORDER BY COUNT(*) DESC
		`, from, to)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		s.EventsByType = s.EventsByType[:0]
		for rows.Next() {
			var tc TypeCount
			if scanErr := rows.Scan(&tc.Type, &tc.Count); scanErr != nil {
				return scanErr
			}
			s.EventsByType = append(s.EventsByType, tc)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("summarize range: %w", err)
	}
	return s, nil
}

// PruneEventsBefore deletes events older than the cutoff in one bounded pass.
func PruneEventsBefore(db *sql.DB, cutoff time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 1000
	}
	var deleted int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			DELETE FROM events
			WHERE id IN (
				SELECT id FROM events WHERE created_at < ? ORDER BY id ASC LIMIT ?
			)
		`, cutoff, batch)
		if execErr != nil {
			return execErr
		}
		var raErr error
		deleted, raErr = res.RowsAffected()
		return raErr
	})
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return deleted, nil
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
