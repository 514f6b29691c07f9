package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

const devLogColumns = `id, session_id, source_app, branch, summary, files_changed, commits, tool_counts,
	started_at, ended_at, duration_seconds, event_count`

func scanDevLog(row interface{ Scan(dest ...any) error }) (*models.DevLog, error) {
	var d models.DevLog
	var files, commits, tools string
	if err := row.Scan(
		&d.ID, &d.SessionID, &d.SourceApp, &d.Branch, &d.Summary, &files, &commits, &tools,
		&d.StartedAt, &d.EndedAt, &d.DurationSecs, &d.EventCount,
	); err != nil {
		return nil, err
	}
	decodeJSONColumn(files, &d.FilesChanged)
	decodeJSONColumn(commits, &d.Commits)
	decodeJSONColumn(tools, &d.ToolCounts)
	return &d, nil
}

// InsertDevLog stores a synthesized dev log. The UNIQUE(session_id, source_app)
// constraint makes synthesis idempotent: a second attempt for the same session
// (SessionEnd racing the stale sweep) is silently dropped.
func InsertDevLog(db *sql.DB, d *models.DevLog) error {
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			INSERT INTO dev_logs (session_id, source_app, branch, summary, files_changed, commits,
				tool_counts, started_at, ended_at, duration_seconds, event_count)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, source_app) DO NOTHING
		`, d.SessionID, d.SourceApp, d.Branch, d.Summary,
			encodeJSONColumn(d.FilesChanged, "[]"),
			encodeJSONColumn(d.Commits, "[]"),
			encodeJSONColumn(d.ToolCounts, "{}"),
			d.StartedAt, d.EndedAt, d.DurationSecs, d.EventCount)
		if execErr != nil {
			return execErr
		}
		id, idErr := res.LastInsertId()
		if idErr == nil {
			d.ID = id
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert dev log: %w", err)
	}
	return nil
}

func queryDevLogs(db *sql.DB, query string, args ...any) ([]*models.DevLog, error) {
	var out []*models.DevLog
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			d, scanErr := scanDevLog(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query dev logs: %w", err)
	}
	return out, nil
}

// ListDevLogs returns the newest dev logs, optionally scoped to one app.
func ListDevLogs(db *sql.DB, sourceApp string, limit int) ([]*models.DevLog, error) {
	if limit <= 0 {
		limit = 50
	}
	if sourceApp != "" {
		return queryDevLogs(db, `
			SELECT `+devLogColumns+` FROM dev_logs
			WHERE source_app = ?
			ORDER BY ended_at DESC
			LIMIT ?
		`, sourceApp, limit)
	}
	return queryDevLogs(db, `
		SELECT `+devLogColumns+` FROM dev_logs
		ORDER BY ended_at DESC
		LIMIT ?
	`, limit)
}

// SearchDevLogs matches summary, branch or commit text.
func SearchDevLogs(db *sql.DB, term string, limit int) ([]*models.DevLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	pattern := "%" + escapeLike(term) + "%"
	return queryDevLogs(db, `
		SELECT `+devLogColumns+` FROM dev_logs
		WHERE summary LIKE ? ESCAPE '\'
		   OR branch LIKE ? ESCAPE '\'
		   OR commits LIKE ? ESCAPE '\'
		ORDER BY ended_at DESC
		LIMIT ?
	`, pattern, pattern, pattern, limit)
}
