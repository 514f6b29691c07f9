package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

// RecordFileAccess appends one file touch for conflict detection.
func RecordFileAccess(db *sql.DB, fa *models.FileAccess) error {
	if fa.CreatedAt.IsZero() {
		fa.CreatedAt = time.Now().UTC()
	}
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			INSERT INTO file_access_log (file_path, project, session_id, source_app, mode, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, fa.FilePath, fa.Project, fa.SessionID, fa.SourceApp, fa.Mode, fa.CreatedAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("record file access: %w", err)
	}
	return nil
}

// FileAccessesSince returns all accesses newer than the cutoff, ordered by
// path so the detector can group in one pass.
func FileAccessesSince(db *sql.DB, since time.Time) ([]*models.FileAccess, error) {
	var out []*models.FileAccess
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT id, file_path, project, session_id, source_app, mode, created_at
			FROM file_access_log
			WHERE created_at > ?
			ORDER BY file_path, created_at
		`, since)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			var fa models.FileAccess
			if scanErr := rows.Scan(&fa.ID, &fa.FilePath, &fa.Project, &fa.SessionID, &fa.SourceApp, &fa.Mode, &fa.CreatedAt); scanErr != nil {
				return scanErr
			}
			out = append(out, &fa)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("file accesses since: %w", err)
	}
	return out, nil
}

// DismissConflict stores a dismissal marker for a deterministic conflict id.
// Re-dismissing refreshes the timestamp, restarting the expiry window.
func DismissConflict(db *sql.DB, conflictID string, at time.Time) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			INSERT INTO conflict_dismissals (id, dismissed_at)
			VALUES (?, ?)
			ON CONFLICT (id) DO UPDATE SET dismissed_at = excluded.dismissed_at
		`, conflictID, at)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("dismiss conflict: %w", err)
	}
	return nil
}

// ActiveDismissals returns the set of dismissal ids newer than the cutoff.
func ActiveDismissals(db *sql.DB, since time.Time) (map[string]struct{}, error) {
	var ids []string
	err := RetryWithBackoff(func() error {
		var qErr error
		ids, qErr = queryStringColumn(db, `
			SELECT id FROM conflict_dismissals WHERE dismissed_at > ?
		`, since)
		return qErr
	})
	if err != nil {
		return nil, fmt.Errorf("active dismissals: %w", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

// PruneFileAccessLog removes file accesses older than accessCutoff and
// dismissals older than dismissalCutoff in one sweep. An expired dismissal
// lets a still-recurring conflict resurface.
func PruneFileAccessLog(db *sql.DB, accessCutoff, dismissalCutoff time.Time) (int64, error) {
	var deleted int64
	err := Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			DELETE FROM file_access_log WHERE created_at < ?
		`, accessCutoff)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(context.Background(), `
			DELETE FROM conflict_dismissals WHERE dismissed_at < ?
		`, dismissalCutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune file access log: %w", err)
	}
	return deleted, nil
}
