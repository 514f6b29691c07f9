package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

const sessionColumns = `session_id, source_app, status, branch, task_context, topic, model, working_dir,
	event_count, compaction_count, last_compaction_at, compaction_history, started_at, last_event_at`

func scanSession(row interface{ Scan(dest ...any) error }) (*models.Session, error) {
	var s models.Session
	var status, taskContext, history string
	var lastCompaction sql.NullTime
	if err := row.Scan(
		&s.SessionID, &s.SourceApp, &status, &s.Branch, &taskContext, &s.Topic, &s.Model, &s.WorkingDir,
		&s.EventCount, &s.CompactionCount, &lastCompaction, &history, &s.StartedAt, &s.LastEventAt,
	); err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	s.LastCompactionAt = scanNullTime(lastCompaction)
	decodeJSONColumn(taskContext, &s.TaskContext)
	decodeJSONColumn(history, &s.CompactionHistory)
	return &s, nil
}

// GetSession loads one session by its composite key.
// Returns models.ErrNotFound when absent.
func GetSession(db *sql.DB, sessionID, sourceApp string) (*models.Session, error) {
	var sess *models.Session
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+sessionColumns+` FROM sessions
			WHERE session_id = ? AND source_app = ?
		`, sessionID, sourceApp)
		var scanErr error
		sess, scanErr = scanSession(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

// UpsertSessionStart creates or restarts a session on SessionStart. Unlike
// ordinary activity, SessionStart is allowed to reset a stopped row: a fresh
// session id normally arrives, but a reused id gets a clean slate too.
func UpsertSessionStart(db *sql.DB, s *models.Session) error {
	now := time.Now().UTC()
	if s.StartedAt.IsZero() {
		s.StartedAt = now
	}
	if s.LastEventAt.IsZero() {
		s.LastEventAt = now
	}
	if s.Status == "" {
		s.Status = models.SessionStatusActive
	}
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			INSERT INTO sessions (session_id, source_app, status, branch, task_context, topic, model,
				working_dir, event_count, started_at, last_event_at)
			VALUES (?, ?, ?, ?, ?, '', ?, ?, 1, ?, ?)
			ON CONFLICT (session_id, source_app) DO UPDATE SET
				status = excluded.status,
				branch = excluded.branch,
				task_context = excluded.task_context,
				model = excluded.model,
				working_dir = excluded.working_dir,
				event_count = event_count + 1,
				started_at = excluded.started_at,
				last_event_at = excluded.last_event_at
		`, s.SessionID, s.SourceApp, string(s.Status), s.Branch,
			encodeJSONColumn(s.TaskContext, "{}"), s.Model, s.WorkingDir, s.StartedAt, s.LastEventAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert session start: %w", err)
	}
	return nil
}

// EnsureSession lazily creates a session row for an event that arrived before
// (or without) its SessionStart. Existing rows are left untouched.
func EnsureSession(db *sql.DB, sessionID, sourceApp string, now time.Time) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			INSERT INTO sessions (session_id, source_app, status, started_at, last_event_at)
			VALUES (?, ?, 'active', ?, ?)
			ON CONFLICT (session_id, source_app) DO NOTHING
		`, sessionID, sourceApp, now, now)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	return nil
}

// TouchSession bumps a session for an ordinary activity event: sets status,
// increments the event counter and refreshes last_event_at. The WHERE guard
// keeps stopped sessions stopped: a straggling event must not resurrect a
// finished session. Returns models.ErrSessionStopped when the guard blocked
// the update, models.ErrNotFound when no row exists.
func TouchSession(db *sql.DB, sessionID, sourceApp string, status models.SessionStatus, now time.Time) error {
	var affected int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			UPDATE sessions
			SET status = ?, event_count = event_count + 1, last_event_at = ?
			WHERE session_id = ? AND source_app = ? AND status != 'stopped'
		`, string(status), now, sessionID, sourceApp)
		if execErr != nil {
			return execErr
		}
		var raErr error
		affected, raErr = res.RowsAffected()
		return raErr
	})
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	if affected == 0 {
		exists, existsErr := sessionExists(db, sessionID, sourceApp)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return models.ErrNotFound
		}
		return models.ErrSessionStopped
	}
	return nil
}

func sessionExists(db *sql.DB, sessionID, sourceApp string) (bool, error) {
	var one int
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT 1 FROM sessions WHERE session_id = ? AND source_app = ?
		`, sessionID, sourceApp).Scan(&one)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("session exists: %w", err)
	}
	return true, nil
}

// RefreshSessionContext updates branch and parsed task context when the
// branch changed. No-op on stopped sessions.
func RefreshSessionContext(db *sql.DB, sessionID, sourceApp, branch string, tc models.TaskContext) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE sessions
			SET branch = ?, task_context = ?
			WHERE session_id = ? AND source_app = ? AND status != 'stopped' AND branch != ?
		`, branch, encodeJSONColumn(tc, "{}"), sessionID, sourceApp, branch)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("refresh session context: %w", err)
	}
	return nil
}

// SetSessionTopicOnce captures the topic from the first user prompt. The
// guard keeps the first value: later prompts never overwrite it.
func SetSessionTopicOnce(db *sql.DB, sessionID, sourceApp, topic string) error {
	if topic == "" {
		return nil
	}
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE sessions
			SET topic = ?
			WHERE session_id = ? AND source_app = ? AND topic = ''
		`, topic, sessionID, sourceApp)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("set session topic: %w", err)
	}
	return nil
}

// SetSessionModel records the model name once known. Later events may carry a
// corrected name; last writer wins.
func SetSessionModel(db *sql.DB, sessionID, sourceApp, model string) error {
	if model == "" {
		return nil
	}
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE sessions SET model = ? WHERE session_id = ? AND source_app = ?
		`, model, sessionID, sourceApp)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("set session model: %w", err)
	}
	return nil
}

// RecordCompaction appends a compaction timestamp to the bounded history
// (newest last, capped at models.CompactionHistoryCap) and bumps the counter.
func RecordCompaction(db *sql.DB, sessionID, sourceApp string, at time.Time) error {
	return Transact(db, func(tx *sql.Tx) error {
		var history string
		err := tx.QueryRowContext(context.Background(), `
			SELECT compaction_history FROM sessions
			WHERE session_id = ? AND source_app = ?
		`, sessionID, sourceApp).Scan(&history)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load compaction history: %w", err)
		}

		var stamps []time.Time
		decodeJSONColumn(history, &stamps)
		stamps = append(stamps, at)
		if len(stamps) > models.CompactionHistoryCap {
			stamps = stamps[len(stamps)-models.CompactionHistoryCap:]
		}

		_, err = tx.ExecContext(context.Background(), `
			UPDATE sessions
			SET compaction_count = compaction_count + 1,
			    last_compaction_at = ?,
			    compaction_history = ?
			WHERE session_id = ? AND source_app = ?
		`, at, encodeJSONColumn(stamps, "[]"), sessionID, sourceApp)
		if err != nil {
			return fmt.Errorf("record compaction: %w", err)
		}
		return nil
	})
}

// StopSession marks a session stopped. SessionEnd is allowed from any state.
// Returns true when the row transitioned (false if already stopped or absent),
// so dev-log synthesis runs exactly once.
func StopSession(db *sql.DB, sessionID, sourceApp string, now time.Time) (bool, error) {
	var affected int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			UPDATE sessions
			SET status = 'stopped', event_count = event_count + 1, last_event_at = ?
			WHERE session_id = ? AND source_app = ? AND status != 'stopped'
		`, now, sessionID, sourceApp)
		if execErr != nil {
			return execErr
		}
		var raErr error
		affected, raErr = res.RowsAffected()
		return raErr
	})
	if err != nil {
		return false, fmt.Errorf("stop session: %w", err)
	}
	return affected > 0, nil
}

// MarkIdleSessions transitions active sessions with no events since the
// cutoff to idle. The predicate-scoped UPDATE makes the sweep idempotent:
// rows already idle or touched since the cutoff are untouched.
func MarkIdleSessions(db *sql.DB, cutoff time.Time) (int64, error) {
	var affected int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			UPDATE sessions
			SET status = 'idle'
			WHERE status = 'active' AND last_event_at < ?
		`, cutoff)
		if execErr != nil {
			return execErr
		}
		var raErr error
		affected, raErr = res.RowsAffected()
		return raErr
	})
	if err != nil {
		return 0, fmt.Errorf("mark idle sessions: %w", err)
	}
	return affected, nil
}

// SessionKey identifies one session row.
type SessionKey struct {
	SessionID string
	SourceApp string
}

// StopStaleSessions transitions idle/waiting sessions with no events since
// the cutoff to stopped and returns exactly the keys it transitioned, so the
// caller can synthesize one dev log per swept session. Select and update run
// in one transaction over the same predicate; a row appears in the result
// only if this call stopped it.
func StopStaleSessions(db *sql.DB, cutoff time.Time) ([]SessionKey, error) {
	var stopped []SessionKey
	err := Transact(db, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(context.Background(), `
			SELECT session_id, source_app FROM sessions
			WHERE status IN ('idle', 'waiting') AND last_event_at < ?
		`, cutoff)
		if err != nil {
			return err
		}
		stopped = stopped[:0]
		func() {
			defer func() { _ = rows.Close() }()
			for rows.Next() {
				var k SessionKey
				if scanErr := rows.Scan(&k.SessionID, &k.SourceApp); scanErr != nil {
					err = scanErr
					return
				}
				stopped = append(stopped, k)
			}
			err = rows.Err()
		}()
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(context.Background(), `
			UPDATE sessions
			SET status = 'stopped'
			WHERE status IN ('idle', 'waiting') AND last_event_at < ?
		`, cutoff)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("stop stale sessions: %w", err)
	}
	return stopped, nil
}

func querySessions(db *sql.DB, query string, args ...any) ([]*models.Session, error) {
	var out []*models.Session
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			s, scanErr := scanSession(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	return out, nil
}

// ActiveSessions lists non-terminal sessions plus recently-stopped ones
// (stopped with activity after stoppedSince) for UI continuity.
func ActiveSessions(db *sql.DB, stoppedSince time.Time) ([]*models.Session, error) {
	return querySessions(db, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status IN ('active', 'idle', 'waiting')
		   OR (status = 'stopped' AND last_event_at > ?)
		ORDER BY last_event_at DESC
	`, stoppedSince)
}

// SessionsForProject lists the most recent sessions for one app.
func SessionsForProject(db *sql.DB, sourceApp string, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	return querySessions(db, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE source_app = ?
		ORDER BY last_event_at DESC
		LIMIT ?
	`, sourceApp, limit)
}

// SearchSessions matches topic, branch or session id.
func SearchSessions(db *sql.DB, term string, limit int) ([]*models.Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	pattern := "%" + escapeLike(term) + "%"
	return querySessions(db, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE topic LIKE ? ESCAPE '\'
		   OR branch LIKE ? ESCAPE '\'
		   OR session_id LIKE ? ESCAPE '\'
		ORDER BY last_event_at DESC
		LIMIT ?
	`, pattern, pattern, pattern, limit)
}

// CountLiveSessions counts non-terminal sessions for one app.
func CountLiveSessions(db *sql.DB, sourceApp string) (int64, error) {
	var count int64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT COUNT(*) FROM sessions
			WHERE source_app = ? AND status != 'stopped'
		`, sourceApp).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count live sessions: %w", err)
	}
	return count, nil
}

// StuckSessions returns active sessions with no event since the cutoff, for
// the stuck-agent alert scan.
func StuckSessions(db *sql.DB, cutoff time.Time) ([]*models.Session, error) {
	return querySessions(db, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE status = 'active' AND last_event_at < ?
		ORDER BY last_event_at ASC
	`, cutoff)
}

// DeleteStoppedSessionsBefore removes terminal sessions with no activity
// since the cutoff (retention sweep).
func DeleteStoppedSessionsBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	var deleted int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			DELETE FROM sessions
			WHERE status = 'stopped' AND last_event_at < ?
		`, cutoff)
		if execErr != nil {
			return execErr
		}
		var raErr error
		deleted, raErr = res.RowsAffected()
		return raErr
	})
	if err != nil {
		return 0, fmt.Errorf("delete stopped sessions: %w", err)
	}
	return deleted, nil
}
