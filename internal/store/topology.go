package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

const agentNodeColumns = `id, parent_id, project, status, model, started_at, last_event_at`

func scanAgentNode(row interface{ Scan(dest ...any) error }) (*models.AgentNode, error) {
	var n models.AgentNode
	var parent sql.NullString
	var status string
	if err := row.Scan(&n.ID, &parent, &n.Project, &status, &n.Model, &n.StartedAt, &n.LastEventAt); err != nil {
		return nil, err
	}
	n.ParentID = scanNullString(parent)
	n.Status = models.SessionStatus(status)
	return &n, nil
}

// UpsertAgentNode inserts or refreshes a spawned sub-agent node. A repeat
// SubagentStart for the same child updates parentage and activity in place.
func UpsertAgentNode(db *sql.DB, n *models.AgentNode) error {
	now := time.Now().UTC()
	if n.StartedAt.IsZero() {
		n.StartedAt = now
	}
	if n.LastEventAt.IsZero() {
		n.LastEventAt = now
	}
	if n.Status == "" {
		n.Status = models.SessionStatusActive
	}
	var parent any
	if n.ParentID != "" {
		parent = n.ParentID
	}
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			INSERT INTO agent_nodes (id, parent_id, project, status, model, started_at, last_event_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				parent_id = excluded.parent_id,
				project = excluded.project,
				status = excluded.status,
				model = CASE WHEN excluded.model != '' THEN excluded.model ELSE model END,
				last_event_at = excluded.last_event_at
		`, n.ID, parent, n.Project, string(n.Status), n.Model, n.StartedAt, n.LastEventAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("upsert agent node: %w", err)
	}
	return nil
}

// StopAgentNode marks a node stopped by id. Missing ids are a no-op.
func StopAgentNode(db *sql.DB, id string, now time.Time) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE agent_nodes SET status = 'stopped', last_event_at = ? WHERE id = ?
		`, now, id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("stop agent node: %w", err)
	}
	return nil
}

// ListAgentNodes returns all nodes, optionally scoped to one project.
func ListAgentNodes(db *sql.DB, project string) ([]*models.AgentNode, error) {
	query := `SELECT ` + agentNodeColumns + ` FROM agent_nodes ORDER BY started_at ASC`
	args := []any{}
	if project != "" {
		query = `SELECT ` + agentNodeColumns + ` FROM agent_nodes WHERE project = ? ORDER BY started_at ASC`
		args = append(args, project)
	}

	var out []*models.AgentNode
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			n, scanErr := scanAgentNode(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list agent nodes: %w", err)
	}
	return out, nil
}

// DeleteAgentNodesBefore removes stopped nodes with no activity since the
// cutoff (retention sweep).
func DeleteAgentNodesBefore(db *sql.DB, cutoff time.Time) (int64, error) {
	var deleted int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			DELETE FROM agent_nodes
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
		return 0, fmt.Errorf("delete agent nodes: %w", err)
	}
	return deleted, nil
}
