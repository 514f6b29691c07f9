package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

const projectColumns = `name, path, branch, active_sessions, test_status, test_summary, dev_servers,
	deployment_status, ci_status, health_score, health_trend, last_activity_at, created_at`

func scanProject(row interface{ Scan(dest ...any) error }) (*models.Project, error) {
	var p models.Project
	var testStatus, trend, devServers string
	var deploy, ci sql.NullString
	if err := row.Scan(
		&p.Name, &p.Path, &p.Branch, &p.ActiveSessions, &testStatus, &p.TestSummary, &devServers,
		&deploy, &ci, &p.HealthScore, &trend, &p.LastActivityAt, &p.CreatedAt,
	); err != nil {
		return nil, err
	}
	p.TestStatus = models.TestStatus(testStatus)
	p.HealthTrend = models.HealthTrend(trend)
	decodeJSONColumn(devServers, &p.DevServers)
	if deploy.Valid && deploy.String != "" {
		p.DeploymentStatus = json.RawMessage(deploy.String)
	}
	if ci.Valid && ci.String != "" {
		p.CIStatus = json.RawMessage(ci.String)
	}
	return &p, nil
}

// GetProject loads one project by name. Returns models.ErrNotFound when absent.
func GetProject(db *sql.DB, name string) (*models.Project, error) {
	var p *models.Project
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+projectColumns+` FROM projects WHERE name = ?
		`, name)
		var scanErr error
		p, scanErr = scanProject(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

// TouchProject creates the project on its first event and bumps activity on
// every subsequent one. Path and branch update only when non-empty; most
// events carry neither.
func TouchProject(db *sql.DB, name, path, branch string, now time.Time) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			INSERT INTO projects (name, path, branch, last_activity_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (name) DO UPDATE SET
				path = CASE WHEN excluded.path != '' THEN excluded.path ELSE path END,
				branch = CASE WHEN excluded.branch != '' THEN excluded.branch ELSE branch END,
				last_activity_at = excluded.last_activity_at
		`, name, path, branch, now)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	return nil
}

// RecountProjectSessions refreshes the cached non-terminal session count.
func RecountProjectSessions(db *sql.DB, name string) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE projects
			SET active_sessions = (
				SELECT COUNT(*) FROM sessions
				WHERE source_app = projects.name AND status != 'stopped'
			)
			WHERE name = ?
		`, name)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("recount project sessions: %w", err)
	}
	return nil
}

// SetProjectTestStatus records the latest observed test outcome.
func SetProjectTestStatus(db *sql.DB, name string, status models.TestStatus, summary string) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE projects SET test_status = ?, test_summary = ? WHERE name = ?
		`, string(status), summary, name)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("set project test status: %w", err)
	}
	return nil
}

// SetProjectDevServers replaces the detected dev-server list.
func SetProjectDevServers(db *sql.DB, name string, servers []models.DevServer) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE projects SET dev_servers = ? WHERE name = ?
		`, encodeJSONColumn(servers, "[]"), name)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("set project dev servers: %w", err)
	}
	return nil
}

// SetProjectDeploymentStatus stores an opaque status blob owned by an
// external poller. Which of the two columns updates depends on kind
// ("deployment" or "ci").
func SetProjectDeploymentStatus(db *sql.DB, name, kind string, blob json.RawMessage) error {
	column := "deployment_status"
	if kind == "ci" {
		column = "ci_status"
	}
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE projects SET `+column+` = ? WHERE name = ?
		`, string(blob), name)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("set project %s status: %w", kind, err)
	}
	return nil
}

// SetProjectHealth stores a freshly computed health score and trend.
func SetProjectHealth(db *sql.DB, name string, score int, trend models.HealthTrend) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE projects SET health_score = ?, health_trend = ? WHERE name = ?
		`, score, string(trend), name)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("set project health: %w", err)
	}
	return nil
}

// ListProjects returns all projects ordered by most recent activity.
func ListProjects(db *sql.DB) ([]*models.Project, error) {
	var out []*models.Project
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT `+projectColumns+` FROM projects
			ORDER BY last_activity_at DESC
		`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			p, scanErr := scanProject(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return out, nil
}

// ProjectNames returns all project names.
func ProjectNames(db *sql.DB) ([]string, error) {
	var names []string
	err := RetryWithBackoff(func() error {
		var qErr error
		names, qErr = queryStringColumn(db, `SELECT name FROM projects ORDER BY name`)
		return qErr
	})
	if err != nil {
		return nil, fmt.Errorf("project names: %w", err)
	}
	return names, nil
}
