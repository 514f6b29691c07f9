package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

// AccumulateCost adds token deltas to a session's stored totals inside one
// transaction and returns the new totals so the caller can reprice. Token
// totals only ever grow; cost_usd is rewritten wholesale by SetCost after
// repricing against the current model.
func AccumulateCost(db *sql.DB, sessionID, sourceApp, model string, inputDelta, outputDelta int64) (*models.CostEstimate, error) {
	now := time.Now().UTC()
	var out models.CostEstimate
	err := Transact(db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(context.Background(), `
			INSERT INTO cost_estimates (session_id, source_app, model, input_tokens, output_tokens, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (session_id, source_app) DO UPDATE SET
				model = CASE WHEN excluded.model != '' THEN excluded.model ELSE model END,
				input_tokens = input_tokens + excluded.input_tokens,
				output_tokens = output_tokens + excluded.output_tokens,
				updated_at = excluded.updated_at
		`, sessionID, sourceApp, model, inputDelta, outputDelta, now)
		if err != nil {
			return err
		}

		return tx.QueryRowContext(context.Background(), `
			SELECT model, input_tokens, output_tokens, cost_usd, updated_at
			FROM cost_estimates
			WHERE session_id = ? AND source_app = ?
		`, sessionID, sourceApp).Scan(&out.Model, &out.InputTokens, &out.OutputTokens, &out.CostUSD, &out.UpdatedAt)
	})
	if err != nil {
		return nil, fmt.Errorf("accumulate cost: %w", err)
	}
	out.SessionID = sessionID
	out.SourceApp = sourceApp
	return &out, nil
}

// SetCost rewrites the recomputed USD cost for a session.
func SetCost(db *sql.DB, sessionID, sourceApp string, costUSD float64) error {
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE cost_estimates SET cost_usd = ? WHERE session_id = ? AND source_app = ?
		`, costUSD, sessionID, sourceApp)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("set cost: %w", err)
	}
	return nil
}

// GetCostEstimate loads one session's cost estimate.
// Returns models.ErrNotFound when absent.
func GetCostEstimate(db *sql.DB, sessionID, sourceApp string) (*models.CostEstimate, error) {
	var c models.CostEstimate
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `
			SELECT session_id, source_app, model, input_tokens, output_tokens, cost_usd, updated_at
			FROM cost_estimates
			WHERE session_id = ? AND source_app = ?
		`, sessionID, sourceApp).Scan(&c.SessionID, &c.SourceApp, &c.Model, &c.InputTokens, &c.OutputTokens, &c.CostUSD, &c.UpdatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cost estimate: %w", err)
	}
	return &c, nil
}

// ProjectCost is a per-project cost rollup.
type ProjectCost struct {
	Project      string  `json:"project"`
	Sessions     int64   `json:"sessions"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// CostsByProject aggregates stored estimates per source app.
func CostsByProject(db *sql.DB) ([]ProjectCost, error) {
	var out []ProjectCost
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT source_app, COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cost_usd)
			FROM cost_estimates
			GROUP BY source_app
			ORDER BY SUM(cost_usd) DESC
		`)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			var c ProjectCost
			if scanErr := rows.Scan(&c.Project, &c.Sessions, &c.InputTokens, &c.OutputTokens, &c.CostUSD); scanErr != nil {
				return scanErr
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("costs by project: %w", err)
	}
	return out, nil
}

// SessionCosts lists per-session estimates, optionally scoped to one app.
func SessionCosts(db *sql.DB, sourceApp string, limit int) ([]*models.CostEstimate, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT session_id, source_app, model, input_tokens, output_tokens, cost_usd, updated_at
		FROM cost_estimates
	`
	args := []any{}
	if sourceApp != "" {
		query += ` WHERE source_app = ?`
		args = append(args, sourceApp)
	}
	query += ` ORDER BY cost_usd DESC LIMIT ?`
	args = append(args, limit)

	var out []*models.CostEstimate
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			var c models.CostEstimate
			if scanErr := rows.Scan(&c.SessionID, &c.SourceApp, &c.Model, &c.InputTokens, &c.OutputTokens, &c.CostUSD, &c.UpdatedAt); scanErr != nil {
				return scanErr
			}
			out = append(out, &c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("session costs: %w", err)
	}
	return out, nil
}

// DailyCost is a per-day cost rollup keyed by the estimate's last update day.
type DailyCost struct {
	Day          string  `json:"day"`
	Sessions     int64   `json:"sessions"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// CostsByDay aggregates stored estimates per day.
func CostsByDay(db *sql.DB, days int) ([]DailyCost, error) {
	if days <= 0 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	var out []DailyCost
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), `
			SELECT date(updated_at), COUNT(*), SUM(input_tokens), SUM(output_tokens), SUM(cost_usd)
			FROM cost_estimates
			WHERE updated_at > ?
			GROUP BY date(updated_at)
			ORDER BY date(updated_at) DESC
		`, since)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			var c DailyCost
			if scanErr := rows.Scan(&c.Day, &c.Sessions, &c.InputTokens, &c.OutputTokens, &c.CostUSD); scanErr != nil {
				return scanErr
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("costs by day: %w", err)
	}
	return out, nil
}
