package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

const webhookColumns = `id, url, secret, events, active, last_status, last_error,
	delivery_count, failure_count, last_delivery_at, created_at`

func scanWebhook(row interface{ Scan(dest ...any) error }) (*models.WebhookSubscription, error) {
	var w models.WebhookSubscription
	var events string
	var active int
	var lastDelivery sql.NullTime
	if err := row.Scan(
		&w.ID, &w.URL, &w.Secret, &events, &active, &w.LastStatus, &w.LastError,
		&w.DeliveryCount, &w.FailureCount, &lastDelivery, &w.CreatedAt,
	); err != nil {
		return nil, err
	}
	w.Active = active != 0
	w.LastDelivery = scanNullTime(lastDelivery)
	decodeJSONColumn(events, &w.Events)
	return &w, nil
}

// InsertWebhook stores a new subscription.
func InsertWebhook(db *sql.DB, w *models.WebhookSubscription) error {
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	active := 0
	if w.Active {
		active = 1
	}
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			INSERT INTO webhook_subscriptions (id, url, secret, events, active, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, w.ID, w.URL, w.Secret, encodeJSONColumn(w.Events, "[]"), active, w.CreatedAt)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

// UpdateWebhook rewrites a subscription's target fields.
// Returns models.ErrNotFound when the id does not exist.
func UpdateWebhook(db *sql.DB, w *models.WebhookSubscription) error {
	active := 0
	if w.Active {
		active = 1
	}
	var affected int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			UPDATE webhook_subscriptions
			SET url = ?, secret = ?, events = ?, active = ?
			WHERE id = ?
		`, w.URL, w.Secret, encodeJSONColumn(w.Events, "[]"), active, w.ID)
		if execErr != nil {
			return execErr
		}
		var raErr error
		affected, raErr = res.RowsAffected()
		return raErr
	})
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// DeleteWebhook removes a subscription by id.
func DeleteWebhook(db *sql.DB, id string) error {
	var affected int64
	err := RetryWithBackoff(func() error {
		res, execErr := db.ExecContext(context.Background(), `
			DELETE FROM webhook_subscriptions WHERE id = ?
		`, id)
		if execErr != nil {
			return execErr
		}
		var raErr error
		affected, raErr = res.RowsAffected()
		return raErr
	})
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// GetWebhook loads one subscription. Returns models.ErrNotFound when absent.
func GetWebhook(db *sql.DB, id string) (*models.WebhookSubscription, error) {
	var w *models.WebhookSubscription
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+webhookColumns+` FROM webhook_subscriptions WHERE id = ?
		`, id)
		var scanErr error
		w, scanErr = scanWebhook(row)
		return scanErr
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook: %w", err)
	}
	return w, nil
}

// ListWebhooks returns all subscriptions; activeOnly filters to deliverable ones.
func ListWebhooks(db *sql.DB, activeOnly bool) ([]*models.WebhookSubscription, error) {
	query := `SELECT ` + webhookColumns + ` FROM webhook_subscriptions ORDER BY created_at`
	if activeOnly {
		query = `SELECT ` + webhookColumns + ` FROM webhook_subscriptions WHERE active = 1 ORDER BY created_at`
	}
	var out []*models.WebhookSubscription
	err := RetryWithBackoff(func() error {
		rows, err := db.QueryContext(context.Background(), query)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		out = out[:0]
		for rows.Next() {
			w, scanErr := scanWebhook(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	return out, nil
}

// RecordWebhookDelivery stores the outcome of one delivery attempt. Delivery
// is fire-and-forget; this record is the only trace of a failure.
func RecordWebhookDelivery(db *sql.DB, id, status, deliveryErr string, ok bool, at time.Time) error {
	success, failure := 0, 1
	if ok {
		success, failure = 1, 0
	}
	err := RetryWithBackoff(func() error {
		_, execErr := db.ExecContext(context.Background(), `
			UPDATE webhook_subscriptions
			SET last_status = ?, last_error = ?,
			    delivery_count = delivery_count + ?,
			    failure_count = failure_count + ?,
			    last_delivery_at = ?
			WHERE id = ?
		`, status, deliveryErr, success, failure, at, id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("record webhook delivery: %w", err)
	}
	return nil
}
