package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

func TestWebhookCRUD(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	sub := &models.WebhookSubscription{
		ID:     "wh-1",
		URL:    "https://example.com/hook",
		Secret: "s3cret",
		Events: []string{"event"},
		Active: true,
	}
	require.NoError(t, InsertWebhook(db, sub))

	got, err := GetWebhook(db, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", got.URL)
	assert.Equal(t, "s3cret", got.Secret)
	assert.Equal(t, []string{"event"}, got.Events)
	assert.True(t, got.Active)

	got.URL = "https://example.com/hook2"
	got.Active = false
	require.NoError(t, UpdateWebhook(db, got))

	got, err = GetWebhook(db, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook2", got.URL)
	assert.False(t, got.Active)

	require.NoError(t, DeleteWebhook(db, "wh-1"))
	_, err = GetWebhook(db, "wh-1")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateWebhookNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	err := UpdateWebhook(db, &models.WebhookSubscription{ID: "ghost", URL: "https://example.com"})
	require.ErrorIs(t, err, models.ErrNotFound)

	require.ErrorIs(t, DeleteWebhook(db, "ghost"), models.ErrNotFound)
}

func TestListWebhooksActiveOnly(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, InsertWebhook(db, &models.WebhookSubscription{ID: "on", URL: "https://example.com/a", Active: true}))
	require.NoError(t, InsertWebhook(db, &models.WebhookSubscription{ID: "off", URL: "https://example.com/b", Active: false}))

	all, err := ListWebhooks(db, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := ListWebhooks(db, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "on", active[0].ID)
}

func TestRecordWebhookDeliveryCounters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, InsertWebhook(db, &models.WebhookSubscription{ID: "wh-1", URL: "https://example.com", Active: true}))

	now := time.Now().UTC()
	require.NoError(t, RecordWebhookDelivery(db, "wh-1", "200 OK", "", true, now))
	require.NoError(t, RecordWebhookDelivery(db, "wh-1", "", "connection refused", false, now.Add(time.Minute)))

	got, err := GetWebhook(db, "wh-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.DeliveryCount)
	assert.Equal(t, int64(1), got.FailureCount)
	assert.Equal(t, "connection refused", got.LastError)
	require.NotNil(t, got.LastDelivery)
}
