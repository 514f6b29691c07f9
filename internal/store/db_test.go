package store

import (
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	tempDir := t.TempDir()
	testDBPath := tempDir + "/test.db"

	db, err := InitDBWithPath(testDBPath)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
	}

	return db, cleanup
}

// appendTestEvent stores a minimal valid event and returns it.
func appendTestEvent(t *testing.T, db *sql.DB, sourceApp, sessionID string, evType models.HookEventType, payload string, at time.Time) *models.Event {
	t.Helper()
	if payload == "" {
		payload = "{}"
	}
	ev := &models.Event{
		SourceApp: sourceApp,
		SessionID: sessionID,
		Type:      evType,
		Payload:   json.RawMessage(payload),
		Timestamp: at,
	}
	_, err := AppendEvent(db, ev)
	require.NoError(t, err)
	return ev
}

func TestInitDBWithPathMemory(t *testing.T) {
	db, err := InitDBWithPath(":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	current, latest, err := SchemaVersion(db)
	require.NoError(t, err)
	require.Equal(t, latest, current)
	require.Greater(t, latest, int64(0))
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	require.NoError(t, RunMigrations(db))
	require.NoError(t, RunMigrations(db))
}
