package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

func recordAccess(t *testing.T, db *sql.DB, path, project, mode string, at time.Time) {
	t.Helper()
	require.NoError(t, RecordFileAccess(db, &models.FileAccess{
		FilePath:  path,
		Project:   project,
		SessionID: "sess-" + project,
		SourceApp: project,
		Mode:      mode,
		CreatedAt: at,
	}))
}

func TestFileAccessesSince(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	recordAccess(t, db, "shared.go", "api", "write", now)
	recordAccess(t, db, "shared.go", "web", "read", now)
	recordAccess(t, db, "old.go", "api", "write", now.Add(-2*time.Hour))

	accesses, err := FileAccessesSince(db, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, accesses, 2)
	assert.Equal(t, "shared.go", accesses[0].FilePath)
}

func TestDismissConflictRefreshesTimestamp(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, DismissConflict(db, "shared.go:api,web", old))

	// Expired dismissal is no longer active.
	active, err := ActiveDismissals(db, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, active)

	// Re-dismissing restarts the window.
	require.NoError(t, DismissConflict(db, "shared.go:api,web", time.Now().UTC()))
	active, err = ActiveDismissals(db, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	_, ok := active["shared.go:api,web"]
	assert.True(t, ok)
}

func TestPruneFileAccessLogSeparateCutoffs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	recordAccess(t, db, "fresh.go", "api", "write", now)
	recordAccess(t, db, "stale.go", "api", "write", now.Add(-30*time.Hour))
	require.NoError(t, DismissConflict(db, "fresh-dismissal", now))
	require.NoError(t, DismissConflict(db, "stale-dismissal", now.Add(-30*time.Hour)))

	deleted, err := PruneFileAccessLog(db, now.Add(-24*time.Hour), now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	accesses, err := FileAccessesSince(db, now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, accesses, 1)
	assert.Equal(t, "fresh.go", accesses[0].FilePath)

	active, err := ActiveDismissals(db, now.Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	_, ok := active["fresh-dismissal"]
	assert.True(t, ok)
}
