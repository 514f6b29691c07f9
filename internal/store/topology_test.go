package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

func TestUpsertAgentNodeRefreshes(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	require.NoError(t, UpsertAgentNode(db, &models.AgentNode{
		ID:          "api:child-1",
		ParentID:    "api:root",
		Project:     "api",
		Model:       "claude-haiku-3",
		StartedAt:   now,
		LastEventAt: now,
	}))

	// A repeat start refreshes activity but keeps the model when absent.
	require.NoError(t, UpsertAgentNode(db, &models.AgentNode{
		ID:          "api:child-1",
		ParentID:    "api:root",
		Project:     "api",
		Status:      models.SessionStatusActive,
		StartedAt:   now,
		LastEventAt: now.Add(time.Minute),
	}))

	nodes, err := ListAgentNodes(db, "api")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "claude-haiku-3", nodes[0].Model)
	assert.Equal(t, "api:root", nodes[0].ParentID)
}

func TestStopAgentNodeAndRetention(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, UpsertAgentNode(db, &models.AgentNode{
		ID: "api:child-1", Project: "api", StartedAt: old, LastEventAt: old,
	}))
	require.NoError(t, UpsertAgentNode(db, &models.AgentNode{
		ID: "api:child-2", Project: "api",
	}))

	require.NoError(t, StopAgentNode(db, "api:child-1", old))

	deleted, err := DeleteAgentNodesBefore(db, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	nodes, err := ListAgentNodes(db, "")
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "api:child-2", nodes[0].ID)
}
