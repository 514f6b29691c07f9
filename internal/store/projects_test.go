package store

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
)

func TestTouchProjectCreatesAndKeepsFields(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	require.NoError(t, TouchProject(db, "api", "/home/dev/api", "main", now))

	p, err := GetProject(db, "api")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/api", p.Path)
	assert.Equal(t, "main", p.Branch)
	assert.Equal(t, models.TestStatusUnknown, p.TestStatus)

	// Empty path/branch on later events must not blank the stored values.
	later := now.Add(time.Minute)
	require.NoError(t, TouchProject(db, "api", "", "", later))

	p, err = GetProject(db, "api")
	require.NoError(t, err)
	assert.Equal(t, "/home/dev/api", p.Path)
	assert.Equal(t, "main", p.Branch)
	assert.True(t, p.LastActivityAt.After(now))
}

func TestGetProjectNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	_, err := GetProject(db, "nope")
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestRecountProjectSessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	require.NoError(t, TouchProject(db, "api", "", "", now))
	startTestSession(t, db, "a", "api", now)
	startTestSession(t, db, "b", "api", now)
	startTestSession(t, db, "c", "api", now)
	_, err := StopSession(db, "c", "api", now)
	require.NoError(t, err)

	require.NoError(t, RecountProjectSessions(db, "api"))

	p, err := GetProject(db, "api")
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.ActiveSessions)
}

func TestSetProjectTestStatusAndHealth(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	require.NoError(t, TouchProject(db, "api", "", "", now))
	require.NoError(t, SetProjectTestStatus(db, "api", models.TestStatusFailing, "3 tests failed"))
	require.NoError(t, SetProjectHealth(db, "api", 42, models.TrendDeclining))

	p, err := GetProject(db, "api")
	require.NoError(t, err)
	assert.Equal(t, models.TestStatusFailing, p.TestStatus)
	assert.Equal(t, "3 tests failed", p.TestSummary)
	assert.Equal(t, 42, p.HealthScore)
	assert.Equal(t, models.TrendDeclining, p.HealthTrend)
}

func TestSetProjectDevServersAndStatusBlobs(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	require.NoError(t, TouchProject(db, "api", "", "", now))
	require.NoError(t, SetProjectDevServers(db, "api", []models.DevServer{{Port: 3000, Type: "vite"}}))
	require.NoError(t, SetProjectDeploymentStatus(db, "api", "deployment", json.RawMessage(`{"state":"ready"}`)))
	require.NoError(t, SetProjectDeploymentStatus(db, "api", "ci", json.RawMessage(`{"state":"green"}`)))

	p, err := GetProject(db, "api")
	require.NoError(t, err)
	require.Len(t, p.DevServers, 1)
	assert.Equal(t, 3000, p.DevServers[0].Port)
	assert.JSONEq(t, `{"state":"ready"}`, string(p.DeploymentStatus))
	assert.JSONEq(t, `{"state":"green"}`, string(p.CIStatus))
}

func TestListProjectsOrderedByActivity(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	require.NoError(t, TouchProject(db, "older", "", "", now.Add(-time.Hour)))
	require.NoError(t, TouchProject(db, "newer", "", "", now))

	projects, err := ListProjects(db)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "newer", projects[0].Name)

	names, err := ProjectNames(db)
	require.NoError(t, err)
	assert.Equal(t, []string{"newer", "older"}, names)
}
