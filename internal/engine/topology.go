package engine

import (
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/DarrenJCoxon/devpulse-sub000/internal/models"
	"github.com/DarrenJCoxon/devpulse-sub000/internal/store"
)

// trackSubagentStart registers a spawned child agent. The payload must carry
// the child's "app:session" identity; a missing or malformed id is logged and
// dropped: topology is best-effort and must never fail the event.
func (e *Engine) trackSubagentStart(ev *models.Event, payload models.EventPayload, now time.Time) error {
	childID := strings.TrimSpace(payload.AgentID)
	if childID == "" || !strings.Contains(childID, ":") {
		slog.Default().Warn("subagent start without usable agent_id",
			"source_app", ev.SourceApp, "session_id", ev.SessionID, "agent_id", payload.AgentID)
		return nil
	}
	node := &models.AgentNode{
		ID:          childID,
		ParentID:    ev.SourceApp + ":" + ev.SessionID,
		Project:     ev.SourceApp,
		Status:      models.SessionStatusActive,
		Model:       firstNonEmpty(payload.Model, ev.Model),
		StartedAt:   now,
		LastEventAt: now,
	}
	return store.UpsertAgentNode(e.db, node)
}

// trackSubagentStop marks the child node stopped. Missing id is a no-op.
func (e *Engine) trackSubagentStop(payload models.EventPayload, now time.Time) error {
	childID := strings.TrimSpace(payload.AgentID)
	if childID == "" {
		return nil
	}
	return store.StopAgentNode(e.db, childID, now)
}

// Topology returns the agent tree for API consumption: every stored node with
// its children list populated from parent links. O(n) over the node count.
func Topology(e *Engine, project string) ([]*models.AgentNode, error) {
	nodes, err := store.ListAgentNodes(e.db, project)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.AgentNode, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID == "" {
			continue
		}
		if parent, ok := byID[n.ParentID]; ok {
			parent.Children = append(parent.Children, n.ID)
		}
	}
	for _, n := range nodes {
		sort.Strings(n.Children)
	}
	return nodes, nil
}
