package models

import (
	"encoding/json"
	"time"
)

// ID Strategy:
// - Events use int64 (append-only log, monotonic ordering, auto-increment)
// - Sessions and cost estimates are keyed by the natural composite
//   (session_id, source_app); agent nodes by "app:session"
// - Conflicts and alerts use deterministic string IDs so repeated scans
//   produce stable identifiers a client can dismiss or de-duplicate
// - Webhook subscriptions use generated string IDs

// SessionStatus represents the lifecycle state of an agent session.
type SessionStatus string

// Session status constants. A session starts active and ends stopped;
// waiting and idle are intermediate states driven by events and sweeps.
const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusWaiting SessionStatus = "waiting"
	SessionStatusIdle    SessionStatus = "idle"
	SessionStatusStopped SessionStatus = "stopped"
)

// IsTerminal returns true if the session has ended.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusStopped
}

// Event represents a single hook event in the append-only log.
type Event struct {
	ID        int64           `json:"id"`
	SourceApp string          `json:"source_app"`
	SessionID string          `json:"session_id"`
	Type      HookEventType   `json:"hook_event_type"`
	Payload   json.RawMessage `json:"payload"`
	Chat      json.RawMessage `json:"chat,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Model     string          `json:"model,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TaskContext is the structured descriptor parsed from a branch name.
type TaskContext struct {
	Prefix      string `json:"prefix,omitempty"`
	TicketID    string `json:"ticket_id,omitempty"`
	Description string `json:"description,omitempty"`
	Display     string `json:"display,omitempty"`
}

// IsZero reports whether nothing was parsed from the branch.
func (tc TaskContext) IsZero() bool {
	return tc.Display == ""
}

// Session is the derived per-session entity maintained by the lifecycle engine.
type Session struct {
	SessionID        string        `json:"session_id"`
	SourceApp        string        `json:"source_app"`
	Status           SessionStatus `json:"status"`
	Branch           string        `json:"branch,omitempty"`
	TaskContext      TaskContext   `json:"task_context"`
	Topic            string        `json:"topic,omitempty"`
	Model            string        `json:"model,omitempty"`
	WorkingDir       string        `json:"working_dir,omitempty"`
	EventCount       int64         `json:"event_count"`
	CompactionCount  int64         `json:"compaction_count"`
	LastCompactionAt *time.Time    `json:"last_compaction_at,omitempty"`
	// CompactionHistory keeps the most recent compaction timestamps,
	// newest last, capped at CompactionHistoryCap.
	CompactionHistory []time.Time `json:"compaction_history,omitempty"`
	StartedAt         time.Time   `json:"started_at"`
	LastEventAt       time.Time   `json:"last_event_at"`
}

// CompactionHistoryCap bounds the per-session compaction timestamp history.
const CompactionHistoryCap = 20

// Key returns the composite identity "app:session" used by the topology
// tracker and as the parent id for spawned sub-agents.
func (s *Session) Key() string {
	return s.SourceApp + ":" + s.SessionID
}

// TestStatus is the last observed test outcome for a project.
type TestStatus string

// Test status constants.
const (
	TestStatusPassing TestStatus = "passing"
	TestStatusFailing TestStatus = "failing"
	TestStatusUnknown TestStatus = "unknown"
)

// HealthTrend describes the direction of a project's health score relative
// to the previously computed value.
type HealthTrend string

// Health trend constants.
const (
	TrendImproving HealthTrend = "improving"
	TrendDeclining HealthTrend = "declining"
	TrendStable    HealthTrend = "stable"
)

// DevServer is a detected development server listening on a port.
type DevServer struct {
	Port int    `json:"port"`
	Type string `json:"type"`
}

// Project is the derived per-source-app entity. Created on the first event
// referencing an unknown source app; never deleted.
type Project struct {
	Name             string          `json:"name"`
	Path             string          `json:"path,omitempty"`
	Branch           string          `json:"branch,omitempty"`
	ActiveSessions   int64           `json:"active_sessions"`
	TestStatus       TestStatus      `json:"test_status"`
	TestSummary      string          `json:"test_summary,omitempty"`
	DevServers       []DevServer     `json:"dev_servers,omitempty"`
	DeploymentStatus json.RawMessage `json:"deployment_status,omitempty"`
	CIStatus         json.RawMessage `json:"ci_status,omitempty"`
	HealthScore      int             `json:"health_score"`
	HealthTrend      HealthTrend     `json:"health_trend"`
	LastActivityAt   time.Time       `json:"last_activity_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// AgentNode is one spawned sub-agent in the topology graph, keyed by the
// composite id "app:session". Root sessions never appear as nodes.
type AgentNode struct {
	ID          string        `json:"id"`
	ParentID    string        `json:"parent_id,omitempty"`
	Project     string        `json:"project"`
	Status      SessionStatus `json:"status"`
	Model       string        `json:"model,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	LastEventAt time.Time     `json:"last_event_at"`
	// Children is derived at read time from ParentID links; never stored.
	Children []string `json:"children,omitempty"`
}

// DevLog is the immutable end-of-session summary record, synthesized exactly
// once when a session terminates (SessionEnd or the stale sweep).
type DevLog struct {
	ID           int64            `json:"id"`
	SessionID    string           `json:"session_id"`
	SourceApp    string           `json:"source_app"`
	Branch       string           `json:"branch,omitempty"`
	Summary      string           `json:"summary"`
	FilesChanged []string         `json:"files_changed,omitempty"`
	Commits      []string         `json:"commits,omitempty"`
	ToolCounts   map[string]int64 `json:"tool_counts,omitempty"`
	StartedAt    time.Time        `json:"started_at"`
	EndedAt      time.Time        `json:"ended_at"`
	DurationSecs int64            `json:"duration_seconds"`
	EventCount   int64            `json:"event_count"`
}

// ConflictSeverity ranks a cross-project file conflict.
type ConflictSeverity string

// Conflict severity constants.
const (
	SeverityHigh   ConflictSeverity = "high"
	SeverityMedium ConflictSeverity = "medium"
	SeverityLow    ConflictSeverity = "low"
)

// FileConflict is a derived cross-project collision on one file path within
// a sliding window. Only the dismissal marker is persisted; the conflict
// itself is recomputed on every query.
type FileConflict struct {
	ID       string           `json:"id"`
	FilePath string           `json:"file_path"`
	Projects []string         `json:"projects"`
	Severity ConflictSeverity `json:"severity"`
	Writers  []string         `json:"writers,omitempty"`
	FirstAt  time.Time        `json:"first_at"`
	LastAt   time.Time        `json:"last_at"`
}

// FileAccess is one recorded file touch from a tool event.
type FileAccess struct {
	ID        int64     `json:"id"`
	FilePath  string    `json:"file_path"`
	Project   string    `json:"project"`
	SessionID string    `json:"session_id"`
	SourceApp string    `json:"source_app"`
	Mode      string    `json:"mode"` // "read" or "write"
	CreatedAt time.Time `json:"created_at"`
}

// CostEstimate accumulates estimated token usage and USD cost per session.
// Token totals are monotonic within a session's lifetime; cost is fully
// recomputed from the totals whenever they change.
type CostEstimate struct {
	SessionID    string    `json:"session_id"`
	SourceApp    string    `json:"source_app"`
	Model        string    `json:"model,omitempty"`
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AlertSeverity ranks an anomaly alert.
type AlertSeverity string

// Alert severity constants.
const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Alert types produced by the anomaly scan.
const (
	AlertStuckAgent       = "stuck_agent"
	AlertExcessiveWrites  = "excessive_writes"
	AlertRepeatedFailures = "repeated_failures"
)

// Alert is one anomaly detected by a scan. The ID is deterministic
// ("type-session-app") so repeated scans yield stable identifiers.
type Alert struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Severity  AlertSeverity `json:"severity"`
	SessionID string        `json:"session_id"`
	SourceApp string        `json:"source_app"`
	Message   string        `json:"message"`
	Count     int64         `json:"count,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// WebhookSubscription is a registered delivery target for broadcast events.
type WebhookSubscription struct {
	ID            string     `json:"id"`
	URL           string     `json:"url"`
	Secret        string     `json:"-"`
	Events        []string   `json:"events,omitempty"`
	Active        bool       `json:"active"`
	LastStatus    string     `json:"last_status,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	DeliveryCount int64      `json:"delivery_count"`
	FailureCount  int64      `json:"failure_count"`
	LastDelivery  *time.Time `json:"last_delivery,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
