package models

// HookEventType is the lifecycle point an event was emitted at.
// Ingestion rejects any type outside the allow-list below.
type HookEventType string

// Known hook event types. HookEventTest exists so integration checks can
// exercise the full ingestion path; like any unrecognized-but-allowed type it
// still bumps its session to active.
const (
	HookSessionStart       HookEventType = "SessionStart"
	HookSessionEnd         HookEventType = "SessionEnd"
	HookStop               HookEventType = "Stop"
	HookNotification       HookEventType = "Notification"
	HookUserPromptSubmit   HookEventType = "UserPromptSubmit"
	HookPreToolUse         HookEventType = "PreToolUse"
	HookPostToolUse        HookEventType = "PostToolUse"
	HookPostToolUseFailure HookEventType = "PostToolUseFailure"
	HookSubagentStart      HookEventType = "SubagentStart"
	HookSubagentStop       HookEventType = "SubagentStop"
	HookPreCompact         HookEventType = "PreCompact"
	HookPermissionRequest  HookEventType = "PermissionRequest"
	HookTeammateIdle       HookEventType = "TeammateIdle"
	HookEventTest          HookEventType = "__test"
)

// knownEventTypes is the ingestion allow-list.
var knownEventTypes = map[HookEventType]struct{}{
	HookSessionStart:       {},
	HookSessionEnd:         {},
	HookStop:               {},
	HookNotification:       {},
	HookUserPromptSubmit:   {},
	HookPreToolUse:         {},
	HookPostToolUse:        {},
	HookPostToolUseFailure: {},
	HookSubagentStart:      {},
	HookSubagentStop:       {},
	HookPreCompact:         {},
	HookPermissionRequest:  {},
	HookTeammateIdle:       {},
	HookEventTest:          {},
}

// IsKnown reports whether t is in the ingestion allow-list.
func (t HookEventType) IsKnown() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// IsToolEvent reports whether t carries tool usage information.
func (t HookEventType) IsToolEvent() bool {
	return t == HookPreToolUse || t == HookPostToolUse || t == HookPostToolUseFailure
}

// IsPromptHeavy reports whether t typically carries chat history worth
// counting toward input-token estimates.
func (t HookEventType) IsPromptHeavy() bool {
	return t == HookUserPromptSubmit || t == HookSessionStart || t == HookPreCompact
}
