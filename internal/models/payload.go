package models

import (
	"encoding/json"
	"strings"
)

// EventPayload gives typed access to the per-type JSON payload shape.
// Payloads vary by hook event type; rather than untyped map lookups at every
// call site, decode once and read the narrow field the caller needs. Unknown
// or missing fields decode to zero values, so malformed payloads degrade to
// no-ops instead of panics.
type EventPayload struct {
	ToolName     string          `json:"tool_name"`
	ToolInputRaw json.RawMessage `json:"tool_input"`
	ToolResponse json.RawMessage `json:"tool_response"`
	Prompt       string          `json:"prompt"`
	Message      string          `json:"message"`
	AgentID      string          `json:"agent_id"`
	AgentType    string          `json:"agent_type"`
	Model        string          `json:"model"`
	Branch       string          `json:"branch"`
	WorkingDir   string          `json:"cwd"`
	Trigger      string          `json:"trigger"`
}

// ToolInputFields is the subset of tool_input fields the enrichment pipeline
// reads: file paths from Write/Edit/Read, the command line from Bash.
type ToolInputFields struct {
	FilePath string `json:"file_path"`
	Path     string `json:"path"`
	Command  string `json:"command"`
}

// DecodePayload decodes an event payload. A nil or empty payload yields the
// zero value; a decode error is returned so the boundary can log it.
func DecodePayload(raw json.RawMessage) (EventPayload, error) {
	var p EventPayload
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}

// ToolInput decodes the nested tool_input object. Returns the zero value for
// empty or non-object input.
func (p EventPayload) ToolInput() ToolInputFields {
	var f ToolInputFields
	if len(p.ToolInputRaw) == 0 {
		return f
	}
	_ = json.Unmarshal(p.ToolInputRaw, &f)
	return f
}

// TargetPath returns the file path a tool operated on, preferring file_path
// over path (Read uses file_path, some MCP tools use path).
func (f ToolInputFields) TargetPath() string {
	if f.FilePath != "" {
		return f.FilePath
	}
	return f.Path
}

// ToolResponseText extracts a plain-text rendering of the tool response for
// output-token estimation. Handles string responses, {"output": "..."} and
// {"result": "..."} shapes; anything else falls back to the raw JSON length.
func (p EventPayload) ToolResponseText() string {
	raw := p.ToolResponse
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Output string `json:"output"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Output != "" {
			return obj.Output
		}
		if obj.Result != "" {
			return obj.Result
		}
	}
	return string(raw)
}

// IsWriteTool reports whether name is a file-mutating tool.
func IsWriteTool(name string) bool {
	switch name {
	case "Write", "Edit", "MultiEdit", "NotebookEdit":
		return true
	}
	return false
}

// IsReadTool reports whether name is a file-reading tool.
func IsReadTool(name string) bool {
	switch name {
	case "Read", "Glob", "Grep":
		return true
	}
	return false
}

// FirstPromptLine returns the first non-empty line of the prompt, trimmed,
// for use as a session topic.
func (p EventPayload) FirstPromptLine() string {
	for _, line := range strings.Split(p.Prompt, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			return t
		}
	}
	return ""
}
