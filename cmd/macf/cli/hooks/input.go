// Package hooks implements the host lifecycle hook runtime: stdin JSON in,
// stdout JSON out, one short-lived process per invocation. Handlers derive
// all state from the event log; the only long-lived process is the search
// service.
package hooks

import (
	"encoding/json"
	"fmt"
	"io"
)

// Hook verbs. These become subcommands under `macf hooks claude-code`.
const (
	HookNameSessionStart      = "session-start"
	HookNameUserPromptSubmit  = "user-prompt-submit"
	HookNamePreToolUse        = "pre-tool-use"
	HookNamePostToolUse       = "post-tool-use"
	HookNameStop              = "stop"
	HookNameSubagentStop      = "subagent-stop"
	HookNamePreCompact        = "pre-compact"
	HookNameSessionEnd        = "session-end"
	HookNameNotification      = "notification"
	HookNamePermissionRequest = "permission-request"
)

// HookNames lists all verbs in registration order.
func HookNames() []string {
	return []string{
		HookNameSessionStart,
		HookNameUserPromptSubmit,
		HookNamePreToolUse,
		HookNamePostToolUse,
		HookNameStop,
		HookNameSubagentStop,
		HookNamePreCompact,
		HookNameSessionEnd,
		HookNameNotification,
		HookNamePermissionRequest,
	}
}

// maxInputBytes bounds the stdin document.
const maxInputBytes = 4 << 20

// Input is the hook stdin document. Fields beyond the common set are
// populated only for the events that carry them.
type Input struct {
	SessionID      string `json:"session_id"`
	HookEventName  string `json:"hook_event_name"`
	CWD            string `json:"cwd"`
	PermissionMode string `json:"permission_mode,omitempty"`
	TranscriptPath string `json:"transcript_path,omitempty"`

	Source string `json:"source,omitempty"` // session-start

	Prompt     string `json:"prompt,omitempty"`      // user-prompt-submit
	PromptUUID string `json:"prompt_uuid,omitempty"` // user-prompt-submit

	ToolName     string         `json:"tool_name,omitempty"`     // pre/post-tool-use, permission-request
	ToolInput    map[string]any `json:"tool_input,omitempty"`    // pre-tool-use
	ToolUseID    string         `json:"tool_use_id,omitempty"`   // pre/post-tool-use
	ToolResponse any            `json:"tool_response,omitempty"` // post-tool-use

	StopHookActive bool `json:"stop_hook_active,omitempty"` // stop, subagent-stop

	Trigger string `json:"trigger,omitempty"` // pre-compact: manual|auto
	Reason  string `json:"reason,omitempty"`  // session-end

	NotificationType string `json:"notification_type,omitempty"` // notification
	Message          string `json:"message,omitempty"`           // notification

	Type string `json:"type,omitempty"` // permission-request
}

// ReadInput decodes one JSON object from r.
func ReadInput(r io.Reader) (*Input, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxInputBytes))
	if err != nil {
		return nil, fmt.Errorf("reading hook input: %w", err)
	}
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parsing hook input: %w", err)
	}
	return &in, nil
}

// ForensicMap returns the subset of the input persisted on forensic events.
// Prompt text is excluded here; handlers that persist it redact it first.
func (in *Input) ForensicMap() map[string]any {
	m := map[string]any{
		"session_id":      in.SessionID,
		"hook_event_name": in.HookEventName,
	}
	if in.CWD != "" {
		m["cwd"] = in.CWD
	}
	if in.PermissionMode != "" {
		m["permission_mode"] = in.PermissionMode
	}
	if in.ToolName != "" {
		m["tool_name"] = in.ToolName
	}
	if in.ToolUseID != "" {
		m["tool_use_id"] = in.ToolUseID
	}
	return m
}
