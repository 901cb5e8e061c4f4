package hooks

import (
	"fmt"
	"io"

	"maceff.io/macf/cmd/macf/cli/jsonutil"
)

// Host-facing hookEventName values for Shape P outputs.
const (
	eventNameUserPromptSubmit = "UserPromptSubmit"
	eventNamePreToolUse       = "PreToolUse"
	eventNamePostToolUse      = "PostToolUse"
)

// Permission decisions for pre-tool-use.
const (
	DecisionAllow = "allow"
	DecisionDeny  = "deny"
	DecisionAsk   = "ask"
)

// HookSpecificOutput is the Shape P payload.
type HookSpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	AdditionalContext        string `json:"additionalContext,omitempty"`
	PermissionDecision       string `json:"permissionDecision,omitempty"`
	PermissionDecisionReason string `json:"permissionDecisionReason,omitempty"`
}

// Output is the hook stdout document. Exactly one of SystemMessage (Shape S)
// or HookSpecificOutput (Shape P) may be set, depending on the event.
type Output struct {
	Continue           bool                `json:"continue"`
	SystemMessage      string              `json:"systemMessage,omitempty"`
	HookSpecificOutput *HookSpecificOutput `json:"hookSpecificOutput,omitempty"`
}

// ContinueOutput is the safe default emitted on any internal failure.
func ContinueOutput() Output {
	return Output{Continue: true}
}

// shapeP reports whether hookName uses Shape P output.
func shapeP(hookName string) bool {
	switch hookName {
	case HookNameUserPromptSubmit, HookNamePreToolUse, HookNamePostToolUse:
		return true
	}
	return false
}

// hostEventName maps a verb to the hookEventName the host expects in Shape P
// output.
func hostEventName(hookName string) string {
	switch hookName {
	case HookNameUserPromptSubmit:
		return eventNameUserPromptSubmit
	case HookNamePreToolUse:
		return eventNamePreToolUse
	case HookNamePostToolUse:
		return eventNamePostToolUse
	}
	return ""
}

// EnforceShape strips fields the event's output schema does not allow and
// reports what was stripped. The host rejects out-of-shape documents
// outright, so a stripped field plus a schema_violation event beats a
// rejected hook.
func EnforceShape(hookName string, out Output) (Output, []string) {
	var violations []string

	if shapeP(hookName) {
		if out.SystemMessage != "" {
			violations = append(violations, "systemMessage")
			out.SystemMessage = ""
		}
		if out.HookSpecificOutput != nil {
			out.HookSpecificOutput.HookEventName = hostEventName(hookName)
			if hookName != HookNamePreToolUse {
				if out.HookSpecificOutput.PermissionDecision != "" || out.HookSpecificOutput.PermissionDecisionReason != "" {
					violations = append(violations, "permissionDecision")
					out.HookSpecificOutput.PermissionDecision = ""
					out.HookSpecificOutput.PermissionDecisionReason = ""
				}
			}
			if *out.HookSpecificOutput == (HookSpecificOutput{HookEventName: out.HookSpecificOutput.HookEventName}) {
				out.HookSpecificOutput = nil
			}
		}
		return out, violations
	}

	if out.HookSpecificOutput != nil {
		violations = append(violations, "hookSpecificOutput")
		out.HookSpecificOutput = nil
	}
	return out, violations
}

// WriteOutput emits the single stdout JSON document.
func WriteOutput(w io.Writer, out Output) error {
	line, err := jsonutil.MarshalLine(out)
	if err != nil {
		return fmt.Errorf("encoding hook output: %w", err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing hook output: %w", err)
	}
	return nil
}
