package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"maceff.io/macf/cmd/macf/cli/hooks"
	"maceff.io/macf/cmd/macf/cli/jsonutil"
)

// ClaudeSettingsFileName is the settings file used by Claude Code.
const ClaudeSettingsFileName = "settings.json"

// ClaudeHookEntry is one command to run for a hook event.
type ClaudeHookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// ClaudeHookMatcher groups hook entries under an optional tool matcher.
type ClaudeHookMatcher struct {
	Matcher string            `json:"matcher,omitempty"`
	Hooks   []ClaudeHookEntry `json:"hooks"`
}

// ClaudeHooksConfig mirrors the "hooks" object of .claude/settings.json.
type ClaudeHooksConfig struct {
	SessionStart      []ClaudeHookMatcher `json:"SessionStart,omitempty"`
	UserPromptSubmit  []ClaudeHookMatcher `json:"UserPromptSubmit,omitempty"`
	PreToolUse        []ClaudeHookMatcher `json:"PreToolUse,omitempty"`
	PostToolUse       []ClaudeHookMatcher `json:"PostToolUse,omitempty"`
	Stop              []ClaudeHookMatcher `json:"Stop,omitempty"`
	SubagentStop      []ClaudeHookMatcher `json:"SubagentStop,omitempty"`
	PreCompact        []ClaudeHookMatcher `json:"PreCompact,omitempty"`
	SessionEnd        []ClaudeHookMatcher `json:"SessionEnd,omitempty"`
	Notification      []ClaudeHookMatcher `json:"Notification,omitempty"`
	PermissionRequest []ClaudeHookMatcher `json:"PermissionRequest,omitempty"`
}

// macfHookPrefixes are command prefixes that identify our hooks.
var macfHookPrefixes = []string{
	"macf ",
	"go run ${CLAUDE_PROJECT_DIR}/cmd/macf/main.go ",
}

// settingsKeyForVerb maps our hook verbs to Claude Code settings keys.
var settingsKeyForVerb = map[string]string{
	hooks.HookNameSessionStart:      "SessionStart",
	hooks.HookNameUserPromptSubmit:  "UserPromptSubmit",
	hooks.HookNamePreToolUse:        "PreToolUse",
	hooks.HookNamePostToolUse:       "PostToolUse",
	hooks.HookNameStop:              "Stop",
	hooks.HookNameSubagentStop:      "SubagentStop",
	hooks.HookNamePreCompact:        "PreCompact",
	hooks.HookNameSessionEnd:        "SessionEnd",
	hooks.HookNameNotification:      "Notification",
	hooks.HookNamePermissionRequest: "PermissionRequest",
}

// hookCommand builds the command line installed for a verb.
func hookCommand(verb string, localDev bool) string {
	if localDev {
		return "go run ${CLAUDE_PROJECT_DIR}/cmd/macf/main.go hooks claude-code " + verb
	}
	return "macf hooks claude-code " + verb
}

// InstallHooks installs all hook verbs into <dir>/.claude/settings.json,
// preserving unrelated settings and hooks from other tools. If force is
// true, existing macf hooks are removed first. Returns the number of hooks
// added.
func InstallHooks(dir string, localDev, force bool) (int, error) {
	settingsPath := filepath.Join(dir, ".claude", ClaudeSettingsFileName)

	var cfg ClaudeHooksConfig
	rawSettings := make(map[string]json.RawMessage)

	existingData, readErr := os.ReadFile(settingsPath) //nolint:gosec // path is dir + fixed suffix
	if readErr == nil {
		if err := json.Unmarshal(existingData, &rawSettings); err != nil {
			return 0, fmt.Errorf("failed to parse existing settings.json: %w", err)
		}
		if hooksRaw, ok := rawSettings["hooks"]; ok {
			if err := json.Unmarshal(hooksRaw, &cfg); err != nil {
				return 0, fmt.Errorf("failed to parse hooks in settings.json: %w", err)
			}
		}
	}

	lists := map[string]*[]ClaudeHookMatcher{
		"SessionStart":      &cfg.SessionStart,
		"UserPromptSubmit":  &cfg.UserPromptSubmit,
		"PreToolUse":        &cfg.PreToolUse,
		"PostToolUse":       &cfg.PostToolUse,
		"Stop":              &cfg.Stop,
		"SubagentStop":      &cfg.SubagentStop,
		"PreCompact":        &cfg.PreCompact,
		"SessionEnd":        &cfg.SessionEnd,
		"Notification":      &cfg.Notification,
		"PermissionRequest": &cfg.PermissionRequest,
	}

	if force {
		for _, list := range lists {
			*list = removeMacfHooks(*list)
		}
	}

	installed := 0
	for _, verb := range hooks.HookNames() {
		key := settingsKeyForVerb[verb]
		list := lists[key]
		command := hookCommand(verb, localDev)
		if hookCommandExists(*list, command) {
			continue
		}
		*list = addHook(*list, command)
		installed++
	}

	hooksRaw, err := json.Marshal(cfg)
	if err != nil {
		return 0, fmt.Errorf("encoding hooks: %w", err)
	}
	rawSettings["hooks"] = hooksRaw

	data, err := jsonutil.MarshalIndentWithNewline(rawSettings, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encoding settings: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(settingsPath), 0o750); err != nil {
		return 0, fmt.Errorf("creating .claude directory: %w", err)
	}
	if err := os.WriteFile(settingsPath, data, 0o600); err != nil {
		return 0, fmt.Errorf("failed to write settings.json: %w", err)
	}

	return installed, nil
}

// HooksInstalled reports whether our hooks are registered in
// <dir>/.claude/settings.json. The stop hook stands in for the full set.
func HooksInstalled(dir string) bool {
	data, err := os.ReadFile(filepath.Join(dir, ".claude", ClaudeSettingsFileName)) //nolint:gosec // fixed suffix
	if err != nil {
		return false
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return false
	}
	var cfg ClaudeHooksConfig
	if hooksRaw, ok := raw["hooks"]; ok {
		if err := json.Unmarshal(hooksRaw, &cfg); err != nil {
			return false
		}
	}
	return hookCommandExists(cfg.Stop, hookCommand(hooks.HookNameStop, false)) ||
		hookCommandExists(cfg.Stop, hookCommand(hooks.HookNameStop, true))
}

// hookCommandExists reports whether command is already registered in any
// matcher.
func hookCommandExists(matchers []ClaudeHookMatcher, command string) bool {
	for _, m := range matchers {
		for _, h := range m.Hooks {
			if h.Command == command {
				return true
			}
		}
	}
	return false
}

// addHook appends the command to the catch-all matcher, creating it when
// missing.
func addHook(matchers []ClaudeHookMatcher, command string) []ClaudeHookMatcher {
	entry := ClaudeHookEntry{Type: "command", Command: command}
	for i, m := range matchers {
		if m.Matcher == "" {
			matchers[i].Hooks = append(matchers[i].Hooks, entry)
			return matchers
		}
	}
	return append(matchers, ClaudeHookMatcher{Hooks: []ClaudeHookEntry{entry}})
}

// isMacfHook reports whether a command was installed by us.
func isMacfHook(command string) bool {
	for _, prefix := range macfHookPrefixes {
		if strings.HasPrefix(command, prefix) {
			return true
		}
	}
	return false
}

// removeMacfHooks filters our commands out, keeping other tools' hooks and
// dropping matchers that end up empty.
func removeMacfHooks(matchers []ClaudeHookMatcher) []ClaudeHookMatcher {
	result := make([]ClaudeHookMatcher, 0, len(matchers))
	for _, m := range matchers {
		kept := make([]ClaudeHookEntry, 0, len(m.Hooks))
		for _, h := range m.Hooks {
			if !isMacfHook(h.Command) {
				kept = append(kept, h)
			}
		}
		if len(kept) > 0 {
			m.Hooks = kept
			result = append(result, m)
		}
	}
	return result
}
