package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maceff.io/macf/cmd/macf/cli/hooks"
)

func readSettings(t *testing.T, dir string) map[string]json.RawMessage {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, ".claude", ClaudeSettingsFileName))
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	return raw
}

func TestInstallHooksFresh(t *testing.T) {
	dir := t.TempDir()

	n, err := InstallHooks(dir, false, false)
	require.NoError(t, err)
	assert.Equal(t, len(hooks.HookNames()), n)

	raw := readSettings(t, dir)
	var cfg ClaudeHooksConfig
	require.NoError(t, json.Unmarshal(raw["hooks"], &cfg))

	require.Len(t, cfg.Stop, 1)
	assert.Equal(t, "macf hooks claude-code stop", cfg.Stop[0].Hooks[0].Command)
	require.Len(t, cfg.PreToolUse, 1)
	assert.Equal(t, "macf hooks claude-code pre-tool-use", cfg.PreToolUse[0].Hooks[0].Command)
}

func TestInstallHooksIdempotent(t *testing.T) {
	dir := t.TempDir()

	_, err := InstallHooks(dir, false, false)
	require.NoError(t, err)

	n, err := InstallHooks(dir, false, false)
	require.NoError(t, err)
	assert.Zero(t, n, "second install should add nothing")
}

func TestInstallHooksPreservesForeignSettings(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".claude"), 0o750))

	existing := `{
  "permissions": {"deny": ["Read(secrets/**)"]},
  "hooks": {
    "Stop": [{"hooks": [{"type": "command", "command": "other-tool stop"}]}]
  }
}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".claude", ClaudeSettingsFileName), []byte(existing), 0o600))

	_, err := InstallHooks(dir, false, false)
	require.NoError(t, err)

	raw := readSettings(t, dir)
	assert.Contains(t, string(raw["permissions"]), "secrets")

	var cfg ClaudeHooksConfig
	require.NoError(t, json.Unmarshal(raw["hooks"], &cfg))
	require.Len(t, cfg.Stop, 1)
	commands := []string{}
	for _, h := range cfg.Stop[0].Hooks {
		commands = append(commands, h.Command)
	}
	assert.Contains(t, commands, "other-tool stop")
	assert.Contains(t, commands, "macf hooks claude-code stop")
}

func TestInstallHooksForceRemovesOurs(t *testing.T) {
	dir := t.TempDir()

	_, err := InstallHooks(dir, true, false) // localDev command form
	require.NoError(t, err)

	n, err := InstallHooks(dir, false, true) // force: drop go-run form, add binary form
	require.NoError(t, err)
	assert.Equal(t, len(hooks.HookNames()), n)

	raw := readSettings(t, dir)
	var cfg ClaudeHooksConfig
	require.NoError(t, json.Unmarshal(raw["hooks"], &cfg))
	require.Len(t, cfg.Stop, 1)
	require.Len(t, cfg.Stop[0].Hooks, 1, "force should have removed the go-run hook")
	assert.Equal(t, "macf hooks claude-code stop", cfg.Stop[0].Hooks[0].Command)
}

func TestHooksInstalled(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, HooksInstalled(dir))

	_, err := InstallHooks(dir, false, false)
	require.NoError(t, err)
	assert.True(t, HooksInstalled(dir))
}

func TestIsMacfHook(t *testing.T) {
	assert.True(t, isMacfHook("macf hooks claude-code stop"))
	assert.True(t, isMacfHook("go run ${CLAUDE_PROJECT_DIR}/cmd/macf/main.go hooks claude-code stop"))
	assert.False(t, isMacfHook("other-tool stop"))
}
