package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maceff.io/macf/cmd/macf/cli/hooks"
)

func TestNewRootCmdRegistersCommands(t *testing.T) {
	root := NewRootCmd()

	want := []string{"setup", "hooks", "events", "breadcrumb", "grant", "search", "env", "doctor", "version"}
	got := map[string]bool{}
	for _, c := range root.Commands() {
		got[c.Name()] = true
	}
	for _, name := range want {
		assert.True(t, got[name], "command %q should be registered", name)
	}
}

func TestHooksCommandIsHidden(t *testing.T) {
	root := NewRootCmd()

	for _, c := range root.Commands() {
		if c.Name() == "hooks" {
			assert.True(t, c.Hidden, "hooks must stay out of help output")
			return
		}
	}
	t.Fatal("hooks command not registered")
}

func TestClaudeCodeHookVerbs(t *testing.T) {
	cmd := newClaudeCodeHooksCmd()

	verbs := map[string]bool{}
	for _, c := range cmd.Commands() {
		verbs[c.Name()] = true
	}
	for _, name := range hooks.HookNames() {
		assert.True(t, verbs[name], "verb %q should have a subcommand", name)
	}
	assert.Len(t, verbs, len(hooks.HookNames()))
}

func TestVersionCmdOutput(t *testing.T) {
	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())

	out := buf.String()
	assert.Contains(t, out, "macf")
	assert.Contains(t, out, "OS/Arch:")
}

func TestHookVerbEmitsContinueOnBrokenRuntime(t *testing.T) {
	// Point the log at an uncreatable location: the runtime constructor
	// still succeeds (the file is lazy), so feed malformed stdin instead
	// and verify the failure policy output.
	t.Setenv("MACF_EVENTS_LOG_PATH", t.TempDir()+"/events.jsonl")

	var buf bytes.Buffer
	cmd := newClaudeCodeHooksCmd()
	cmd.SetOut(&buf)
	cmd.SetIn(strings.NewReader("{not json"))
	cmd.SetArgs([]string{"notification"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"continue":true`)
}
