package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maceff.io/macf/cmd/macf/cli/testutil"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestEventsAppendAndQuery(t *testing.T) {
	testutil.TempAgentHome(t)

	out, err := runCLI(t, "events", "append", "session_started",
		"--data", `{"session_id":"abc123","cycle":1}`,
		"--breadcrumb", "s_abcd1234/c_1/g_unknown/p_none/t_1700000000")
	require.NoError(t, err)
	assert.Contains(t, out, "session_started")

	out, err = runCLI(t, "events", "query", "--event", "session_started")
	require.NoError(t, err)

	var rec struct {
		Offset     int64  `json:"offset"`
		Event      string `json:"event"`
		Breadcrumb string `json:"breadcrumb"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &rec))
	assert.Equal(t, "session_started", rec.Event)
	assert.Equal(t, "s_abcd1234/c_1/g_unknown/p_none/t_1700000000", rec.Breadcrumb)
}

func TestEventsQueryFiltersByCycle(t *testing.T) {
	testutil.TempAgentHome(t)

	for _, crumb := range []string{
		"s_abcd1234/c_1/g_unknown/p_none/t_1700000000",
		"s_abcd1234/c_2/g_unknown/p_none/t_1700000100",
	} {
		_, err := runCLI(t, "events", "append", "tool_call_started", "--breadcrumb", crumb)
		require.NoError(t, err)
	}

	out, err := runCLI(t, "events", "query", "--event", "tool_call_started", "--cycle", "2")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "/c_2/")
}

func TestEventsQuerySetSubtraction(t *testing.T) {
	testutil.TempAgentHome(t)

	crumbs := []string{
		"s_abcd1234/c_1/g_unknown/p_11112222/t_1700000000",
		"s_abcd1234/c_1/g_unknown/p_none/t_1700000050",
	}
	for _, crumb := range crumbs {
		_, err := runCLI(t, "events", "append", "tool_call_started", "--breadcrumb", crumb)
		require.NoError(t, err)
	}

	out, err := runCLI(t, "events", "query-set", "--op", "subtraction",
		"--where", "event=tool_call_started",
		"--where", "prompt=none")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "p_11112222")
}

func TestEventsStats(t *testing.T) {
	testutil.TempAgentHome(t)

	_, err := runCLI(t, "events", "append", "session_started",
		"--breadcrumb", "s_abcd1234/c_1/g_unknown/p_none/t_1700000000")
	require.NoError(t, err)

	out, err := runCLI(t, "events", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 1`)
	assert.Contains(t, out, "session_started")
}

func TestEventsIntegrityEmptyLog(t *testing.T) {
	testutil.TempAgentHome(t)

	out, err := runCLI(t, "events", "integrity")
	require.NoError(t, err)
	assert.Contains(t, out, "events: 0")
	assert.Contains(t, out, "malformed: 0")
}

func TestParseWhere(t *testing.T) {
	flt, err := parseWhere("event=grant_issued,cycle=3,session=abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "grant_issued", flt.Event)
	require.NotNil(t, flt.Cycle)
	assert.Equal(t, 3, *flt.Cycle)
	assert.Equal(t, "abcd1234", flt.Session)

	_, err = parseWhere("nonsense")
	assert.Error(t, err)

	_, err = parseWhere("cycle=abc")
	assert.Error(t, err)

	_, err = parseWhere("color=blue")
	assert.Error(t, err)
}

func TestGrantIssueAndStatusRoundTrip(t *testing.T) {
	testutil.TempAgentHome(t)

	out, err := runCLI(t, "grant", "issue", "task:2", "task:1", "--reason", "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "{task:1,task:2}", "targets should be canonicalized")

	out, err = runCLI(t, "grant", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "task:1,task:2")
	assert.Contains(t, out, "cleanup")

	out, err = runCLI(t, "grant", "clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 1 grant(s).")

	out, err = runCLI(t, "grant", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "No active grants.")
}

func TestBreadcrumbCommandComposes(t *testing.T) {
	testutil.TempAgentHome(t)

	out, err := runCLI(t, "breadcrumb")
	require.NoError(t, err)
	assert.Regexp(t, `^s_[0-9a-f]{8}/c_\d+/g_[0-9a-f]{7}|^s_00000000/c_1/g_`, strings.TrimSpace(out))
}

func TestBreadcrumbParseRejectsBadInput(t *testing.T) {
	_, err := runCLI(t, "breadcrumb", "parse", "not-a-breadcrumb")
	require.Error(t, err)
}
