package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/grant"
)

func newRuntime(t *testing.T) (*Runtime, *eventlog.Log) {
	t.Helper()
	dir := t.TempDir()
	l := eventlog.Open(filepath.Join(dir, ".maceff", "agent_events_log.jsonl"))
	return newTestRuntime(l, filepath.Join(dir, "agent")), l
}

func runHook(t *testing.T, r *Runtime, hookName string, input any) Output {
	t.Helper()
	data, err := json.Marshal(input)
	require.NoError(t, err)

	var stdout bytes.Buffer
	code := r.Run(context.Background(), hookName, bytes.NewReader(data), &stdout)
	require.Zero(t, code)

	var out Output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	return out
}

func logEvents(l *eventlog.Log) []string {
	var names []string
	for rec := range l.Stream(false) {
		names = append(names, rec.Event.Event)
	}
	return names
}

func TestColdStartNoPriorLog(t *testing.T) {
	r, l := newRuntime(t)

	out := runHook(t, r, HookNameSessionStart, map[string]any{
		"session_id": "S1", "hook_event_name": "SessionStart", "source": "startup",
	})

	assert.True(t, out.Continue)
	assert.NotEmpty(t, out.SystemMessage)
	assert.Nil(t, out.HookSpecificOutput)

	require.Equal(t, []string{eventlog.EventSessionStarted}, logEvents(l))
	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventSessionStarted})
	require.True(t, ok)
	cycle, _ := rec.Event.IntField("cycle")
	assert.Equal(t, 1, cycle)
}

func TestAutoCompact(t *testing.T) {
	r, l := newRuntime(t)
	runHook(t, r, HookNameSessionStart, map[string]any{"session_id": "S1", "source": "startup"})

	out := runHook(t, r, HookNameSessionStart, map[string]any{"session_id": "S2", "source": "compact"})

	assert.Nil(t, out.HookSpecificOutput)
	assert.Contains(t, out.SystemMessage, "compaction")

	names := logEvents(l)
	require.Equal(t, []string{
		eventlog.EventSessionStarted,
		eventlog.EventCompactionDetected,
		eventlog.EventSessionStarted,
	}, names)

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventCompactionDetected})
	require.True(t, ok)
	cycle, _ := rec.Event.IntField("cycle")
	assert.Equal(t, 2, cycle)
	method, _ := rec.Event.StringField("detection_method")
	assert.Equal(t, "source_field", method)
}

func TestMigrationWithoutCompaction(t *testing.T) {
	r, l := newRuntime(t)
	runHook(t, r, HookNameSessionStart, map[string]any{"session_id": "S2", "source": "startup"})

	out := runHook(t, r, HookNameSessionStart, map[string]any{"session_id": "S3", "source": "resume"})
	assert.Contains(t, out.SystemMessage, "S2 -> S3")

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventMigrationDetected})
	require.True(t, ok)
	prev, _ := rec.Event.StringField("previous")
	assert.Equal(t, "S2", prev)

	// Cycle unchanged.
	started, _ := l.LatestMatching(eventlog.Filter{Event: eventlog.EventSessionStarted})
	cycle, _ := started.Event.IntField("cycle")
	assert.Equal(t, 1, cycle)
}

func TestDevDriveHappyPath(t *testing.T) {
	r, l := newRuntime(t)

	out := runHook(t, r, HookNameUserPromptSubmit, map[string]any{
		"session_id": "S3", "prompt_uuid": "P1", "prompt": "fix auth",
	})
	require.NotNil(t, out.HookSpecificOutput)
	assert.Contains(t, out.HookSpecificOutput.AdditionalContext, "breadcrumb: s_")
	assert.Empty(t, out.SystemMessage)

	out = runHook(t, r, HookNameStop, map[string]any{"session_id": "S3"})
	assert.Contains(t, out.SystemMessage, "1 dev")

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventDevDrvEnded})
	require.True(t, ok)
	d, ok := rec.Event.Float64Field("duration_seconds")
	require.True(t, ok)
	assert.GreaterOrEqual(t, d, 0.0)
}

func TestTaskDelegationOpensAndClosesDelegDrive(t *testing.T) {
	r, l := newRuntime(t)

	runHook(t, r, HookNamePreToolUse, map[string]any{
		"session_id": "S1", "tool_name": "Task",
		"tool_input": map[string]any{"subagent_type": "reviewer", "prompt": "review auth"},
		"tool_use_id": "T7",
	})

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventDelegDrvStarted})
	require.True(t, ok)
	taskID, _ := rec.Event.StringField("task_id")
	assert.Equal(t, "T7", taskID)
	subagent, _ := rec.Event.StringField("subagent_type")
	assert.Equal(t, "reviewer", subagent)

	runHook(t, r, HookNameSubagentStop, map[string]any{"session_id": "S1"})

	rec, ok = l.LatestMatching(eventlog.Filter{Event: eventlog.EventDelegDrvEnded})
	require.True(t, ok)
	taskID, _ = rec.Event.StringField("task_id")
	assert.Equal(t, "T7", taskID)
	d, ok := rec.Event.Float64Field("duration_seconds")
	require.True(t, ok)
	assert.GreaterOrEqual(t, d, 0.0)
}

func TestNonTaskToolOpensNoDelegDrive(t *testing.T) {
	r, l := newRuntime(t)

	runHook(t, r, HookNamePreToolUse, map[string]any{
		"session_id": "S1", "tool_name": "Read", "tool_use_id": "T1",
	})

	_, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventDelegDrvStarted})
	assert.False(t, ok)
}

func TestPromptTextIsRedacted(t *testing.T) {
	r, l := newRuntime(t)
	secret := "sk-ant-REDACTED"

	runHook(t, r, HookNameUserPromptSubmit, map[string]any{
		"session_id": "S1", "prompt_uuid": "P1", "prompt": "use key " + secret,
	})

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventDevDrvStarted})
	require.True(t, ok)
	prompt, _ := rec.Event.StringField("prompt")
	assert.NotContains(t, prompt, secret)
	assert.Contains(t, prompt, "REDACTED")
}

func TestGrantFlow(t *testing.T) {
	r, l := newRuntime(t)
	gate := grant.NewGate(l)
	_, err := gate.Issue("s_aaaaaaaa/c_1/g_abc1234/p_none/t_1700000000", grant.NewTargetSet("task:42"), "cleanup")
	require.NoError(t, err)

	input := map[string]any{
		"session_id": "S1", "tool_name": "TaskDelete",
		"tool_input": map[string]any{"id": 42}, "tool_use_id": "T1",
	}

	out := runHook(t, r, HookNamePreToolUse, input)
	require.NotNil(t, out.HookSpecificOutput)
	assert.Empty(t, out.HookSpecificOutput.PermissionDecision)
	assert.Contains(t, out.HookSpecificOutput.AdditionalContext, "grant")

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventGrantConsumed})
	require.True(t, ok)
	targets, _ := rec.Event.StringSliceField("target_set")
	assert.Equal(t, []string{"task:42"}, targets)

	// Second identical call: the grant is spent, deny names the CLI.
	out = runHook(t, r, HookNamePreToolUse, input)
	require.NotNil(t, out.HookSpecificOutput)
	assert.Equal(t, DecisionDeny, out.HookSpecificOutput.PermissionDecision)
	assert.Contains(t, out.HookSpecificOutput.PermissionDecisionReason, "macf grant issue")
}

func TestGrantSupersetDoesNotAuthorize(t *testing.T) {
	r, l := newRuntime(t)
	gate := grant.NewGate(l)
	_, err := gate.Issue("s_aaaaaaaa/c_1/g_abc1234/p_none/t_1700000000", grant.NewTargetSet("task:42", "task:43"), "")
	require.NoError(t, err)

	out := runHook(t, r, HookNamePreToolUse, map[string]any{
		"session_id": "S1", "tool_name": "TaskDelete", "tool_input": map[string]any{"id": 42},
	})
	require.NotNil(t, out.HookSpecificOutput)
	assert.Equal(t, DecisionDeny, out.HookSpecificOutput.PermissionDecision)
}

func TestUngatedToolPassesThrough(t *testing.T) {
	r, l := newRuntime(t)

	out := runHook(t, r, HookNamePreToolUse, map[string]any{
		"session_id": "S1", "tool_name": "Read", "tool_input": map[string]any{"path": "/tmp/x"}, "tool_use_id": "T9",
	})
	assert.True(t, out.Continue)
	assert.Nil(t, out.HookSpecificOutput)

	require.Equal(t, []string{eventlog.EventToolCallStarted}, logEvents(l))
}

func TestPostToolUseRecordsDuration(t *testing.T) {
	r, l := newRuntime(t)

	runHook(t, r, HookNamePreToolUse, map[string]any{
		"session_id": "S1", "tool_name": "Read", "tool_use_id": "T1",
	})
	runHook(t, r, HookNamePostToolUse, map[string]any{
		"session_id": "S1", "tool_name": "Read", "tool_use_id": "T1", "tool_response": "ok",
	})

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventToolCallCompleted})
	require.True(t, ok)
	d, ok := rec.Event.Float64Field("duration_seconds")
	require.True(t, ok)
	assert.GreaterOrEqual(t, d, 0.0)
}

func TestMalformedStdinEmitsContinueAndHookError(t *testing.T) {
	r, l := newRuntime(t)

	var stdout bytes.Buffer
	code := r.Run(context.Background(), HookNameStop, strings.NewReader("{not json"), &stdout)
	require.Zero(t, code)

	var out Output
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))
	assert.True(t, out.Continue)
	assert.Empty(t, out.SystemMessage)

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventHookError})
	require.True(t, ok)
	hook, _ := rec.Event.StringField("hook")
	assert.Equal(t, HookNameStop, hook)
}

func TestUnknownHookNameIsContained(t *testing.T) {
	r, l := newRuntime(t)

	var stdout bytes.Buffer
	code := r.Run(context.Background(), "no-such-hook", strings.NewReader("{}"), &stdout)
	require.Zero(t, code)

	_, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventHookError})
	assert.True(t, ok)
}

func TestShapeDiscipline(t *testing.T) {
	// Shape S events must never emit hookSpecificOutput; Shape P must never
	// emit systemMessage. Exercise every handler with a minimal input.
	r, _ := newRuntime(t)

	for _, hookName := range HookNames() {
		t.Run(hookName, func(t *testing.T) {
			out := runHook(t, r, hookName, map[string]any{
				"session_id": "S1", "hook_event_name": hookName,
				"prompt_uuid": "P1", "tool_name": "Read",
			})
			if shapeP(hookName) {
				assert.Empty(t, out.SystemMessage)
			} else {
				assert.Nil(t, out.HookSpecificOutput)
			}
		})
	}
}

func TestEnforceShapeStripsAndReports(t *testing.T) {
	out, violations := EnforceShape(HookNameStop, Output{
		Continue:           true,
		SystemMessage:      "fine",
		HookSpecificOutput: &HookSpecificOutput{AdditionalContext: "illegal"},
	})
	assert.Nil(t, out.HookSpecificOutput)
	assert.Equal(t, "fine", out.SystemMessage)
	assert.Equal(t, []string{"hookSpecificOutput"}, violations)

	out, violations = EnforceShape(HookNamePostToolUse, Output{
		Continue:           true,
		SystemMessage:      "illegal",
		HookSpecificOutput: &HookSpecificOutput{PermissionDecision: DecisionDeny},
	})
	assert.Empty(t, out.SystemMessage)
	assert.Nil(t, out.HookSpecificOutput)
	assert.ElementsMatch(t, []string{"systemMessage", "permissionDecision"}, violations)
}

func TestSessionEndRecordsReason(t *testing.T) {
	r, l := newRuntime(t)
	runHook(t, r, HookNameSessionEnd, map[string]any{"session_id": "S1", "reason": "logout"})

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventSessionEnded})
	require.True(t, ok)
	reason, _ := rec.Event.StringField("reason")
	assert.Equal(t, "logout", reason)
}

func TestPreCompactWarns(t *testing.T) {
	r, l := newRuntime(t)
	out := runHook(t, r, HookNamePreCompact, map[string]any{"session_id": "S1", "trigger": "auto"})
	assert.Contains(t, out.SystemMessage, "checkpoint")

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventPreCompactWarning})
	require.True(t, ok)
	trigger, _ := rec.Event.StringField("trigger")
	assert.Equal(t, "auto", trigger)
}

func TestNotificationRecorded(t *testing.T) {
	r, l := newRuntime(t)
	runHook(t, r, HookNameNotification, map[string]any{
		"session_id": "S1", "notification_type": "idle", "message": "waiting for input",
	})

	rec, ok := l.LatestMatching(eventlog.Filter{Event: eventlog.EventNotificationRecv})
	require.True(t, ok)
	typ, _ := rec.Event.StringField("notification_type")
	assert.Equal(t, "idle", typ)
}

func TestConcurrentHookProcessesUnderLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("load test")
	}
	r, l := newRuntime(t)

	const workers = 8
	const perWorker = 1000

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := l.AppendNow(fmt.Sprintf("load_%d", w),
					"s_aaaaaaaa/c_1/g_abc1234/p_none/t_1700000000",
					map[string]any{"seq": i}, nil)
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	events, malformed, err := l.Integrity()
	require.NoError(t, err)
	assert.Equal(t, workers*perWorker, events)
	assert.Zero(t, malformed)
	_ = r
}
