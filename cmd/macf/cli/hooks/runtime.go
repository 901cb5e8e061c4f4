package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"maceff.io/macf/cmd/macf/cli/breadcrumb"
	"maceff.io/macf/cmd/macf/cli/drive"
	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/grant"
	"maceff.io/macf/cmd/macf/cli/logging"
	"maceff.io/macf/cmd/macf/cli/paths"
	"maceff.io/macf/cmd/macf/cli/recovery"
)

// recsBudget bounds the optional policy recommendation step inside
// user-prompt-submit. Past it, the prompt goes through without
// recommendations.
const recsBudget = 150 * time.Millisecond

// HandlerFunc processes one parsed hook input.
type HandlerFunc func(ctx context.Context, in *Input) (Output, error)

// Runtime carries the wiring shared by all handlers. All fields are resolved
// once per process; a hook process handles exactly one invocation.
type Runtime struct {
	log       *eventlog.Log
	assembler *breadcrumb.Assembler
	tracker   *drive.Tracker
	gate      *grant.Gate

	artifactRoot string // {agent_home}/agent; "" when unresolvable
	policiesRoot string // {framework_root}/framework/policies; "" when unresolvable
	socketPath   string // search service socket; "" when unresolvable

	handlers map[string]HandlerFunc
}

// NewRuntime resolves paths and wires the runtime. Path resolution failures
// are downgraded: the affected feature degrades, the hook still runs.
func NewRuntime() (*Runtime, error) {
	log, err := eventlog.OpenDefault()
	if err != nil {
		return nil, fmt.Errorf("resolving event log: %w", err)
	}

	r := &Runtime{
		log:       log,
		assembler: breadcrumb.NewAssembler(),
		tracker:   drive.NewTracker(log),
		gate:      grant.NewGate(log),
	}
	if root, err := paths.ArtifactRoot(); err == nil {
		r.artifactRoot = root
	}
	if root, err := paths.PoliciesDir(); err == nil {
		r.policiesRoot = root
	}
	if sock, err := paths.SearchSocketPath(); err == nil {
		r.socketPath = sock
	}
	r.registerHandlers()
	return r, nil
}

// newTestRuntime wires a runtime against explicit paths. For tests.
func newTestRuntime(log *eventlog.Log, artifactRoot string) *Runtime {
	r := &Runtime{
		log:          log,
		assembler:    breadcrumb.NewAssembler(),
		tracker:      drive.NewTracker(log),
		gate:         grant.NewGate(log),
		artifactRoot: artifactRoot,
	}
	r.registerHandlers()
	return r
}

func (r *Runtime) registerHandlers() {
	r.handlers = map[string]HandlerFunc{
		HookNameSessionStart:      r.handleSessionStart,
		HookNameUserPromptSubmit:  r.handleUserPromptSubmit,
		HookNamePreToolUse:        r.handlePreToolUse,
		HookNamePostToolUse:       r.handlePostToolUse,
		HookNameStop:              r.handleStop,
		HookNameSubagentStop:      r.handleSubagentStop,
		HookNamePreCompact:        r.handlePreCompact,
		HookNameSessionEnd:        r.handleSessionEnd,
		HookNameNotification:      r.handleNotification,
		HookNamePermissionRequest: r.handlePermissionRequest,
	}
}

// Run executes one hook invocation end to end: decode stdin, dispatch,
// enforce the output shape, write stdout. It never lets an internal error
// cross the host boundary: malformed input, handler errors and panics all
// produce a {continue: true} document, a hook_error event and exit code 0.
func (r *Runtime) Run(ctx context.Context, hookName string, stdin io.Reader, stdout io.Writer) (exitCode int) {
	start := time.Now()
	ctx = logging.WithHook(logging.WithComponent(ctx, "hooks"), hookName)

	var in *Input
	defer func() {
		if rec := recover(); rec != nil {
			r.appendHookError(hookName, in, fmt.Sprintf("panic: %v", rec))
			_ = WriteOutput(stdout, ContinueOutput())
			exitCode = 0
		}
	}()

	in, err := ReadInput(stdin)
	if err != nil {
		r.appendHookError(hookName, nil, err.Error())
		_ = WriteOutput(stdout, ContinueOutput())
		return 0
	}
	if in.SessionID != "" {
		ctx = logging.WithSession(ctx, in.SessionID)
	}

	handler, ok := r.handlers[hookName]
	if !ok {
		r.appendHookError(hookName, in, "no handler registered")
		_ = WriteOutput(stdout, ContinueOutput())
		return 0
	}

	logging.Debug(ctx, "hook invoked", slog.String("hook", hookName))

	out, err := handler(ctx, in)
	if err != nil {
		logging.Error(ctx, "hook handler failed", slog.String("hook", hookName), slog.String("error", err.Error()))
		r.appendHookError(hookName, in, err.Error())
		_ = WriteOutput(stdout, ContinueOutput())
		return 0
	}

	out, violations := EnforceShape(hookName, out)
	if len(violations) > 0 {
		_, _ = r.log.AppendNow(eventlog.EventSchemaViolation, r.crumb(ctx, in), map[string]any{
			"hook":            hookName,
			"stripped_fields": violations,
		}, nil)
	}

	if err := WriteOutput(stdout, out); err != nil {
		return 1
	}

	logging.LogDuration(ctx, slog.LevelDebug, "hook completed", start, slog.String("hook", hookName))
	return 0
}

// crumb composes the breadcrumb for the current invocation.
func (r *Runtime) crumb(ctx context.Context, in *Input) string {
	ci := breadcrumb.CurrentInput{}
	if in != nil {
		ci.SessionID = in.SessionID
		ci.WorkDir = in.CWD
		ci.Cycle = r.cycle()
		if in.PromptUUID != "" {
			ci.PromptUUID = in.PromptUUID
		} else {
			ci.PromptUUID = r.openPrompt()
		}
	}
	return r.assembler.Current(ctx, ci)
}

// appendHookError records an internal failure. Best effort: if even the log
// write fails, the error surfaces only on stderr.
func (r *Runtime) appendHookError(hookName string, in *Input, msg string) {
	data := map[string]any{
		"hook":  hookName,
		"error": msg,
	}
	var hookInput map[string]any
	if in != nil {
		hookInput = in.ForensicMap()
	}
	if _, err := r.log.AppendNow(eventlog.EventHookError, r.crumb(context.Background(), in), data, hookInput); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to record hook error: %v\n", err)
	}
}

// detector builds the session-start detector lazily so tests can swap the
// artifact root.
func (r *Runtime) detector(ctx context.Context, in *Input) *recovery.Detector {
	return recovery.NewDetector(r.log, r.artifactRoot, func() string { return r.crumb(ctx, in) })
}
