package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"maceff.io/macf/cmd/macf/cli/config"
	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/hooks"
	"maceff.io/macf/cmd/macf/cli/logging"
	"maceff.io/macf/cmd/macf/cli/reconcile"
)

// hookLogCleanup stores the cleanup function for hook logging.
// Set by PersistentPreRunE, called by PersistentPostRunE.
var hookLogCleanup func()

func newHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "hooks",
		Short:  "Hook handlers",
		Long:   "Commands called by lifecycle hooks. These are internal and not for direct user use.",
		Hidden: true, // Internal command, not for direct user use
	}

	cmd.AddCommand(newClaudeCodeHooksCmd())

	return cmd
}

// newClaudeCodeHooksCmd builds the verb subcommands invoked from
// .claude/settings.json as `macf hooks claude-code <verb>`.
func newClaudeCodeHooksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    "claude-code",
		Short:  "Claude Code hook handlers",
		Hidden: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			hookLogCleanup = initHookLogging()
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if hookLogCleanup != nil {
				hookLogCleanup()
			}
			return nil
		},
	}

	for _, hookName := range hooks.HookNames() {
		cmd.AddCommand(newHookVerbCmd(hookName))
	}

	return cmd
}

// newHookVerbCmd creates the command for one hook verb. The runtime owns the
// failure policy: internal errors become a {continue: true} document and exit
// code 0, so the agent is never blocked by our plumbing.
func newHookVerbCmd(hookName string) *cobra.Command {
	return &cobra.Command{
		Use:   hookName,
		Short: "Called on " + hookName,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := hooks.NewRuntime()
			if err != nil {
				// Event log unresolvable. Emit the safe default so the host
				// keeps going; the warning lands on stderr only.
				fmt.Fprintf(os.Stderr, "Warning: hook runtime unavailable: %v\n", err)
				_ = hooks.WriteOutput(cmd.OutOrStdout(), hooks.ContinueOutput())
				return nil
			}

			if code := rt.Run(cmd.Context(), hookName, cmd.InOrStdin(), cmd.OutOrStdout()); code != 0 {
				return &SilentError{Code: code}
			}
			return nil
		},
	}
}

// initHookLogging points the structured log at the current session's log
// file. Any failure leaves logging on the stderr fallback.
func initHookLogging() func() {
	logging.SetLogLevelGetter(func() string {
		cfg, err := config.Load()
		if err != nil {
			return ""
		}
		return cfg.LogLevel
	})

	log, err := eventlog.OpenDefault()
	if err != nil {
		return func() {}
	}
	sessionID := reconcile.LastSessionID(log)
	if sessionID == "" {
		return func() {}
	}
	if err := logging.Init(sessionID); err != nil {
		return func() {}
	}
	return logging.Close
}
