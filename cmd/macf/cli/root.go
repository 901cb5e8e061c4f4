// Package cli wires the macf command tree: user-facing commands for the
// event log, breadcrumbs, grants and the search service, plus the hidden
// hook subcommands invoked by the coding agent host.
package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"maceff.io/macf/cmd/macf/cli/config"
	"maceff.io/macf/cmd/macf/cli/paths"
	"maceff.io/macf/cmd/macf/cli/telemetry"
	"maceff.io/macf/cmd/macf/cli/versioncheck"
)

const gettingStarted = `

Getting Started:
  Run 'macf setup' to pick an agent identity and install the
  lifecycle hooks into .claude/settings.json. After that every
  session is tracked in the append-only event log.

`

// Version information (can be set at build time)
var (
	Version = "dev"
	Commit  = "unknown"
)

// SilentError signals a non-zero exit whose message was already written by
// the command itself. main prints nothing for it.
type SilentError struct {
	Code int
}

func (e *SilentError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "macf",
		Short: "Multi-agent continuity framework CLI",
		Long:  "Session continuity infrastructure for coding agents" + gettingStarted,
		// Let main.go handle error printing to avoid duplication
		SilenceErrors: true,
		// Hide completion command from help but keep it functional
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			// Load telemetry preference from config (errors leave it nil,
			// which defaults to disabled)
			var telemetryEnabled *bool
			if cfg, err := config.Load(); err == nil {
				telemetryEnabled = cfg.Telemetry
			}

			telemetryClient := telemetry.NewClient(Version, telemetryEnabled)
			defer telemetryClient.Close()
			telemetryClient.TrackCommand(cmd, paths.AutoMode())

			versioncheck.CheckAndNotify(cmd, Version)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newSetupCmd())
	cmd.AddCommand(newHooksCmd())
	cmd.AddCommand(newEventsCmd())
	cmd.AddCommand(newBreadcrumbCmd())
	cmd.AddCommand(newGrantCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newEnvCmd())
	cmd.AddCommand(newDoctorCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "macf %s (%s)\n", Version, Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
