package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"maceff.io/macf/cmd/macf/cli/drive"
	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/paths"
	"maceff.io/macf/cmd/macf/cli/reconcile"
	"maceff.io/macf/cmd/macf/cli/search/service"
	"maceff.io/macf/cmd/macf/cli/versioncheck"
)

// stalenessThreshold is the age after which an open drive interval is
// considered stuck.
const stalenessThreshold = 1 * time.Hour

func newDoctorCmd() *cobra.Command {
	var forceFlag bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the event log and fix stuck drives",
		Long: `Check path resolution, event log integrity, the search service and
open drive intervals.

A drive interval is considered stuck when its started event has had no
matching ended event for over an hour. For each stuck drive you can
choose to close it (a synthetic ended event is appended; the original
started event is never touched) or leave it open.

Use --force to close all stuck drives without prompting.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, forceFlag)
		},
	}

	cmd.Flags().BoolVarP(&forceFlag, "force", "f", false, "Close all stuck drives without prompting")

	return cmd
}

func runDoctor(cmd *cobra.Command, force bool) error {
	w := cmd.OutOrStdout()
	problems := 0

	// Path resolution
	logPath, err := paths.EventsLogPath()
	if err != nil {
		fmt.Fprintf(w, "✗ event log path: %v\n", err)
		return &SilentError{Code: 1}
	}
	fmt.Fprintf(w, "✓ event log at %s\n", logPath)

	log := eventlog.Open(logPath)

	// Integrity
	events, malformed, err := log.Integrity()
	if err != nil {
		fmt.Fprintf(w, "✗ event log unreadable: %v\n", err)
		problems++
	} else if malformed > 0 {
		fmt.Fprintf(w, "✗ event log: %d events, %d malformed lines\n", events, malformed)
		problems++
	} else {
		fmt.Fprintf(w, "✓ event log intact (%d events)\n", events)
	}

	// Search service
	if socketPath, sockErr := paths.SearchSocketPath(); sockErr == nil {
		pidPath, _ := paths.SearchPIDPath()
		st := service.CheckStatus(socketPath, pidPath)
		if st.Running {
			fmt.Fprintf(w, "✓ search service running (pid %d)\n", st.PID)
		} else {
			fmt.Fprintln(w, "- search service not running (hooks fall back to in-process search)")
		}
	}

	// Policy manifest compatibility
	if policiesDir, pErr := paths.PoliciesDir(); pErr == nil {
		minCLI, ok, mErr := versioncheck.CheckManifest(policiesDir, Version)
		switch {
		case mErr != nil:
			fmt.Fprintf(w, "✗ policy manifest: %v\n", mErr)
			problems++
		case !ok:
			fmt.Fprintf(w, "✗ policies require CLI >= %s (running %s)\n", minCLI, Version)
			problems++
		case minCLI != "":
			fmt.Fprintf(w, "✓ CLI version satisfies policies (min %s)\n", minCLI)
		}
	}

	// Hook installation
	if projectRoot, rErr := paths.ProjectRoot(); rErr == nil {
		if HooksInstalled(projectRoot) {
			fmt.Fprintln(w, "✓ lifecycle hooks installed")
		} else {
			fmt.Fprintln(w, "- lifecycle hooks not installed (run: macf setup)")
		}
	}

	// Stuck drives for the current session
	sessionID := reconcile.LastSessionID(log)
	if sessionID == "" {
		fmt.Fprintln(w, "- no sessions recorded yet")
		if problems > 0 {
			return &SilentError{Code: 1}
		}
		return nil
	}

	tracker := drive.NewTracker(log)
	stats := tracker.ComputeStats(sessionID)
	crumb := currentCrumb(cmd.Context(), log)

	stuck := 0
	for _, kind := range []drive.Kind{drive.Dev, drive.Deleg} {
		open := stats.Dev.Open
		if kind == drive.Deleg {
			open = stats.Deleg.Open
		}
		for _, iv := range open {
			age := time.Since(time.Unix(int64(iv.StartedAt), 0))
			if age < stalenessThreshold {
				continue
			}
			stuck++
			fmt.Fprintf(w, "✗ open %s drive %s (started %s ago)\n", kind, iv.CorrelationID, age.Round(time.Minute))

			shouldClose := force
			if !force {
				var err error
				shouldClose, err = promptCloseDrive(kind, iv.CorrelationID)
				if err != nil {
					if errors.Is(err, huh.ErrUserAborted) {
						return nil
					}
					return fmt.Errorf("failed to get confirmation: %w", err)
				}
			}
			if !shouldClose {
				continue
			}

			if _, ok, err := tracker.Close(kind, crumb, sessionID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: failed to close drive: %v\n", err)
			} else if ok {
				fmt.Fprintf(w, "  -> closed %s drive %s\n", kind, iv.CorrelationID)
				stuck--
			}
		}
	}

	if stuck == 0 && problems == 0 {
		fmt.Fprintln(w, "All checks passed.")
		return nil
	}
	if problems > 0 {
		return &SilentError{Code: 1}
	}
	return nil
}

func promptCloseDrive(kind drive.Kind, correlationID string) (bool, error) {
	confirmed := false
	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Close stuck %s drive %s?", kind, correlationID)).
				Value(&confirmed),
		),
	)
	if err := form.Run(); err != nil {
		return false, err
	}
	return confirmed, nil
}
