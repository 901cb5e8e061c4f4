package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/grant"
)

func newGrantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Manage one-shot mutation grants",
		Long: `Issue and inspect one-shot grants for protected mutations.

A grant authorizes exactly one tool call whose target set matches the
grant's target set exactly (no subsets, no supersets). Consumption is
recorded in the event log; a consumed grant never authorizes again.`,
	}

	cmd.AddCommand(newGrantIssueCmd())
	cmd.AddCommand(newGrantStatusCmd())
	cmd.AddCommand(newGrantClearCmd())

	return cmd
}

func newGrantIssueCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "issue <target>...",
		Short: "Issue a grant for an exact target set",
		Long: `Issue a one-shot grant covering exactly the given targets, e.g.:

  macf grant issue task:12 task:13 --reason "collapse finished subtasks"

The protected tool call is allowed only when its own target set equals
the granted one.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}

			gate := grant.NewGate(log)
			g, err := gate.Issue(currentCrumb(cmd.Context(), log), grant.NewTargetSet(args...), reason)
			if err != nil {
				return fmt.Errorf("issuing grant: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Granted %s for {%s}\n", g.ID, g.Targets.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Why this mutation is authorized")

	return cmd
}

func newGrantStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "List active (unconsumed, uncleared) grants",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}

			active := grant.NewGate(log).Active()
			if asJSON {
				return printJSON(cmd, active)
			}

			if len(active) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No active grants.")
				return nil
			}
			for _, g := range active {
				line := fmt.Sprintf("%s  {%s}", g.ID, g.Targets.String())
				if g.Reason != "" {
					line += "  # " + g.Reason
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print grants as JSON")

	return cmd
}

func newGrantClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear [grant-id]",
		Short: "Revoke one grant, or all active grants",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}

			grantID := ""
			if len(args) == 1 {
				grantID = args[0]
			}

			n, err := grant.NewGate(log).Clear(currentCrumb(cmd.Context(), log), grantID)
			if err != nil {
				return fmt.Errorf("clearing grants: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d grant(s).\n", n)
			return nil
		},
	}
}
