package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"maceff.io/macf/cmd/macf/cli/breadcrumb"
	"maceff.io/macf/cmd/macf/cli/eventlog"
	"maceff.io/macf/cmd/macf/cli/reconcile"
)

func newBreadcrumbCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "breadcrumb",
		Short: "Print the current spatiotemporal breadcrumb",
		Long: `Compose and print the current breadcrumb:

  s_<session>/c_<cycle>/g_<git>/p_<prompt>/t_<epoch>

Session, cycle and prompt are reconciled from the event log; the git
component is the short HEAD hash of the working directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := eventlog.OpenDefault()
			if err != nil {
				return fmt.Errorf("resolving event log: %w", err)
			}

			crumb := currentCrumb(cmd.Context(), log)
			if !asJSON {
				fmt.Fprintln(cmd.OutOrStdout(), crumb)
				return nil
			}

			c, err := breadcrumb.Parse(crumb)
			if err != nil {
				return fmt.Errorf("parsing composed breadcrumb: %w", err)
			}
			return printJSON(cmd, struct {
				Breadcrumb string `json:"breadcrumb"`
				Session    string `json:"session"`
				Cycle      int    `json:"cycle"`
				Git        string `json:"git"`
				Prompt     string `json:"prompt"`
				Epoch      int64  `json:"epoch"`
			}{crumb, c.Session, c.Cycle, c.Git, c.Prompt, c.Epoch})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print parsed components as JSON")

	cmd.AddCommand(newBreadcrumbParseCmd())

	return cmd
}

func newBreadcrumbParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <breadcrumb>",
		Short: "Validate and decompose a breadcrumb string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := breadcrumb.Parse(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, struct {
				Session string `json:"session"`
				Cycle   int    `json:"cycle"`
				Git     string `json:"git"`
				Prompt  string `json:"prompt"`
				Epoch   int64  `json:"epoch"`
			}{c.Session, c.Cycle, c.Git, c.Prompt, c.Epoch})
		},
	}
}

// currentCrumb reconciles identifiers from the log and composes the
// breadcrumb for this invocation.
func currentCrumb(ctx context.Context, log *eventlog.Log) string {
	tuple := reconcile.Current(log, "", "")
	return breadcrumb.NewAssembler().Current(ctx, breadcrumb.CurrentInput{
		SessionID:  tuple.SessionID,
		Cycle:      tuple.Cycle,
		PromptUUID: tuple.PromptUUID,
	})
}
