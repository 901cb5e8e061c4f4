package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"maceff.io/macf/cmd/macf/cli/paths"
)

func newEnvCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Show resolved roots and paths",
		Long: `Print every path the framework resolves: the three roots and the
derived locations for the event log, search service, index, config and
artifacts. Unresolvable entries are shown with the resolution error.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			type entry struct {
				Name  string `json:"name"`
				Path  string `json:"path,omitempty"`
				Error string `json:"error,omitempty"`
			}

			resolvers := []struct {
				name string
				fn   func() (string, error)
			}{
				{"framework_root", paths.FrameworkRoot},
				{"project_root", paths.ProjectRoot},
				{"agent_home", paths.AgentHome},
				{"maceff_dir", paths.MaceffDir},
				{"events_log", paths.EventsLogPath},
				{"search_socket", paths.SearchSocketPath},
				{"search_pid", paths.SearchPIDPath},
				{"index_dir", paths.IndexDir},
				{"config", paths.ConfigPath},
				{"logs_dir", paths.LogsDir},
				{"artifact_root", paths.ArtifactRoot},
				{"policies_dir", paths.PoliciesDir},
			}

			entries := make([]entry, 0, len(resolvers))
			for _, r := range resolvers {
				e := entry{Name: r.name}
				if p, err := r.fn(); err != nil {
					e.Error = err.Error()
				} else {
					e.Path = p
				}
				entries = append(entries, e)
			}

			if asJSON {
				return printJSON(cmd, entries)
			}

			for _, e := range entries {
				if e.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%-15s (unresolved: %s)\n", e.Name, e.Error)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%-15s %s\n", e.Name, e.Path)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-15s %v\n", "auto_mode", paths.AutoMode())
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print entries as JSON")

	return cmd
}
