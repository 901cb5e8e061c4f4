package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"maceff.io/macf/cmd/macf/cli/paths"
	"maceff.io/macf/cmd/macf/cli/search"
	"maceff.io/macf/cmd/macf/cli/search/service"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Policy search service",
		Long: `Run and query the policy recommendation service.

The service indexes policy documents into a hybrid vector + lexical
index and answers recommendation queries over a unix domain socket.
Hooks fall back to a slower in-process search when it is not running.`,
	}

	cmd.AddCommand(newSearchStartCmd())
	cmd.AddCommand(newSearchStopCmd())
	cmd.AddCommand(newSearchStatusCmd())
	cmd.AddCommand(newSearchRecommendCmd())

	return cmd
}

func newSearchStartCmd() *cobra.Command {
	var daemon bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the search service",
		Long: `Build the policy index and serve recommendation queries until
interrupted. The index persists under the agent home, so restarts only
re-embed changed documents. With --daemon the service is re-executed as
a detached process and the command returns immediately.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if daemon {
				return startDetached(cmd)
			}
			socketPath, err := paths.SearchSocketPath()
			if err != nil {
				return fmt.Errorf("resolving socket path: %w", err)
			}
			pidPath, err := paths.SearchPIDPath()
			if err != nil {
				return fmt.Errorf("resolving pid path: %w", err)
			}
			indexDir, err := paths.IndexDir()
			if err != nil {
				return fmt.Errorf("resolving index dir: %w", err)
			}
			policiesRoot, err := paths.PoliciesDir()
			if err != nil {
				return fmt.Errorf("resolving policies dir: %w", err)
			}

			retriever, err := buildHybridRetriever(indexDir)
			if err != nil {
				return fmt.Errorf("building retriever: %w", err)
			}

			srv := service.NewServer(socketPath, pidPath, retriever)
			if err := srv.LoadIndex(cmd.Context(), policiesRoot); err != nil {
				return fmt.Errorf("loading index: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Search service listening on %s\n", socketPath)
			if err := srv.Serve(cmd.Context()); err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("serving: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&daemon, "daemon", false, "Run detached in the background")

	return cmd
}

// startDetached re-executes `macf search start` as a session leader with
// output sent to the logs directory.
func startDetached(cmd *cobra.Command) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolving executable: %w", err)
	}

	child := exec.Command(exe, "search", "start") //nolint:gosec // re-executing ourselves
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if logsDir, dirErr := paths.LogsDir(); dirErr == nil {
		//nolint:gosec // service log under the agent home
		if f, openErr := os.OpenFile(filepath.Join(logsDir, "search-service.log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); openErr == nil {
			child.Stdout = f
			child.Stderr = f
			defer f.Close()
		}
	}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting detached service: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Search service started (pid %d).\n", child.Process.Pid)
	return child.Process.Release()
}

func newSearchStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop a running search service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pidPath, err := paths.SearchPIDPath()
			if err != nil {
				return fmt.Errorf("resolving pid path: %w", err)
			}

			pid := service.ReadPID(pidPath)
			if pid <= 0 || !service.PIDAlive(pid) {
				fmt.Fprintln(cmd.OutOrStdout(), "Search service is not running.")
				return nil
			}

			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signaling pid %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to pid %d.\n", pid)
			return nil
		},
	}
}

func newSearchStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show search service liveness",
		RunE: func(cmd *cobra.Command, _ []string) error {
			socketPath, err := paths.SearchSocketPath()
			if err != nil {
				return fmt.Errorf("resolving socket path: %w", err)
			}
			pidPath, err := paths.SearchPIDPath()
			if err != nil {
				return fmt.Errorf("resolving pid path: %w", err)
			}

			st := service.CheckStatus(socketPath, pidPath)
			if asJSON {
				return printJSON(cmd, st)
			}

			if st.Running {
				fmt.Fprintf(cmd.OutOrStdout(), "Running (pid %d, socket %s)\n", st.PID, st.Socket)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Not running (socket %s)\n", st.Socket)
				return &SilentError{Code: 1}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print status as JSON")

	return cmd
}

func newSearchRecommendCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "recommend <query>",
		Short: "Query policy recommendations",
		Long: `Query the search service for relevant policy sections. Uses the
running daemon when available; otherwise builds a one-shot in-process
index, which is slower but gives the same results.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := ""
			for i, a := range args {
				if i > 0 {
					query += " "
				}
				query += a
			}

			req := service.Request{
				Op:        service.OpRecommend,
				Query:     query,
				Limit:     limit,
				Namespace: service.NamespacePolicies,
			}

			resp, err := recommendAnywhere(cmd.Context(), req)
			if err != nil {
				return err
			}
			if resp.Error != nil {
				fmt.Fprintf(os.Stderr, "Error: %s: %s\n", resp.Error.Kind, resp.Error.Message)
				return &SilentError{Code: 1}
			}
			return printJSON(cmd, resp)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 5, "Maximum number of results")

	return cmd
}

// recommendAnywhere tries the daemon first and falls back to a one-shot
// in-process index.
func recommendAnywhere(ctx context.Context, req service.Request) (service.Response, error) {
	if socketPath, err := paths.SearchSocketPath(); err == nil {
		if resp, err := service.Recommend(ctx, socketPath, req); err == nil {
			return resp, nil
		}
	}

	policiesRoot, err := paths.PoliciesDir()
	if err != nil {
		return service.Response{}, fmt.Errorf("resolving policies dir: %w", err)
	}
	hybrid, err := buildHybridRetriever("")
	if err != nil {
		return service.Response{}, err
	}

	srv := service.NewServer("", "", hybrid)
	if err := srv.LoadIndex(ctx, policiesRoot); err != nil {
		return service.Response{}, fmt.Errorf("building index: %w", err)
	}
	return srv.Handle(ctx, req), nil
}

// buildHybridRetriever assembles the vector + lexical hybrid. persistPath ""
// keeps the vector index in memory.
func buildHybridRetriever(persistPath string) (*search.HybridRetriever, error) {
	vec, err := search.NewVectorRetriever(search.NewEmbedder(), persistPath)
	if err != nil {
		return nil, fmt.Errorf("opening vector index: %w", err)
	}
	return search.NewHybridRetriever(vec, search.NewLexicalRetriever()), nil
}
