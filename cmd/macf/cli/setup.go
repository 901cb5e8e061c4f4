package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"maceff.io/macf/cmd/macf/cli/config"
	"maceff.io/macf/cmd/macf/cli/paths"
)

// NewAccessibleForm builds a huh form honoring the ACCESSIBLE env var, which
// switches to plain text prompts for screen readers.
func NewAccessibleForm(groups ...*huh.Group) *huh.Form {
	return huh.NewForm(groups...).WithAccessible(os.Getenv("ACCESSIBLE") != "")
}

func newSetupCmd() *cobra.Command {
	var moniker string
	var description string
	var telemetryFlag bool
	var localDev bool
	var forceHooks bool
	var nonInteractive bool

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Configure the agent identity and install hooks",
		Long: `Interactive setup: pick an agent identity, choose the telemetry
preference and install the lifecycle hooks into .claude/settings.json.

Pass --moniker to skip the interactive form, e.g. in CI:

  macf setup --moniker ada --non-interactive`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			interactive := !nonInteractive && moniker == "" &&
				term.IsTerminal(int(os.Stdin.Fd()))

			if interactive {
				return runSetupInteractive(cmd.OutOrStdout(), localDev, forceHooks)
			}
			return runSetupNonInteractive(cmd.OutOrStdout(), moniker, description, telemetryFlag, localDev, forceHooks)
		},
	}

	cmd.Flags().StringVar(&moniker, "moniker", "", "Agent moniker (enables non-interactive mode)")
	cmd.Flags().StringVar(&description, "description", "", "Agent description")
	cmd.Flags().BoolVar(&telemetryFlag, "telemetry", false, "Opt in to anonymous usage analytics")
	cmd.Flags().BoolVar(&localDev, "local-dev", false, "Use go run instead of the macf binary for hooks")
	_ = cmd.Flags().MarkHidden("local-dev")
	cmd.Flags().BoolVarP(&forceHooks, "force", "f", false, "Force reinstall hooks (removes existing macf hooks first)")
	cmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Never prompt; use flags and defaults")

	return cmd
}

func runSetupInteractive(w io.Writer, localDev, forceHooks bool) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}

	moniker := cfg.AgentIdentity.Moniker
	description := cfg.AgentIdentity.Description
	telemetryOn := cfg.Telemetry != nil && *cfg.Telemetry

	form := NewAccessibleForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Agent moniker").
				Description("A short stable name this agent signs artifacts with").
				Value(&moniker),
			huh.NewInput().
				Title("Description").
				Description("Optional; what this agent is for").
				Value(&description),
			huh.NewConfirm().
				Title("Enable anonymous usage analytics?").
				Value(&telemetryOn),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		return fmt.Errorf("setup cancelled: %w", err)
	}

	return finishSetup(w, cfg, moniker, description, telemetryOn, localDev, forceHooks)
}

func runSetupNonInteractive(w io.Writer, moniker, description string, telemetryOn, localDev, forceHooks bool) error {
	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}
	if moniker == "" {
		moniker = cfg.AgentIdentity.Moniker
	}
	if description == "" {
		description = cfg.AgentIdentity.Description
	}
	return finishSetup(w, cfg, moniker, description, telemetryOn, localDev, forceHooks)
}

func finishSetup(w io.Writer, cfg *config.Config, moniker, description string, telemetryOn, localDev, forceHooks bool) error {
	cfg.AgentIdentity.Moniker = moniker
	cfg.AgentIdentity.Description = description
	if cfg.AgentIdentity.Created == "" {
		cfg.AgentIdentity.Created = time.Now().UTC().Format(time.RFC3339)
	}
	cfg.Telemetry = &telemetryOn

	if err := config.Save(cfg); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}
	fmt.Fprintf(w, "✓ Agent identity saved (%s)\n", cfg.AgentIdentity.Moniker)

	projectRoot, err := paths.ProjectRoot()
	if err != nil {
		return fmt.Errorf("resolving project root: %w", err)
	}

	installed, err := InstallHooks(projectRoot, localDev, forceHooks)
	if err != nil {
		return fmt.Errorf("installing hooks: %w", err)
	}
	if installed > 0 {
		fmt.Fprintf(w, "✓ %d lifecycle hook(s) installed\n", installed)
	} else {
		fmt.Fprintln(w, "✓ Lifecycle hooks verified")
	}

	return nil
}
