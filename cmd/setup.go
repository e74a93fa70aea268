package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/termctx/internal/profile"
	"github.com/fakeyudi/termctx/internal/shell"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Configure termctx (re-run anytime to edit settings)",
	// Bypass the normal PersistentPreRunE so setup works before profile exists.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSetup(cmd, true)
	},
}

// runSetup runs the interactive setup wizard on cmd's input and output,
// using any existing profile as the defaults.
func runSetup(cmd *cobra.Command, edit bool) error {
	out := cmd.OutOrStdout()

	var existing *profile.Profile
	if edit && profile.Exists() {
		if p, err := profile.Load(); err == nil {
			existing = p
		}
	}

	prof, err := profile.RunSetup(cmd.InOrStdin(), out, existing)
	if err != nil {
		return fmt.Errorf("setup cancelled: %w", err)
	}

	if err := profile.Save(prof); err != nil {
		return fmt.Errorf("saving profile: %w", err)
	}
	fmt.Fprintln(out, "  ✓ Profile saved.")

	if prof.RecordCommands && prof.ShellPluginShell != "" {
		if _, err := shell.Install(prof.ShellPluginShell, out); err != nil {
			fmt.Fprintf(out, "  ⚠ Hook install failed: %v\n", err)
			fmt.Fprintln(out, "    You can retry with: termctx hook install "+prof.ShellPluginShell)
		}
	}

	fmt.Fprintln(out, "  Setup complete. Run 'termctx start' to begin a session.")
	fmt.Fprintln(out)
	return nil
}

func init() {
	rootCmd.AddCommand(setupCmd)
}
