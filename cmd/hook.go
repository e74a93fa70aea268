package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/termctx/internal/shell"
)

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Manage the shell hooks that report commands to termctx",
}

var hookInstallCmd = &cobra.Command{
	Use:       "install <" + strings.Join(shell.Shells, "|") + ">",
	Short:     "Write the hook for a shell and print how to enable it",
	Args:      cobra.ExactArgs(1),
	ValidArgs: shell.Shells,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := shell.Install(args[0], cmd.OutOrStdout())
		return err
	},
}

var hookPrintCmd = &cobra.Command{
	Use:       "print <" + strings.Join(shell.Shells, "|") + ">",
	Short:     "Print the hook source for a shell",
	Args:      cobra.ExactArgs(1),
	ValidArgs: shell.Shells,
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := shell.Plugin(args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), src)
		return nil
	},
}

var hookStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which shell hooks are installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, sh := range shell.Shells {
			state := "not installed"
			if shell.IsInstalled(sh) {
				path, _ := shell.PluginPath(sh)
				state = "installed at " + path
			}
			cmd.Printf("%s: %s\n", sh, state)
		}
		return nil
	},
}

func init() {
	hookCmd.AddCommand(hookInstallCmd, hookPrintCmd, hookStatusCmd)
	rootCmd.AddCommand(hookCmd)
}
