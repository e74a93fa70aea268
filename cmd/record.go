package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/termctx/internal/session"
	"github.com/fakeyudi/termctx/internal/shell"
)

var recordCmd = &cobra.Command{
	Use:   "record <command>...",
	Short: "Add a command to the running session",
	Long: `Record appends a command to the running session as if it had been typed
in a hooked shell. Arguments are joined with spaces; use -- before commands
that start with a dash.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore()
		if err != nil {
			return err
		}
		if _, err := store.Load(); err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return fmt.Errorf("no active session")
			}
			return err
		}

		if err := shell.AppendCommand(strings.Join(args, " "), time.Now()); err != nil {
			return err
		}
		cmd.Println("Command recorded.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
}
