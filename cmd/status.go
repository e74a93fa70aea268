package cmd

import (
	"errors"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/termctx/internal/session"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				cmd.Println("no active session")
				return nil
			}
			return err
		}

		cmd.Printf("Session: %s (pid %d)\n", s.ID, s.PID)
		if !processAlive(s.PID) {
			cmd.Println("Warning: session process is not running; run 'termctx stop' to clean up")
		}
		cmd.Printf("Started: %s (%s)\n", s.StartTime.Format(time.RFC3339), humanize.Time(s.StartTime))
		cmd.Printf("Duration: %s\n", s.Duration(time.Now()).Round(time.Second).String())
		cmd.Printf("Work dir: %s\n", s.WorkDir)
		cmd.Printf("Commands: %d\n", s.TotalCommands)
		cmd.Printf("Processes: %d\n", s.TotalProcesses)
		cmd.Printf("File accesses: %d\n", s.TotalFileAccess)

		if len(s.Sources) > 0 {
			cmd.Println("Sources:")
			names := lo.Keys(s.Sources)
			slices.Sort(names)
			for _, name := range names {
				src := s.Sources[name]
				line := "  " + name + ": " + src.State
				if src.Error != "" {
					line += " (" + src.Error + ")"
				}
				cmd.Println(line)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
