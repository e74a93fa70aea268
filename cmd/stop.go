package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fakeyudi/termctx/internal/session"
)

var stopWait time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "End the running session; it writes its export before exiting",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := session.NewStore()
		if err != nil {
			return err
		}

		s, err := store.Load()
		if err != nil {
			if errors.Is(err, session.ErrNoSession) {
				return fmt.Errorf("no active session")
			}
			return err
		}

		if !processAlive(s.PID) {
			logger.Warn("removing stale session file", zap.String("id", s.ID), zap.Int("pid", s.PID))
			if err := store.Delete(); err != nil {
				return err
			}
			return fmt.Errorf("no active session (removed stale session file for pid %d)", s.PID)
		}

		if err := unix.Kill(s.PID, unix.SIGTERM); err != nil {
			return fmt.Errorf("signalling session process %d: %w", s.PID, err)
		}
		logger.Info("sent SIGTERM to session", zap.String("id", s.ID), zap.Int("pid", s.PID))

		deadline := time.Now().Add(stopWait)
		for time.Now().Before(deadline) {
			if _, err := store.Load(); errors.Is(err, session.ErrNoSession) {
				cmd.Println("Session stopped.")
				return nil
			}
			time.Sleep(100 * time.Millisecond)
		}
		cmd.Printf("Stop requested; session %d is still writing its export.\n", s.PID)
		return nil
	},
}

func init() {
	stopCmd.Flags().DurationVar(&stopWait, "wait", 10*time.Second, "How long to wait for the session to finish")
	rootCmd.AddCommand(stopCmd)
}
