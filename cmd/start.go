package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fakeyudi/termctx/internal/config"
	"github.com/fakeyudi/termctx/internal/engine"
	"github.com/fakeyudi/termctx/internal/export"
	"github.com/fakeyudi/termctx/internal/session"
	"github.com/fakeyudi/termctx/internal/shell"
	"github.com/fakeyudi/termctx/internal/watcher"
)

const (
	saveInterval = 2 * time.Second
	stopTimeout  = 10 * time.Second
)

var (
	startFormat      string
	startOutputDir   string
	startCompression string
	startCapacity    int
	startFromStart   bool
	startNoExport    bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Monitor this terminal until interrupted or 'termctx stop' is run",
	Long: `Start runs the aggregation engine in the foreground. Commands, processes,
tmux panes and file changes are collected until the session is stopped with
Ctrl-C or 'termctx stop', then written to an export in the output directory.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := GetConfig()
		if startFormat != "" {
			c.DefaultFormat = startFormat
		}
		if f, err := export.ParseFormat(c.DefaultFormat); err == nil {
			c.DefaultFormat = string(f)
		}
		if startOutputDir != "" {
			c.OutputDir = startOutputDir
		}
		if startCompression != "" {
			c.Compression = startCompression
		}
		if startCapacity > 0 {
			c.Capacity = startCapacity
		}
		if startFromStart {
			c.History.FromStart = true
		}
		if err := c.Validate(); err != nil {
			return err
		}

		store, err := session.NewStore()
		if err != nil {
			return err
		}
		if err := claimSession(store); err != nil {
			return err
		}

		cwd, err := os.Getwd()
		if err != nil {
			return err
		}
		author := ""
		if p := GetProfile(); p != nil {
			author = p.Name
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		path, err := runSession(ctx, cmd.OutOrStdout(), store, sessionOptions{
			Config:     c,
			WorkDir:    cwd,
			Author:     author,
			Export:     !startNoExport,
			StatusLine: term.IsTerminal(os.Stdout.Fd()),
		})
		if err != nil {
			return err
		}
		if path != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Session stopped. Output: %s\n", path)
		} else {
			fmt.Fprintln(cmd.OutOrStdout(), "Session stopped.")
		}
		return nil
	},
}

// claimSession fails if another live session owns the store. A session file
// left behind by a process that no longer exists is removed.
func claimSession(store session.Store) error {
	s, err := store.Load()
	if errors.Is(err, session.ErrNoSession) {
		return nil
	}
	if err != nil {
		return err
	}
	if processAlive(s.PID) {
		return fmt.Errorf("session already in progress (started at %s, pid %d)", s.StartTime.Format(time.RFC3339), s.PID)
	}
	logger.Warn("removing stale session file", zap.String("id", s.ID), zap.Int("pid", s.PID))
	return store.Delete()
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

type sessionOptions struct {
	Config  config.Config
	WorkDir string
	Author  string
	Export  bool
	// Watchers overrides the watchers built from Config when non-nil.
	Watchers   []watcher.Watcher
	StatusLine bool
	// SaveEvery defaults to saveInterval.
	SaveEvery time.Duration
}

// runSession runs an engine until ctx is done, keeping the store's session
// file current, and returns the path of the export it wrote, if any.
func runSession(ctx context.Context, out io.Writer, store session.Store, opts sessionOptions) (string, error) {
	format, err := export.ParseFormat(opts.Config.DefaultFormat)
	if err != nil {
		return "", err
	}
	compression, err := export.ParseCompression(opts.Config.Compression)
	if err != nil {
		return "", err
	}
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = saveInterval
	}

	eng, err := engine.New(engine.Options{
		Config:   opts.Config,
		WorkDir:  opts.WorkDir,
		Watchers: opts.Watchers,
		Logger:   logger,
		Author:   opts.Author,
	})
	if err != nil {
		return "", err
	}
	if err := eng.Start(ctx); err != nil {
		return "", err
	}
	if err := store.Save(eng.Session()); err != nil {
		_ = eng.Stop(context.Background())
		return "", err
	}
	logger.Info("session started", zap.String("id", eng.Session().ID), zap.String("work_dir", opts.WorkDir))
	fmt.Fprintf(out, "Session started in %s. Press Ctrl-C or run 'termctx stop' to finish.\n", opts.WorkDir)

	ticker := time.NewTicker(opts.SaveEvery)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			sess := eng.Session()
			if err := store.Save(sess); err != nil {
				logger.Warn("saving session state", zap.Error(err))
			}
			if opts.StatusLine {
				fmt.Fprintf(out, "\r\033[K%s", statusLine(sess, time.Now()))
			}
		}
	}
	ticker.Stop()
	if opts.StatusLine {
		fmt.Fprintln(out)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := eng.Stop(stopCtx); err != nil {
		logger.Warn("engine stopped with errors", zap.Error(err))
	}
	if err := shell.TruncateCommandLog(); err != nil {
		logger.Warn("truncating command log", zap.Error(err))
	}

	var errs []error
	path := ""
	if opts.Export {
		sess := eng.Session()
		at := time.Now()
		if sess.StopTime != nil {
			at = *sess.StopTime
		}
		path = export.Filename(opts.Config.OutputDir, at, format)
		if err := eng.ExportFile(path, format, export.Options{Compression: compression}); err != nil {
			errs = append(errs, fmt.Errorf("writing export: %w", err))
			path = ""
		} else {
			logger.Info("session exported", zap.String("path", path), zap.String("format", string(format)))
		}
	}
	if err := store.Delete(); err != nil {
		errs = append(errs, err)
	}
	return path, errors.Join(errs...)
}

// statusLine is the one-line live view printed while a session runs.
func statusLine(s session.Session, now time.Time) string {
	parts := []string{
		s.Duration(now).Round(time.Second).String(),
		humanize.Comma(int64(s.TotalCommands)) + " commands",
		humanize.Comma(int64(s.TotalProcesses)) + " processes",
		humanize.Comma(int64(s.TotalFileAccess)) + " file events",
	}
	if d := s.Degraded(); len(d) > 0 {
		parts = append(parts, "degraded: "+strings.Join(d, ", "))
	}
	return strings.Join(parts, " · ")
}

func init() {
	startCmd.Flags().StringVar(&startFormat, "format", "", "Export format: json, markdown, cbor or sqlite (overrides config)")
	startCmd.Flags().StringVarP(&startOutputDir, "output-dir", "o", "", "Directory the export is written to (overrides config)")
	startCmd.Flags().StringVar(&startCompression, "compression", "", "CBOR compression: zstd, lz4 or none (overrides config)")
	startCmd.Flags().IntVar(&startCapacity, "capacity", 0, "Maximum number of events kept in memory (overrides config)")
	startCmd.Flags().BoolVar(&startFromStart, "from-start", false, "Replay shell history written before the session started")
	startCmd.Flags().BoolVar(&startNoExport, "no-export", false, "Do not write an export when the session ends")
	rootCmd.AddCommand(startCmd)
}
