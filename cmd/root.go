package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fakeyudi/termctx/internal/config"
	"github.com/fakeyudi/termctx/internal/profile"
)

// cfg holds the merged configuration, populated in PersistentPreRunE.
var cfg config.Config

// activeProfile holds the loaded user profile.
var activeProfile *profile.Profile

// logger is replaced in PersistentPreRunE once the log destination is known.
var logger = zap.NewNop()

var (
	logFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:          "termctx",
	Short:        "Aggregate terminal activity into queryable session context",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// First-run: profile missing → run setup wizard automatically.
		// Only do this when stdin is an interactive terminal.
		if !profile.Exists() && cmd.Name() != "record" && term.IsTerminal(os.Stdin.Fd()) {
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintln(cmd.OutOrStdout(), "  Welcome to termctx! Looks like this is your first time.")
			if err := runSetup(cmd, false); err != nil {
				return err
			}
		}

		activeProfile = nil
		if profile.Exists() {
			p, err := profile.Load()
			if err != nil {
				return fmt.Errorf("loading profile: %w", err)
			}
			activeProfile = p
		}

		global, err := config.LoadGlobal()
		if err != nil {
			return fmt.Errorf("loading global config: %w", err)
		}
		project, err := config.LoadProject()
		if err != nil {
			return fmt.Errorf("loading project config: %w", err)
		}
		cfg = config.Merge(global, project)

		// Profile values fill in config gaps.
		if activeProfile != nil {
			if cfg.DefaultFormat == config.Defaults().DefaultFormat && activeProfile.DefaultFormat != "" {
				cfg.DefaultFormat = activeProfile.DefaultFormat
			}
			if cfg.OutputDir == "." && activeProfile.OutputDir != "" {
				cfg.OutputDir = activeProfile.OutputDir
			}
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration:\n%w", err)
		}

		l, err := newLogger(cfg, logFile, debug)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

// newLogger builds the process logger. Logs go to a file by default so they
// never interleave with command output; "-" sends them to stderr.
func newLogger(c config.Config, path string, debug bool) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	if debug {
		level = zapcore.DebugLevel
	}

	if path == "" {
		path = c.LogFile
	}
	if path == "" {
		path, err = defaultLogFile()
		if err != nil {
			return nil, err
		}
	}
	if path == "-" {
		path = "stderr"
	} else if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(level)
	loggerConfig.OutputPaths = []string{path}
	loggerConfig.ErrorOutputPaths = []string{"stderr"}
	return loggerConfig.Build()
}

// defaultLogFile returns $XDG_STATE_HOME/termctx/termctx.log.
func defaultLogFile() (string, error) {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(base, "termctx", "termctx.log"), nil
}

// Execute runs the root command. Exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfig returns the merged configuration for use by subcommands.
func GetConfig() config.Config {
	return cfg
}

// GetProfile returns the active user profile.
func GetProfile() *profile.Profile {
	return activeProfile
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", `write logs to this file ("-" for stderr)`)
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
}
