package engine

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fakeyudi/termctx/internal/config"
	"github.com/fakeyudi/termctx/internal/watcher"
)

func enabled(b *bool) bool { return b == nil || *b }

// BuildWatchers constructs the watchers enabled in cfg. File watching is
// rooted at workDir unless roots are configured.
func BuildWatchers(cfg config.Config, workDir string, logger *zap.Logger) ([]watcher.Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		out  []watcher.Watcher
		errs []error
	)

	if enabled(cfg.History.Enabled) {
		sources := watcher.DefaultHistorySources()
		if len(cfg.History.Files) > 0 {
			sources = sources[:0]
			for i, f := range cfg.History.Files {
				format, err := watcher.ParseHistoryFormat(f.Format)
				if err != nil {
					errs = append(errs, &config.ConfigError{Field: fmt.Sprintf("history.files[%d].format", i), Err: err})
					continue
				}
				sources = append(sources, watcher.HistorySource{Path: f.Path, Format: format})
			}
		}
		out = append(out, watcher.NewHistoryWatcher(watcher.HistoryOptions{
			Sources:   sources,
			Interval:  cfg.History.Interval.D(),
			FromStart: cfg.History.FromStart,
			Logger:    logger,
		}))
	}

	if enabled(cfg.Process.Enabled) {
		patterns := cfg.Process.Patterns
		if len(patterns) == 0 {
			patterns = watcher.DefaultProcessPatterns
		}
		pw, err := watcher.NewProcessWatcher(watcher.ProcessOptions{
			Interval: cfg.Process.Interval.D(),
			Patterns: patterns,
			EmitAll:  cfg.Process.EmitAll,
			Logger:   logger,
		})
		if err != nil {
			errs = append(errs, &config.ConfigError{Field: "process.patterns", Err: err})
		} else {
			out = append(out, pw)
		}
	}

	if enabled(cfg.Tmux.Enabled) {
		out = append(out, watcher.NewCaptureWatcher(watcher.CaptureOptions{
			Interval: cfg.Tmux.Interval.D(),
			MaxLines: cfg.Tmux.MaxLines,
			Logger:   logger,
		}))
	}

	if enabled(cfg.Files.Enabled) {
		roots := cfg.Files.Roots
		if len(roots) == 0 {
			roots = []string{workDir}
		}
		keys := cfg.Files.EnvKeys
		if len(keys) == 0 {
			keys = watcher.DefaultEnvKeys
		}
		fw, err := watcher.NewFileWatcher(watcher.FileOptions{
			Roots:    roots,
			Ignore:   cfg.IgnorePatterns,
			Interval: cfg.Files.Interval.D(),
			Coalesce: cfg.Files.Coalesce.D(),
			Env:      watcher.NewShellEnv(keys),
			Logger:   logger,
		})
		if err != nil {
			errs = append(errs, err)
		} else {
			out = append(out, fw)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return out, nil
}
