// Package analytics derives session statistics from a snapshot of events.
// Summaries are recomputed on every call; nothing is persisted.
package analytics

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/samber/lo"
	"mvdan.cc/sh/v3/syntax"

	"github.com/fakeyudi/termctx/internal/event"
)

const (
	DefaultIdleThreshold = 5 * time.Minute
	DefaultTopK          = 10
	recentFiles          = 10
)

// Count is a ranked name.
type Count struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Options controls a summary.
type Options struct {
	// Start is the session start. Defaults to the first event's timestamp.
	Start time.Time
	// Now ends the session duration. Defaults to the last event's timestamp.
	Now           time.Time
	IdleThreshold time.Duration
	TopK          int
	// ByText ranks commands by their full text instead of the binary name.
	ByText bool
}

// Summary is the aggregate view of a session.
type Summary struct {
	Start            time.Time      `json:"start,omitzero"`
	Duration         time.Duration  `json:"duration"`
	TotalEvents      int            `json:"total_events"`
	TotalCommands    int            `json:"total_commands"`
	TotalOutputs     int            `json:"total_outputs"`
	TotalProcesses   int            `json:"total_processes"`
	TotalFileAccess  int            `json:"total_file_access"`
	CommandFrequency []Count        `json:"command_frequency"`
	FileAccess       map[string]int `json:"file_access_patterns"`
	ActiveDuration   time.Duration  `json:"active_duration"`
	ActiveHours      float64        `json:"active_hours"`
	PrimaryLanguages []Count        `json:"primary_languages"`
	RecentFiles      []string       `json:"recent_files"`
	CurrentDirectory string         `json:"current_directory,omitempty"`
	DirectoryChanges int            `json:"directory_changes"`

	// Filled in by the engine.
	BufferSize int      `json:"buffer_size"`
	Evicted    uint64   `json:"evicted"`
	Degraded   []string `json:"degraded"`
	Active     bool     `json:"monitoring_active"`
}

// Summarize computes a Summary from events in sequence order.
func Summarize(events []event.Event, opts Options) Summary {
	if opts.IdleThreshold <= 0 {
		opts.IdleThreshold = DefaultIdleThreshold
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}

	s := Summary{
		TotalEvents: len(events),
		FileAccess:  map[string]int{},
		Degraded:    []string{},
	}
	if len(events) > 0 {
		if opts.Start.IsZero() {
			opts.Start = events[0].Timestamp
		}
		if opts.Now.IsZero() {
			opts.Now = events[len(events)-1].Timestamp
		}
	}
	s.Start = opts.Start
	if !opts.Start.IsZero() && opts.Now.After(opts.Start) {
		s.Duration = opts.Now.Sub(opts.Start)
	}

	var (
		commands  []string
		languages []string
		files     []string
	)
	for _, e := range events {
		switch e.Kind {
		case event.KindCommand:
			s.TotalCommands++
			if e.Command.Output != "" {
				s.TotalOutputs++
			}
			name := e.Command.Text
			if !opts.ByText {
				name = Binary(e.Command.Text)
			}
			if name != "" {
				commands = append(commands, name)
			}
			if lang, ok := binaryLanguages[Binary(e.Command.Text)]; ok {
				languages = append(languages, lang)
			}
		case event.KindProcessStart:
			s.TotalProcesses++
		case event.KindFileChange:
			s.TotalFileAccess++
			s.FileAccess[string(e.File.Op)]++
			files = append(files, e.File.Path)
			if lang, ok := languageOf(e.File.Path); ok {
				languages = append(languages, lang)
			}
		case event.KindFileReference:
			s.TotalFileAccess++
			s.FileAccess["reference"]++
			if !e.Reference.IsDir {
				files = append(files, e.Reference.Path)
				if lang, ok := languageOf(e.Reference.Path); ok {
					languages = append(languages, lang)
				}
			}
		case event.KindEnvChange:
			if e.Env.Key == "cwd" {
				s.DirectoryChanges++
				s.CurrentDirectory = e.Env.Value
			}
		}
	}

	s.CommandFrequency = rank(commands, opts.TopK)
	s.PrimaryLanguages = rank(languages, opts.TopK)
	s.RecentFiles = recent(files, recentFiles)
	s.ActiveDuration = activeDuration(events, opts.IdleThreshold)
	s.ActiveHours = s.ActiveDuration.Hours()
	return s
}

// rank counts names and returns the top k by count, ties broken by name.
func rank(names []string, k int) []Count {
	counts := lo.MapToSlice(lo.CountValues(names), func(name string, n int) Count {
		return Count{Name: name, Count: n}
	})
	slices.SortFunc(counts, func(a, b Count) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(counts) > k {
		counts = counts[:k]
	}
	return counts
}

// recent returns up to n distinct paths, most recently touched last.
func recent(paths []string, n int) []string {
	rev := lo.Uniq(lo.Reverse(slices.Clone(paths)))
	if len(rev) > n {
		rev = rev[:n]
	}
	return lo.Reverse(rev)
}

// activeDuration sums the gaps between consecutive events that do not
// exceed the idle threshold. Events are in sequence order, so a timestamp
// that goes backwards contributes nothing.
func activeDuration(events []event.Event, idle time.Duration) time.Duration {
	var total time.Duration
	for i := 1; i < len(events); i++ {
		gap := events[i].Timestamp.Sub(events[i-1].Timestamp)
		if gap > 0 && gap <= idle {
			total += gap
		}
	}
	return total
}

// wrappers run another command named by their first non-flag argument.
var wrappers = map[string]bool{
	"sudo": true, "doas": true, "env": true, "time": true, "nohup": true,
	"nice": true, "command": true, "exec": true, "builtin": true, "xargs": true,
}

// wrapperValueFlags lists, per wrapper, the flags whose value is the next
// word rather than part of the flag.
var wrapperValueFlags = map[string]map[string]bool{
	"sudo": {"-u": true, "-g": true, "-C": true, "-h": true, "-p": true, "-r": true, "-t": true, "-D": true, "-U": true,
		"--user": true, "--group": true, "--close-from": true, "--host": true, "--prompt": true,
		"--role": true, "--type": true, "--chdir": true, "--other-user": true},
	"doas":  {"-u": true, "-C": true},
	"env":   {"-u": true, "-C": true, "-S": true, "--unset": true, "--chdir": true, "--split-string": true},
	"nice":  {"-n": true, "--adjustment": true},
	"exec":  {"-a": true},
	"xargs": {"-I": true, "-n": true, "-P": true, "-d": true, "-L": true, "-s": true, "-E": true, "-a": true},
}

// Binary returns the program a command line runs: the first word that is
// not an assignment, a wrapper such as sudo, or a wrapper's flag. For a
// pipeline or list it is the first command's program.
func Binary(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	var stmt *syntax.Stmt
	err := syntax.NewParser().Stmts(strings.NewReader(text), func(s *syntax.Stmt) bool {
		stmt = s
		return false
	})
	if err != nil || stmt == nil {
		return fallbackBinary(text)
	}
	if name := binaryOf(stmt.Cmd); name != "" {
		return name
	}
	return fallbackBinary(text)
}

func binaryOf(cmd syntax.Command) string {
	switch c := cmd.(type) {
	case *syntax.CallExpr:
		var words []string
		for _, w := range c.Args {
			words = append(words, w.Lit())
		}
		return firstProgram(words)
	case *syntax.BinaryCmd:
		return binaryOf(c.X.Cmd)
	case *syntax.TimeClause:
		if c.Stmt != nil {
			return binaryOf(c.Stmt.Cmd)
		}
	case *syntax.Subshell:
		if len(c.Stmts) > 0 {
			return binaryOf(c.Stmts[0].Cmd)
		}
	case *syntax.Block:
		if len(c.Stmts) > 0 {
			return binaryOf(c.Stmts[0].Cmd)
		}
	}
	return ""
}

// firstProgram skips wrappers, their flags and flag values, and env-style
// assignments. Words that are not plain literals (expansions, quotes) come
// through as "".
func firstProgram(words []string) string {
	wrapper := ""
	skipValue := false
	for _, w := range words {
		switch {
		case w == "":
			return ""
		case skipValue:
			skipValue = false
			continue
		case wrapper != "" && strings.HasPrefix(w, "-"):
			skipValue = wrapperValueFlags[wrapper][w]
			continue
		case wrapper != "" && strings.Contains(w, "="):
			continue
		case wrappers[filepath.Base(w)]:
			wrapper = filepath.Base(w)
			continue
		}
		return filepath.Base(w)
	}
	return ""
}

func fallbackBinary(text string) string {
	fields := strings.Fields(text)
	for _, f := range fields {
		if strings.Contains(f, "=") && !strings.HasPrefix(f, "=") {
			continue
		}
		return filepath.Base(f)
	}
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}
