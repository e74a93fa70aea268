package watcher

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// HistoryFormat names the on-disk layout of a history file.
type HistoryFormat string

const (
	FormatBash HistoryFormat = "bash"
	FormatZsh  HistoryFormat = "zsh"
	FormatFish HistoryFormat = "fish"
	// FormatHook is the "<epoch>\t<command>" log written by the shell plugin.
	FormatHook HistoryFormat = "hook"
)

// ParseHistoryFormat validates a format name.
func ParseHistoryFormat(s string) (HistoryFormat, error) {
	switch f := HistoryFormat(s); f {
	case FormatBash, FormatZsh, FormatFish, FormatHook:
		return f, nil
	}
	return "", fmt.Errorf("unknown history format %q", s)
}

// entry is one command recovered from a history file.
type entry struct {
	text string
	at   time.Time // zero when the format has no timestamp
}

// lineParser consumes complete lines one at a time. Parsers are stateful so
// that multi-line records split across polls are reassembled. clone returns
// an independent copy so a poll can be staged and thrown away.
type lineParser interface {
	feed(line string) []entry
	reset()
	clone() lineParser
}

func newLineParser(f HistoryFormat) lineParser {
	switch f {
	case FormatZsh:
		return &zshParser{}
	case FormatFish:
		return &fishParser{}
	case FormatHook:
		return hookParser{}
	default:
		return &bashParser{}
	}
}

// bashParser handles plain bash history and the HISTTIMEFORMAT layout where
// a `#<epoch>` line precedes each command.
type bashParser struct {
	pending time.Time
}

func (p *bashParser) feed(line string) []entry {
	if strings.HasPrefix(line, "#") {
		if epoch, err := strconv.ParseInt(strings.TrimPrefix(line, "#"), 10, 64); err == nil {
			p.pending = time.Unix(epoch, 0)
			return nil
		}
		// Otherwise it's a comment.
		p.pending = time.Time{}
		return nil
	}
	if strings.TrimSpace(line) == "" {
		p.pending = time.Time{}
		return nil
	}
	e := entry{text: line, at: p.pending}
	p.pending = time.Time{}
	return []entry{e}
}

func (p *bashParser) reset() { p.pending = time.Time{} }

func (p *bashParser) clone() lineParser {
	c := *p
	return &c
}

// zshParser handles `: <epoch>:<elapsed>;<command>` with a plain fallback.
// A trailing backslash continues the command on the next line.
type zshParser struct {
	cont *entry
}

func (p *zshParser) feed(line string) []entry {
	if p.cont != nil {
		p.cont.text += "\n" + strings.TrimSuffix(line, "\\")
		if strings.HasSuffix(line, "\\") {
			return nil
		}
		e := *p.cont
		p.cont = nil
		return []entry{e}
	}
	if line == "" {
		return nil
	}

	e := entry{text: line}
	if rest, ok := strings.CutPrefix(line, ": "); ok {
		if timePart, cmd, ok := strings.Cut(rest, ";"); ok {
			if epochStr, _, ok := strings.Cut(timePart, ":"); ok {
				if epoch, err := strconv.ParseInt(epochStr, 10, 64); err == nil {
					e = entry{text: cmd, at: time.Unix(epoch, 0)}
				}
			}
		}
	}
	if strings.HasSuffix(e.text, "\\") {
		e.text = strings.TrimSuffix(e.text, "\\")
		p.cont = &e
		return nil
	}
	return []entry{e}
}

func (p *zshParser) reset() { p.cont = nil }

func (p *zshParser) clone() lineParser {
	return &zshParser{cont: cloneEntry(p.cont)}
}

// fishParser handles the YAML-like fish_history layout:
//
//	- cmd: <command>
//	  when: <epoch>
type fishParser struct {
	pending *entry
}

func (p *fishParser) feed(line string) []entry {
	if cmd, ok := strings.CutPrefix(line, "- cmd: "); ok {
		var out []entry
		// A previous entry without a when: line is flushed untimed.
		if p.pending != nil {
			out = append(out, *p.pending)
		}
		p.pending = &entry{text: cmd}
		return out
	}
	if p.pending != nil && strings.HasPrefix(line, "  when: ") {
		if epoch, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "  when: ")), 10, 64); err == nil {
			p.pending.at = time.Unix(epoch, 0)
		}
		e := *p.pending
		p.pending = nil
		return []entry{e}
	}
	// Any other line (e.g. "  paths:") is ignored.
	return nil
}

func (p *fishParser) reset() { p.pending = nil }

func (p *fishParser) clone() lineParser {
	return &fishParser{pending: cloneEntry(p.pending)}
}

func cloneEntry(e *entry) *entry {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// hookParser handles the plugin log: <epoch>\t<command>.
type hookParser struct{}

func (hookParser) feed(line string) []entry {
	epochStr, raw, ok := strings.Cut(line, "\t")
	if !ok || epochStr == "" || raw == "" {
		return nil
	}
	epoch, err := strconv.ParseInt(epochStr, 10, 64)
	if err != nil {
		return nil
	}
	return []entry{{text: raw, at: time.Unix(epoch, 0)}}
}

func (hookParser) reset() {}

func (p hookParser) clone() lineParser { return p }
