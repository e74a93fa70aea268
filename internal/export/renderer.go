package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/fakeyudi/termctx/internal/event"
)

const (
	markdownSentinel   = "<!-- termctx-export-version: 1 -->"
	markdownDataPrefix = "<!-- termctx-data: "
	markdownDataSuffix = " -->"
)

// Renderer serializes a Document to bytes.
type Renderer interface {
	Render(doc *Document) ([]byte, error)
}

// JSONRenderer renders a Document as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// MarkdownRenderer renders a Document as a human-readable report with an
// embedded base64 JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(doc *Document) ([]byte, error) {
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder
	sb.WriteString(markdownSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", markdownDataPrefix, encoded, markdownDataSuffix)

	sess := doc.Session
	end := time.Now()
	if sess.StopTime != nil {
		end = *sess.StopTime
	}
	fmt.Fprintf(&sb, "# termctx session: %s (%s)\n\n", sess.WorkDir, end.Format("2006-01-02 15:04:05 MST"))

	sum := doc.Summary
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Duration: %s\n", sum.Duration.Round(time.Second))
	fmt.Fprintf(&sb, "- Active: %s\n", sum.ActiveDuration.Round(time.Second))
	if doc.Author != "" {
		fmt.Fprintf(&sb, "- Author: %s\n", doc.Author)
	}
	if sess.Env.Shell != "" {
		fmt.Fprintf(&sb, "- Shell: %s\n", sess.Env.Shell)
	}
	fmt.Fprintf(&sb, "- Commands: %d\n", sum.TotalCommands)
	fmt.Fprintf(&sb, "- Processes started: %d\n", sum.TotalProcesses)
	fmt.Fprintf(&sb, "- File accesses: %d\n", sum.TotalFileAccess)
	fmt.Fprintf(&sb, "- Events retained: %s", humanize.Comma(int64(len(doc.Events))))
	if sum.Evicted > 0 {
		fmt.Fprintf(&sb, " (%s evicted)", humanize.Comma(int64(sum.Evicted)))
	}
	sb.WriteString("\n")
	if len(sum.Degraded) > 0 {
		fmt.Fprintf(&sb, "- Degraded sources: %s\n", strings.Join(sum.Degraded, ", "))
	}
	sb.WriteString("\n")

	sb.WriteString("## Top Commands\n\n")
	if len(sum.CommandFrequency) == 0 {
		sb.WriteString("_No commands recorded._\n")
	} else {
		sb.WriteString("| Command | Count |\n")
		sb.WriteString("|---------|-------|\n")
		for _, c := range sum.CommandFrequency {
			fmt.Fprintf(&sb, "| `%s` | %d |\n", c.Name, c.Count)
		}
	}
	sb.WriteString("\n")

	if len(sum.PrimaryLanguages) > 0 {
		sb.WriteString("## Languages\n\n")
		for _, l := range sum.PrimaryLanguages {
			fmt.Fprintf(&sb, "- %s (%d)\n", l.Name, l.Count)
		}
		sb.WriteString("\n")
	}

	var (
		commands []event.Event
		procs    []event.Event
		files    []event.Event
		envs     []event.Event
		refs     []event.Event
	)
	panes := map[string]event.Event{}
	var paneOrder []string
	for _, e := range doc.Events {
		switch e.Kind {
		case event.KindCommand:
			commands = append(commands, e)
		case event.KindProcessStart, event.KindProcessStop:
			procs = append(procs, e)
		case event.KindFileChange:
			files = append(files, e)
		case event.KindEnvChange:
			envs = append(envs, e)
		case event.KindFileReference:
			refs = append(refs, e)
		case event.KindTmuxContent:
			if _, ok := panes[e.Pane.PaneID]; !ok {
				paneOrder = append(paneOrder, e.Pane.PaneID)
			}
			panes[e.Pane.PaneID] = e
		}
	}

	sb.WriteString("## Terminal Commands\n\n")
	if len(commands) == 0 {
		sb.WriteString("_No terminal commands recorded._\n")
	} else {
		for i, e := range commands {
			fmt.Fprintf(&sb, "%d. `%s` (%s)\n", i+1, e.Command.Text, e.Timestamp.Format("15:04:05"))
			if e.Command.Output != "" {
				sb.WriteString("\n```text\n")
				sb.WriteString(e.Command.Output)
				if !strings.HasSuffix(e.Command.Output, "\n") {
					sb.WriteString("\n")
				}
				sb.WriteString("```\n\n")
			}
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## Processes\n\n")
	if len(procs) == 0 {
		sb.WriteString("_No process activity recorded._\n")
	} else {
		sb.WriteString("| Time | Event | PID | Command |\n")
		sb.WriteString("|------|-------|-----|---------|\n")
		for _, e := range procs {
			what := "start"
			if e.Kind == event.KindProcessStop {
				what = "stop"
			}
			cmdline := e.Process.Cmdline
			if cmdline == "" {
				cmdline = e.Process.Name
			}
			fmt.Fprintf(&sb, "| %s | %s | %d | `%s` |\n", e.Timestamp.Format("15:04:05"), what, e.Process.PID, cmdline)
		}
	}
	sb.WriteString("\n")

	sb.WriteString("## File Changes\n\n")
	if len(files) == 0 {
		sb.WriteString("_No file changes recorded._\n")
	} else {
		sb.WriteString("| Time | Operation | Path |\n")
		sb.WriteString("|------|-----------|------|\n")
		for _, e := range files {
			fmt.Fprintf(&sb, "| %s | %s | %s |\n", e.Timestamp.Format("15:04:05"), e.File.Op, e.File.Path)
		}
	}
	sb.WriteString("\n")

	if len(envs) > 0 {
		sb.WriteString("## Environment Changes\n\n")
		for _, e := range envs {
			fmt.Fprintf(&sb, "- %s `%s`: `%s` → `%s`\n", e.Timestamp.Format("15:04:05"), e.Env.Key, e.Env.Previous, e.Env.Value)
		}
		sb.WriteString("\n")
	}

	if len(refs) > 0 {
		sb.WriteString("## References\n\n")
		for _, e := range refs {
			r := e.Reference
			fmt.Fprintf(&sb, "### %s\n\n", r.Token)
			fmt.Fprintf(&sb, "%s, %s", r.Path, humanize.Bytes(uint64(r.Size)))
			if r.Truncated {
				sb.WriteString(", truncated")
			}
			if r.Encoding != "" {
				sb.WriteString(", " + r.Encoding)
			}
			sb.WriteString("\n\n```\n")
			sb.WriteString(r.Content)
			if !strings.HasSuffix(r.Content, "\n") {
				sb.WriteString("\n")
			}
			sb.WriteString("```\n\n")
		}
	}

	sb.WriteString("## Terminal Panes\n\n")
	if len(paneOrder) == 0 {
		sb.WriteString("_No pane captures recorded._\n")
	} else {
		for _, id := range paneOrder {
			e := panes[id]
			fmt.Fprintf(&sb, "### Pane %s (%s)\n\n", id, e.Timestamp.Format("15:04:05"))
			sb.WriteString("```text\n")
			sb.WriteString(e.Pane.Text)
			if !strings.HasSuffix(e.Pane.Text, "\n") {
				sb.WriteString("\n")
			}
			sb.WriteString("```\n\n")
		}
	}
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}
