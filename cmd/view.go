package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fakeyudi/termctx/internal/event"
	"github.com/fakeyudi/termctx/internal/export"
	"github.com/fakeyudi/termctx/internal/tui"
)

var plainOutput bool

var viewCmd = &cobra.Command{
	Use:   "view <file>",
	Short: "View a session export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		doc, err := loadExport(path)
		if err != nil {
			return err
		}

		if plainOutput {
			printDocument(cmd.OutOrStdout(), doc)
			return nil
		}
		return tui.Run(doc, path)
	},
}

const viewTime = "2006-01-02 15:04:05"

// printDocument writes a plain-text rendering of doc to w.
func printDocument(w io.Writer, doc *export.Document) {
	s := doc.Session
	fmt.Fprintln(w, "## Summary")
	fmt.Fprintf(w, "  Work dir:  %s\n", s.WorkDir)
	if doc.Author != "" {
		fmt.Fprintf(w, "  Author:    %s\n", doc.Author)
	}
	fmt.Fprintf(w, "  Started:   %s\n", s.StartTime.Format("2006-01-02 15:04:05 MST"))
	if s.StopTime != nil {
		fmt.Fprintf(w, "  Stopped:   %s\n", s.StopTime.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintf(w, "  Duration:  %s\n", doc.Summary.Duration)
	fmt.Fprintf(w, "  Events:    %d (%d evicted)\n", doc.Summary.TotalEvents, doc.Summary.Evicted)
	if len(doc.Summary.Degraded) > 0 {
		fmt.Fprintf(w, "  Degraded:  %s\n", strings.Join(doc.Summary.Degraded, ", "))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Top Commands")
	if len(doc.Summary.CommandFrequency) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, c := range doc.Summary.CommandFrequency {
		fmt.Fprintf(w, "  %-24s %d\n", c.Name, c.Count)
	}
	fmt.Fprintln(w)

	var commands, procs, files, refs, panes []event.Event
	for _, e := range doc.Events {
		switch e.Kind {
		case event.KindCommand:
			commands = append(commands, e)
		case event.KindProcessStart, event.KindProcessStop:
			procs = append(procs, e)
		case event.KindFileChange:
			files = append(files, e)
		case event.KindFileReference:
			refs = append(refs, e)
		case event.KindTmuxContent:
			panes = append(panes, e)
		}
	}

	fmt.Fprintln(w, "## Terminal Commands")
	if len(commands) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for i, e := range commands {
		fmt.Fprintf(w, "  %d. %s\n", i+1, e.Command.Text)
		if e.Command.Output != "" {
			fmt.Fprintln(w, indent(e.Command.Output, "       "))
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Processes")
	if len(procs) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, e := range procs {
		verb := "started"
		if e.Kind == event.KindProcessStop {
			verb = "stopped"
		}
		fmt.Fprintf(w, "  [%s] %s %s (pid %d)\n", e.Timestamp.Format(viewTime), verb, e.Process.Name, e.Process.PID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## File Changes")
	if len(files) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, e := range files {
		fmt.Fprintf(w, "  %-7s %s  (%s)\n", e.File.Op, e.File.Path, e.Timestamp.Format(viewTime))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## References")
	if len(refs) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, e := range refs {
		fmt.Fprintf(w, "  %s → %s\n", e.Reference.Token, e.Reference.Path)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Panes")
	latest := map[string]string{}
	var order []string
	for _, e := range panes {
		if _, ok := latest[e.Pane.PaneID]; !ok {
			order = append(order, e.Pane.PaneID)
		}
		latest[e.Pane.PaneID] = e.Pane.Text
	}
	if len(order) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, id := range order {
		fmt.Fprintf(w, "  ### %s\n", id)
		fmt.Fprintln(w, indent(latest[id], "    "))
	}
	fmt.Fprintln(w)
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if line != "" {
			lines[i] = prefix + line
		}
	}
	return strings.Join(lines, "\n")
}

func init() {
	viewCmd.Flags().BoolVar(&plainOutput, "plain", false, "plain text output instead of TUI")
	rootCmd.AddCommand(viewCmd)
}
