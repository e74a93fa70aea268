package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/fakeyudi/termctx/internal/analytics"
	"github.com/fakeyudi/termctx/internal/event"
	"github.com/fakeyudi/termctx/internal/export"
	"github.com/fakeyudi/termctx/internal/session"
)

var textGen = rapid.StringMatching(`[a-z][a-z0-9 ./_-]{0,30}`)

// generateViewDocument produces a document with at least one event of every
// kind the plain view prints.
func generateViewDocument(t *rapid.T) *export.Document {
	sec := rapid.Int64Range(1_000_000_000, 1_700_000_000).Draw(t, "unix_sec")
	start := time.Unix(sec, 0).UTC()
	stop := start.Add(time.Duration(rapid.IntRange(1, 36000).Draw(t, "seconds")) * time.Second)

	var events []event.Event
	add := func(e event.Event) {
		e.Sequence = uint64(len(events) + 1)
		e.Timestamp = start.Add(time.Duration(len(events)) * time.Second)
		events = append(events, e)
	}
	for i, n := 0, rapid.IntRange(1, 5).Draw(t, "commands"); i < n; i++ {
		add(event.NewCommand("history", event.Command{Text: textGen.Draw(t, "cmd")}))
	}
	add(event.NewProcessStart("process", event.Process{PID: int32(rapid.IntRange(1, 1<<20).Draw(t, "pid")), Name: textGen.Draw(t, "proc")}))
	add(event.NewFile("files", event.File{Path: "/w/" + textGen.Draw(t, "file"), Op: event.OpModify}))
	add(event.NewReference("resolver", event.Reference{Token: "@x", Path: "/w/x", Content: textGen.Draw(t, "ref")}))
	add(event.NewPane("tmux", event.Pane{PaneID: "%1", Text: textGen.Draw(t, "pane")}))

	sess := session.Session{
		ID:        rapid.StringMatching(`[a-f0-9]{8}`).Draw(t, "session_id"),
		StartTime: start,
		StopTime:  &stop,
		WorkDir:   "/w",
	}
	return export.NewDocument(sess, analytics.Summarize(events, analytics.Options{Start: start, Now: stop}), events)
}

// TestViewNonExistentFile verifies that viewing a missing file returns
// "file not found: <path>".
func TestViewNonExistentFile(t *testing.T) {
	tmp := isolate(t)
	missingPath := filepath.Join(tmp, "does-not-exist.json")

	out, err := executeCommand(rootCmd, "view", missingPath)
	if err == nil {
		t.Fatal("expected an error for non-existent file, got nil")
	}
	combined := out + err.Error()
	expected := "file not found: " + missingPath
	if !strings.Contains(combined, expected) {
		t.Errorf("expected error to contain %q, got: %q", expected, combined)
	}
}

// TestViewInvalidExport verifies that viewing a Markdown file without the
// termctx sentinel is rejected.
func TestViewInvalidExport(t *testing.T) {
	tmp := isolate(t)

	plainMD := filepath.Join(tmp, "plain.md")
	if err := os.WriteFile(plainMD, []byte("# Just a regular markdown file\n\nNo sentinel here.\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := executeCommand(rootCmd, "view", "--plain", plainMD)
	if err == nil {
		t.Fatal("expected an error for invalid export, got nil")
	}
	combined := out + err.Error()
	if !strings.Contains(combined, "not a valid termctx export") {
		t.Errorf("expected error to contain %q, got: %q", "not a valid termctx export", combined)
	}
}

func TestViewPlainReadsEveryFormat(t *testing.T) {
	tmp := isolate(t)
	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	stop := start.Add(time.Hour)
	events := []event.Event{
		event.NewCommand("history", event.Command{Text: "cargo build", Output: "Finished dev"}),
	}
	events[0].Sequence, events[0].Timestamp = 1, start
	d := export.NewDocument(session.Session{ID: "s", StartTime: start, StopTime: &stop, WorkDir: "/w"},
		analytics.Summarize(events, analytics.Options{Start: start, Now: stop}), events)

	for _, f := range export.Formats {
		path := filepath.Join(tmp, "view"+f.Ext())
		if err := export.WriteFile(path, d, f, export.Options{}); err != nil {
			t.Fatalf("WriteFile %s: %v", f, err)
		}
		out, err := executeCommand(rootCmd, "view", "--plain", path)
		if err != nil {
			t.Fatalf("view %s: %v", f, err)
		}
		if !strings.Contains(out, "1. cargo build") || !strings.Contains(out, "Finished dev") {
			t.Errorf("%s: expected the command and its output, got:\n%s", f, out)
		}
	}
}

// TestViewSectionOrder checks that the plain view prints its sections in a
// fixed order.
func TestViewSectionOrder(t *testing.T) {
	sectionHeaders := []string{
		"## Summary",
		"## Top Commands",
		"## Terminal Commands",
		"## Processes",
		"## File Changes",
		"## References",
		"## Panes",
	}

	rapid.Check(t, func(rt *rapid.T) {
		var buf bytes.Buffer
		printDocument(&buf, generateViewDocument(rt))
		output := buf.String()

		positions := make([]int, len(sectionHeaders))
		for i, header := range sectionHeaders {
			pos := strings.Index(output, header)
			if pos == -1 {
				rt.Fatalf("section header %q not found in output:\n%s", header, output)
			}
			positions[i] = pos
		}
		for i := 0; i < len(positions)-1; i++ {
			if positions[i] >= positions[i+1] {
				rt.Errorf("section %q (pos %d) does not appear before %q (pos %d) in output:\n%s",
					sectionHeaders[i], positions[i], sectionHeaders[i+1], positions[i+1], output)
			}
		}
		if strings.Contains(output, "(none)") {
			rt.Errorf("every section has content, got an empty one:\n%s", output)
		}
	})
}

func TestSummaryRecomputes(t *testing.T) {
	tmp := isolate(t)

	start := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	stop := start.Add(time.Hour)
	var events []event.Event
	for i, text := range []string{"go test ./...", "go build", "git status", "go test ./cmd"} {
		e := event.NewCommand("history", event.Command{Text: text})
		e.Sequence, e.Timestamp = uint64(i+1), start.Add(time.Duration(i)*time.Minute)
		events = append(events, e)
	}
	summary := analytics.Summarize(events, analytics.Options{Start: start, Now: stop})
	summary.Degraded = []string{"tmux"}
	summary.Evicted = 2
	path := filepath.Join(tmp, "s.json")
	d := export.NewDocument(session.Session{ID: "s", StartTime: start, StopTime: &stop, WorkDir: "/w"}, summary, events)
	if err := export.WriteFile(path, d, export.FormatJSON, export.Options{}); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := executeCommand(rootCmd, "summary", path)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	for _, want := range []string{"Duration:        1h0m0s", "(2 evicted)", "Degraded:        tmux", "1. go", "2. git"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}

	out, err = executeCommand(rootCmd, "summary", "--json", "--by-text", "--top", "1", path)
	if err != nil {
		t.Fatalf("summary --json: %v", err)
	}
	var got analytics.Summary
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("Unmarshal: %v\n%s", err, out)
	}
	if len(got.CommandFrequency) != 1 || got.CommandFrequency[0].Name != "git status" {
		t.Errorf("expected one full-text entry ranked first by name, got %+v", got.CommandFrequency)
	}
	if got.TotalCommands != 4 || got.Evicted != 2 {
		t.Errorf("unexpected totals: %+v", got)
	}
}
