package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/fakeyudi/termctx/internal/event"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(e event.Event, offset time.Duration) event.Event {
	e.Timestamp = t0.Add(offset)
	return e
}

func cmd(text string, offset time.Duration) event.Event {
	return at(event.NewCommand("history", event.Command{Text: text}), offset)
}

func file(path string, op event.FileOp, offset time.Duration) event.Event {
	return at(event.NewFile("files", event.File{Path: path, Op: op}), offset)
}

func TestSummarize(t *testing.T) {
	events := []event.Event{
		cmd("go test ./...", 0),
		cmd("sudo -E FOO=1 go build", time.Minute),
		file("/src/main.go", event.OpModify, 2*time.Minute),
		at(event.NewProcessStart("process", event.Process{PID: 10, Name: "vim"}), 3*time.Minute),
		at(event.NewProcessStop("process", event.Process{PID: 10, Name: "vim"}), 4*time.Minute),
		file("/src/util.go", event.OpCreate, 5*time.Minute),
		// An hour of idleness.
		cmd("npm install", 65*time.Minute),
		file("/src/main.go", event.OpModify, 66*time.Minute),
		at(event.NewEnv("env", event.Env{Key: "cwd", Value: "/src/web", Previous: "/src"}), 67*time.Minute),
		at(event.NewReference("resolver", event.Reference{Token: "@README.md", Path: "/src/README.md"}), 68*time.Minute),
		at(event.NewCommand("external", event.Command{Text: "make", Output: "ok"}), 69*time.Minute),
	}

	s := Summarize(events, Options{Start: t0.Add(-time.Minute), Now: t0.Add(70 * time.Minute)})

	assert.Equal(t, 71*time.Minute, s.Duration)
	assert.Equal(t, len(events), s.TotalEvents)
	assert.Equal(t, 4, s.TotalCommands)
	assert.Equal(t, 1, s.TotalOutputs)
	assert.Equal(t, 1, s.TotalProcesses)
	assert.Equal(t, 4, s.TotalFileAccess)
	assert.Equal(t, map[string]int{"modify": 2, "create": 1, "reference": 1}, s.FileAccess)
	assert.Equal(t, []Count{{"go", 2}, {"make", 1}, {"npm", 1}}, s.CommandFrequency)

	// 5 minutes before the gap plus 4 after it.
	assert.Equal(t, 9*time.Minute, s.ActiveDuration)
	assert.InDelta(t, 0.15, s.ActiveHours, 1e-9)

	require.NotEmpty(t, s.PrimaryLanguages)
	assert.Equal(t, Count{"Go", 5}, s.PrimaryLanguages[0])

	assert.Equal(t, []string{"/src/util.go", "/src/main.go", "/src/README.md"}, s.RecentFiles)
	assert.Equal(t, "/src/web", s.CurrentDirectory)
	assert.Equal(t, 1, s.DirectoryChanges)
}

func TestSummarizeByTextAndTopK(t *testing.T) {
	events := []event.Event{cmd("ls", 0), cmd("ls -la", 1), cmd("ls", 2), cmd("pwd", 3)}

	s := Summarize(events, Options{ByText: true, TopK: 2})
	assert.Equal(t, []Count{{"ls", 2}, {"ls -la", 1}}, s.CommandFrequency)

	s = Summarize(events, Options{})
	assert.Equal(t, []Count{{"ls", 3}, {"pwd", 1}}, s.CommandFrequency)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, Options{})
	assert.Zero(t, s.Duration)
	assert.Empty(t, s.CommandFrequency)
	assert.Empty(t, s.RecentFiles)
	assert.NotNil(t, s.FileAccess)
	assert.NotNil(t, s.Degraded)
}

func TestRecentFilesKeepsLastTenDistinct(t *testing.T) {
	var events []event.Event
	for i := 0; i < 15; i++ {
		events = append(events, file("/f/"+string(rune('a'+i)), event.OpModify, time.Duration(i)*time.Second))
	}
	events = append(events, file("/f/a", event.OpModify, time.Minute))

	s := Summarize(events, Options{})
	require.Len(t, s.RecentFiles, 10)
	assert.Equal(t, "/f/g", s.RecentFiles[0])
	assert.Equal(t, "/f/a", s.RecentFiles[9])
}

func TestBinary(t *testing.T) {
	cases := map[string]string{
		"git status":                  "git",
		"  /usr/local/bin/kubectl get": "kubectl",
		"FOO=1 BAR=2 make test":       "make",
		"sudo apt-get install jq":     "apt-get",
		"env -i PATH=/bin ls":         "ls",
		"sudo -u root apt install jq": "apt",
		"sudo -u postgres -E psql":    "psql",
		"sudo --user=root make":       "make",
		"nice -n 10 make -j8":         "make",
		"env -u HOME -C /tmp go env":  "go",
		"xargs -I {} -P 4 rm {}":      "rm",
		"sudo -i":                     "sudo",
		"time cargo build --release":  "cargo",
		"cat go.mod | grep module":    "cat",
		"cd /tmp && ls":               "cd",
		"(cd web && npm test)":        "cd",
		"./scripts/deploy.sh prod":    "deploy.sh",
		"echo 'unterminated":          "echo",
		"":                            "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Binary(in), in)
	}
}

// Feature: termctx, Property 8: Active time never exceeds the session span and
// command counts add up
func TestSummaryBounds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(rt, "n")
		var events []event.Event
		offset := time.Duration(0)
		for i := 0; i < n; i++ {
			offset += time.Duration(rapid.IntRange(0, 600).Draw(rt, "gap")) * time.Second
			name := rapid.SampledFrom([]string{"ls", "go test", "vim x.go", "make"}).Draw(rt, "cmd")
			events = append(events, cmd(name, offset))
		}

		s := Summarize(events, Options{})
		if s.ActiveDuration > s.Duration {
			rt.Fatalf("active %v exceeds duration %v", s.ActiveDuration, s.Duration)
		}
		total := 0
		for _, c := range s.CommandFrequency {
			total += c.Count
		}
		if total != s.TotalCommands || s.TotalCommands != n {
			rt.Fatalf("frequency total %d, commands %d, want %d", total, s.TotalCommands, n)
		}
	})
}
