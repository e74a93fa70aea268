package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakeyudi/termctx/internal/event"
)

func TestRecorderObserve(t *testing.T) {
	r := NewRecorder(t.TempDir())

	r.Observe(event.NewCommand("history", event.Command{Text: "ls"}))
	r.Observe(event.NewCommand("external", event.Command{Text: "make"}))
	r.Observe(event.NewProcessStart("process", event.Process{PID: 10, Name: "vim"}))
	r.Observe(event.NewProcessStop("process", event.Process{PID: 10, Name: "vim"}))
	r.Observe(event.NewFile("files", event.File{Path: "/a", Op: event.OpModify}))
	r.Observe(event.NewReference("resolver", event.Reference{Path: "/b"}))
	r.Observe(event.NewEnv("env", event.Env{Key: "cwd", Value: "/srv"}))
	r.Observe(event.NewEnv("env", event.Env{Key: "TERM", Value: "xterm-kitty"}))

	s := r.Snapshot()
	assert.Equal(t, 2, s.TotalCommands)
	assert.Equal(t, 1, s.TotalProcesses)
	assert.Equal(t, 2, s.TotalFileAccess)
	assert.Equal(t, "/srv", s.Env.Cwd)
	assert.Equal(t, "xterm-kitty", s.Env.Term)
	assert.NotEmpty(t, s.ID)
}

func TestRecorderSnapshotIsACopy(t *testing.T) {
	r := NewRecorder(".")
	r.SetSource("tmux", Source{State: "inert", Since: time.Now()})

	s := r.Snapshot()
	s.Sources["tmux"] = Source{State: "degraded"}

	assert.Equal(t, "inert", r.Snapshot().Sources["tmux"].State)
}

func TestDegradedAndStop(t *testing.T) {
	r := NewRecorder(".")
	r.SetSource("process", Source{State: "degraded", Error: "boom"})
	r.SetSource("history", Source{State: "degraded"})
	r.SetSource("files", Source{State: "ok"})

	s := r.Snapshot()
	assert.Equal(t, []string{"history", "process"}, s.Degraded())

	first := s.StartTime.Add(time.Minute)
	r.Stop(first)
	r.Stop(first.Add(time.Hour))

	s = r.Snapshot()
	require.NotNil(t, s.StopTime)
	assert.True(t, s.StopTime.Equal(first))
	assert.Equal(t, time.Minute, s.Duration(time.Now()))
}
