package session

import (
	"maps"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fakeyudi/termctx/internal/event"
)

// Session is the serializable record of one monitoring run.
type Session struct {
	ID        string     `json:"id"`
	PID       int        `json:"pid"`
	StartTime time.Time  `json:"start_time"`
	StopTime  *time.Time `json:"stop_time,omitempty"`
	WorkDir   string     `json:"work_dir"`
	Env       Env        `json:"env"`

	TotalCommands   int `json:"total_commands"`
	TotalProcesses  int `json:"total_processes"`
	TotalFileAccess int `json:"total_file_access"`

	// Sources is keyed by watcher name.
	Sources map[string]Source `json:"sources,omitempty"`
}

// Env is the last known environment of the observed shell.
type Env struct {
	Cwd      string `json:"cwd"`
	Shell    string `json:"shell"`
	User     string `json:"user"`
	Term     string `json:"term"`
	Hostname string `json:"hostname"`
}

// Source is the health of one watcher as last reported.
type Source struct {
	State    string    `json:"state"`
	Error    string    `json:"error,omitempty"`
	Since    time.Time `json:"since"`
	Failures int       `json:"failures,omitempty"`
}

// Degraded lists the names of sources whose state is "degraded".
func (s *Session) Degraded() []string {
	var out []string
	for name, src := range s.Sources {
		if src.State == "degraded" {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Duration returns how long the session ran, or has been running as of now.
func (s *Session) Duration(now time.Time) time.Duration {
	end := now
	if s.StopTime != nil {
		end = *s.StopTime
	}
	return end.Sub(s.StartTime)
}

// Recorder owns the live Session and applies events to it.
type Recorder struct {
	mu   sync.Mutex
	sess Session
}

// NewRecorder starts a session rooted at workDir, capturing the current
// process environment as the initial snapshot.
func NewRecorder(workDir string) *Recorder {
	if abs, err := filepath.Abs(workDir); err == nil {
		workDir = abs
	}
	return &Recorder{sess: Session{
		ID:        uuid.New().String(),
		PID:       os.Getpid(),
		StartTime: time.Now(),
		WorkDir:   workDir,
		Env:       currentEnv(workDir),
		Sources:   make(map[string]Source),
	}}
}

func currentEnv(workDir string) Env {
	env := Env{
		Cwd:   workDir,
		Shell: os.Getenv("SHELL"),
		User:  os.Getenv("USER"),
		Term:  os.Getenv("TERM"),
	}
	if env.User == "" {
		if u, err := user.Current(); err == nil {
			env.User = u.Username
		}
	}
	env.Hostname, _ = os.Hostname()
	return env
}

// Observe updates counters and the environment snapshot for an appended event.
func (r *Recorder) Observe(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Kind {
	case event.KindCommand:
		r.sess.TotalCommands++
	case event.KindProcessStart:
		r.sess.TotalProcesses++
	case event.KindFileChange, event.KindFileReference:
		r.sess.TotalFileAccess++
	case event.KindEnvChange:
		switch e.Env.Key {
		case "cwd":
			r.sess.Env.Cwd = e.Env.Value
		case "SHELL":
			r.sess.Env.Shell = e.Env.Value
		case "USER":
			r.sess.Env.User = e.Env.Value
		case "TERM":
			r.sess.Env.Term = e.Env.Value
		}
	}
}

// SetSource records the health of a watcher.
func (r *Recorder) SetSource(name string, src Source) {
	r.mu.Lock()
	r.sess.Sources[name] = src
	r.mu.Unlock()
}

// Stop stamps the stop time. Later calls keep the first stamp.
func (r *Recorder) Stop(at time.Time) {
	r.mu.Lock()
	if r.sess.StopTime == nil {
		r.sess.StopTime = &at
	}
	r.mu.Unlock()
}

// Snapshot returns a copy of the session that is safe to serialize.
func (r *Recorder) Snapshot() Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.sess
	s.Sources = maps.Clone(r.sess.Sources)
	if r.sess.StopTime != nil {
		stop := *r.sess.StopTime
		s.StopTime = &stop
	}
	return s
}
