// Package event defines the immutable records that flow from the source
// watchers into the context buffer.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind identifies what an Event describes.
type Kind string

const (
	KindCommand       Kind = "command"
	KindProcessStart  Kind = "process_start"
	KindProcessStop   Kind = "process_stop"
	KindTmuxContent   Kind = "tmux_content"
	KindFileChange    Kind = "file_change"
	KindEnvChange     Kind = "env_change"
	KindFileReference Kind = "file_reference_content"
)

// Kinds lists every known kind in a stable order.
var Kinds = []Kind{
	KindCommand, KindProcessStart, KindProcessStop, KindTmuxContent,
	KindFileChange, KindEnvChange, KindFileReference,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ParseKind converts a user-supplied name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown event kind %q", s)
	}
	return k, nil
}

// Command is a shell command observed in history, reported by a hook, or
// recorded by an external caller. Output is only set for recorded output.
type Command struct {
	Text        string    `json:"text"`
	Shell       string    `json:"shell,omitempty"`
	HistoryFile string    `json:"history_file,omitempty"`
	RecordedAt  time.Time `json:"recorded_at,omitzero"` // zero when the history format carries no timestamp
	Output      string    `json:"output,omitempty"`
}

// Process describes a process that started or stopped between two polls.
type Process struct {
	PID        int32     `json:"pid"`
	Name       string    `json:"name"`
	Cmdline    string    `json:"cmdline,omitempty"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float32   `json:"mem_percent"`
	StartedAt  time.Time `json:"started_at,omitzero"`
}

// Pane is a capture of a multiplexer pane whose content changed.
type Pane struct {
	PaneID string `json:"pane_id"`
	Text   string `json:"text"`
	Digest string `json:"digest"`
}

// FileOp is the coalesced operation reported for a path.
type FileOp string

const (
	OpCreate FileOp = "create"
	OpModify FileOp = "modify"
	OpDelete FileOp = "delete"
	OpRename FileOp = "rename"
	OpChmod  FileOp = "chmod"
)

// File is a file-system change under a watched root.
type File struct {
	Path string `json:"path"`
	Op   FileOp `json:"op"`
}

// Env is a change to the observed shell's working directory or environment.
// Key is "cwd" for directory changes.
type Env struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Previous string `json:"previous,omitempty"`
}

// Reference is the content of an @file or @directory reference that a
// caller chose to persist into the timeline.
type Reference struct {
	Token     string `json:"token"`
	Path      string `json:"path"`
	IsDir     bool   `json:"is_dir,omitempty"`
	Content   string `json:"content"`
	Encoding  string `json:"encoding,omitempty"` // "base64" for encoded binary content
	Truncated bool   `json:"truncated,omitempty"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest,omitempty"`
}

// Event is one observation in the session timeline. Exactly one payload
// pointer is set and it matches Kind. Sequence is zero until the buffer
// accepts the event.
type Event struct {
	Sequence  uint64
	Timestamp time.Time
	Kind      Kind
	Source    string

	Command   *Command
	Process   *Process
	Pane      *Pane
	File      *File
	Env       *Env
	Reference *Reference
}

// Clone returns a copy of e that shares no payload with it.
func (e Event) Clone() Event {
	e.Command = clonePtr(e.Command)
	e.Process = clonePtr(e.Process)
	e.Pane = clonePtr(e.Pane)
	e.File = clonePtr(e.File)
	e.Env = clonePtr(e.Env)
	e.Reference = clonePtr(e.Reference)
	return e
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

// ErrPayloadMismatch is returned by Validate when the payload does not
// match the event kind.
var ErrPayloadMismatch = errors.New("event payload does not match kind")

func stamp(kind Kind, source string) Event {
	return Event{Timestamp: time.Now(), Kind: kind, Source: source}
}

// NewCommand builds a command event.
func NewCommand(source string, c Command) Event {
	e := stamp(KindCommand, source)
	e.Command = &c
	return e
}

// NewProcessStart builds a process_start event.
func NewProcessStart(source string, p Process) Event {
	e := stamp(KindProcessStart, source)
	e.Process = &p
	return e
}

// NewProcessStop builds a process_stop event.
func NewProcessStop(source string, p Process) Event {
	e := stamp(KindProcessStop, source)
	e.Process = &p
	return e
}

// NewPane builds a tmux_content event.
func NewPane(source string, p Pane) Event {
	e := stamp(KindTmuxContent, source)
	e.Pane = &p
	return e
}

// NewFile builds a file_change event.
func NewFile(source string, f File) Event {
	e := stamp(KindFileChange, source)
	e.File = &f
	return e
}

// NewEnv builds an env_change event.
func NewEnv(source string, v Env) Event {
	e := stamp(KindEnvChange, source)
	e.Env = &v
	return e
}

// NewReference builds a file_reference_content event.
func NewReference(source string, r Reference) Event {
	e := stamp(KindFileReference, source)
	e.Reference = &r
	return e
}

// payload returns the set payload pointer for e's kind, or nil.
func (e Event) payload() any {
	switch e.Kind {
	case KindCommand:
		if e.Command != nil {
			return e.Command
		}
	case KindProcessStart, KindProcessStop:
		if e.Process != nil {
			return e.Process
		}
	case KindTmuxContent:
		if e.Pane != nil {
			return e.Pane
		}
	case KindFileChange:
		if e.File != nil {
			return e.File
		}
	case KindEnvChange:
		if e.Env != nil {
			return e.Env
		}
	case KindFileReference:
		if e.Reference != nil {
			return e.Reference
		}
	}
	return nil
}

// Validate checks that the kind is known and that exactly the matching
// payload is set.
func (e Event) Validate() error {
	if !e.Kind.Valid() {
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if e.payload() == nil {
		return fmt.Errorf("%s: %w", e.Kind, ErrPayloadMismatch)
	}
	set := 0
	for _, p := range []bool{e.Command != nil, e.Process != nil, e.Pane != nil, e.File != nil, e.Env != nil, e.Reference != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%s: %d payloads set: %w", e.Kind, set, ErrPayloadMismatch)
	}
	return nil
}

// Summary is a one-line human description used by the CLI and viewer.
func (e Event) Summary() string {
	switch e.Kind {
	case KindCommand:
		return e.Command.Text
	case KindProcessStart, KindProcessStop:
		return fmt.Sprintf("%s (pid %d)", e.Process.Name, e.Process.PID)
	case KindTmuxContent:
		return fmt.Sprintf("pane %s (%d bytes)", e.Pane.PaneID, len(e.Pane.Text))
	case KindFileChange:
		return fmt.Sprintf("%s %s", e.File.Op, e.File.Path)
	case KindEnvChange:
		return fmt.Sprintf("%s=%s", e.Env.Key, e.Env.Value)
	case KindFileReference:
		return e.Reference.Path
	}
	return string(e.Kind)
}

// wire is the serialized shape shared by every export format.
type wire struct {
	Sequence  uint64          `json:"sequence"`
	Timestamp time.Time       `json:"timestamp"`
	Kind      Kind            `json:"kind"`
	Source    string          `json:"source"`
	Payload   json.RawMessage `json:"payload"`
}

// MarshalJSON encodes e as {sequence, timestamp, kind, source, payload}.
func (e Event) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(e.payload())
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", e.Kind, err)
	}
	return json.Marshal(wire{
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp,
		Kind:      e.Kind,
		Source:    e.Source,
		Payload:   payload,
	})
}

// UnmarshalJSON decodes the wire shape, choosing the payload type by kind.
func (e *Event) UnmarshalJSON(data []byte) error {
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Event{Sequence: w.Sequence, Timestamp: w.Timestamp, Kind: w.Kind, Source: w.Source}
	if err := out.decodePayload(func(v any) error { return json.Unmarshal(w.Payload, v) }); err != nil {
		return err
	}
	*e = out
	return nil
}

// decodePayload allocates the payload matching e.Kind and fills it with
// decode. Codecs other than JSON reuse it with their own decode function.
func (e *Event) decodePayload(decode func(v any) error) error {
	var target any
	switch e.Kind {
	case KindCommand:
		e.Command = &Command{}
		target = e.Command
	case KindProcessStart, KindProcessStop:
		e.Process = &Process{}
		target = e.Process
	case KindTmuxContent:
		e.Pane = &Pane{}
		target = e.Pane
	case KindFileChange:
		e.File = &File{}
		target = e.File
	case KindEnvChange:
		e.Env = &Env{}
		target = e.Env
	case KindFileReference:
		e.Reference = &Reference{}
		target = e.Reference
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if err := decode(target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Kind, err)
	}
	return nil
}

// Decode rebuilds an Event from its envelope fields and a payload decoder.
func Decode(seq uint64, ts time.Time, kind Kind, source string, decode func(v any) error) (Event, error) {
	e := Event{Sequence: seq, Timestamp: ts, Kind: kind, Source: source}
	if err := e.decodePayload(decode); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Payload exposes the payload for codecs that serialize it themselves.
func (e Event) Payload() any {
	return e.payload()
}
