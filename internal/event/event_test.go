package event

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestValidate(t *testing.T) {
	t.Run("matching payload", func(t *testing.T) {
		e := NewCommand("history", Command{Text: "ls"})
		assert.NoError(t, e.Validate())
	})

	t.Run("missing payload", func(t *testing.T) {
		e := Event{Kind: KindFileChange, Timestamp: time.Now()}
		assert.True(t, errors.Is(e.Validate(), ErrPayloadMismatch))
	})

	t.Run("wrong payload", func(t *testing.T) {
		e := NewCommand("history", Command{Text: "ls"})
		e.Kind = KindProcessStart
		assert.True(t, errors.Is(e.Validate(), ErrPayloadMismatch))
	})

	t.Run("two payloads", func(t *testing.T) {
		e := NewCommand("history", Command{Text: "ls"})
		e.File = &File{Path: "/tmp/x", Op: OpCreate}
		assert.True(t, errors.Is(e.Validate(), ErrPayloadMismatch))
	})

	t.Run("unknown kind", func(t *testing.T) {
		e := Event{Kind: "bogus"}
		assert.Error(t, e.Validate())
	})
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("tmux_content")
	require.NoError(t, err)
	assert.Equal(t, KindTmuxContent, k)

	_, err = ParseKind("screen")
	assert.Error(t, err)
}

func TestJSONWireShape(t *testing.T) {
	e := NewFile("files", File{Path: "/src/main.go", Op: OpModify})
	e.Sequence = 42

	data, err := json.Marshal(e)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"sequence", "timestamp", "kind", "source", "payload"} {
		assert.Contains(t, raw, key)
	}
	assert.JSONEq(t, `{"path":"/src/main.go","op":"modify"}`, string(raw["payload"]))
}

func TestCommandWithoutTimestampOmitsRecordedAt(t *testing.T) {
	e := NewCommand("history", Command{Text: "make"})
	data, err := json.Marshal(e.Command)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "recorded_at")
}

// Feature: termctx, Property 1: Event JSON encoding preserves every field
func TestJSONPreservesEvents(t *testing.T) {
	gen := rapid.Custom(func(t *rapid.T) Event {
		text := rapid.StringMatching(`[a-z ./-]{0,24}`).Draw(t, "text")
		var e Event
		switch rapid.IntRange(0, 5).Draw(t, "kind") {
		case 0:
			e = NewCommand("history", Command{Text: text, Shell: "zsh", RecordedAt: time.Unix(rapid.Int64Range(1, 2_000_000_000).Draw(t, "epoch"), 0)})
		case 1:
			e = NewProcessStart("process", Process{PID: rapid.Int32Range(1, 99999).Draw(t, "pid"), Name: text})
		case 2:
			e = NewProcessStop("process", Process{PID: rapid.Int32Range(1, 99999).Draw(t, "pid"), Name: text})
		case 3:
			e = NewPane("tmux", Pane{PaneID: "%1", Text: text, Digest: "abc"})
		case 4:
			e = NewEnv("env", Env{Key: "cwd", Value: text})
		default:
			e = NewReference("resolver", Reference{Token: "@" + text, Path: "/" + text, Content: text, Size: int64(len(text))})
		}
		e.Sequence = rapid.Uint64Range(1, 1<<40).Draw(t, "seq")
		return e
	})

	rapid.Check(t, func(t *rapid.T) {
		e := gen.Draw(t, "event")
		data, err := json.Marshal(e)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var got Event
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.Sequence != e.Sequence || got.Kind != e.Kind || got.Source != e.Source {
			t.Fatalf("envelope mismatch: got %+v, want %+v", got, e)
		}
		if !got.Timestamp.Equal(e.Timestamp) {
			t.Fatalf("timestamp mismatch: got %v, want %v", got.Timestamp, e.Timestamp)
		}
		if got.Summary() != e.Summary() {
			t.Fatalf("payload mismatch: got %q, want %q", got.Summary(), e.Summary())
		}
	})
}
