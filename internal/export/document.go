// Package export writes and reads complete session exports: the session
// record, its summary, and the retained event timeline.
package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fakeyudi/termctx/internal/analytics"
	"github.com/fakeyudi/termctx/internal/event"
	"github.com/fakeyudi/termctx/internal/session"
)

// Version is the export schema version written into every document.
const Version = 1

// Document is the complete, renderable representation of a session.
type Document struct {
	Version int               `json:"version"`
	Author  string            `json:"author,omitempty"`
	Session session.Session   `json:"session"`
	Summary analytics.Summary `json:"summary"`
	Events  []event.Event     `json:"events"`
}

// NewDocument assembles a Document at the current schema version.
func NewDocument(sess session.Session, summary analytics.Summary, events []event.Event) *Document {
	if events == nil {
		events = []event.Event{}
	}
	return &Document{Version: Version, Session: sess, Summary: summary, Events: events}
}

// Format names an export encoding.
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatCBOR     Format = "cbor"
	FormatSQLite   Format = "sqlite"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatMarkdown, FormatCBOR, FormatSQLite}

// ParseFormat accepts a format name or a common alias ("md", "db").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "cbor":
		return FormatCBOR, nil
	case "sqlite", "db":
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("unknown export format %q (supported: json, markdown, cbor, sqlite)", s)
}

// Ext returns the file extension for f, with the leading dot.
func (f Format) Ext() string {
	switch f {
	case FormatMarkdown:
		return ".md"
	case FormatCBOR:
		return ".cbor"
	case FormatSQLite:
		return ".db"
	}
	return ".json"
}

// FormatForPath infers the format from a file name's extension.
func FormatForPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".md", ".markdown":
		return FormatMarkdown, nil
	case ".cbor":
		return FormatCBOR, nil
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite, nil
	}
	return "", fmt.Errorf("cannot infer export format from %q", filepath.Base(path))
}

// Filename returns the default export path in dir for a session stopped at.
func Filename(dir string, at time.Time, f Format) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "termctx-"+at.Format("20060102-150405")+f.Ext())
}
