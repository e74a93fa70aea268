package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fakeyudi/termctx/internal/session"
)

// Options tunes encoding. Compression applies to CBOR only.
type Options struct {
	Compression Compression
}

// RendererFor returns the renderer for a byte-oriented format. SQLite is a
// file-backed database and has no renderer.
func RendererFor(f Format, opts Options) (Renderer, error) {
	switch f {
	case FormatJSON:
		return &JSONRenderer{}, nil
	case FormatMarkdown:
		return &MarkdownRenderer{}, nil
	case FormatCBOR:
		return &CBORRenderer{Compression: opts.Compression}, nil
	case FormatSQLite:
		return nil, fmt.Errorf("sqlite exports must be written to a file")
	}
	return nil, fmt.Errorf("unknown export format %q", f)
}

// Encode renders doc to w.
func Encode(w io.Writer, doc *Document, f Format, opts Options) error {
	r, err := RendererFor(f, opts)
	if err != nil {
		return err
	}
	data, err := r.Render(doc)
	if err != nil {
		return fmt.Errorf("render %s export: %w", f, err)
	}
	_, err = w.Write(data)
	return err
}

// WriteFile writes doc to path atomically.
func WriteFile(path string, doc *Document, f Format, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if f == FormatSQLite {
		return WriteSQLite(path, doc)
	}
	r, err := RendererFor(f, opts)
	if err != nil {
		return err
	}
	data, err := r.Render(doc)
	if err != nil {
		return fmt.Errorf("render %s export: %w", f, err)
	}
	return session.WriteFileAtomic(path, data, 0o644)
}
