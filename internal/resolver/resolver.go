// Package resolver turns @path tokens into file contents or directory
// listings under a size ceiling and an allow/deny policy.
package resolver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fakeyudi/termctx/internal/event"
)

const (
	DefaultMaxBytes = 256 << 10
	DefaultTimeout  = 2 * time.Second

	sniffLen = 512
)

// DefaultDeny keeps credentials out of resolved context. Patterns are matched
// against the base name, each path component, and the full path.
var DefaultDeny = []string{
	".env", ".env.*", "*.pem", "*.key", "*.p12", "id_rsa*", "id_ecdsa*", "id_ed25519*",
	".ssh", ".gnupg", ".aws", ".netrc", ".pgpass",
}

var (
	ErrNotFound     = errors.New("not found")
	ErrAccessDenied = errors.New("access denied")
)

// ResolveError records why a single token could not be resolved.
type ResolveError struct {
	Token string
	Path  string
	Err   error
}

func (e *ResolveError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("resolve %s: %v", e.Token, e.Err)
	}
	return fmt.Sprintf("resolve %s (%s): %v", e.Token, e.Path, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

type Kind string

const (
	KindFile      Kind = "file"
	KindDirectory Kind = "directory"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// Reference is the outcome of resolving one token. Err is nil on success.
type Reference struct {
	Token string `json:"token"`
	Path  string `json:"path,omitempty"`
	Kind  Kind   `json:"kind,omitempty"`
	// Content is the file's bytes as text. Non-text files are withheld
	// (Content empty, MIME set) unless Options.Base64Binary is set, in which
	// case Content is their base64 encoding and Encoding is "base64".
	// Digest always covers the bytes read.
	Content   string  `json:"content,omitempty"`
	Encoding  string  `json:"encoding,omitempty"`
	Entries   []Entry `json:"entries,omitempty"`
	Truncated bool    `json:"truncated,omitempty"`
	Size      int64   `json:"size"`
	MIME      string  `json:"mime,omitempty"`
	Digest    string  `json:"digest,omitempty"`
	Err       error   `json:"-"`
}

// EncodingBase64 marks Content holding base64-encoded bytes.
const EncodingBase64 = "base64"

// Binary reports whether the file is non-text, whether its content was
// withheld or encoded.
func (r Reference) Binary() bool {
	if r.Err != nil || r.Kind != KindFile {
		return false
	}
	return r.Encoding == EncodingBase64 || (r.Content == "" && r.Size > 0 && !isTextMIME(r.MIME))
}

// Bytes returns the file content, decoding it if it is encoded.
func (r Reference) Bytes() ([]byte, error) {
	if r.Encoding == EncodingBase64 {
		return base64.StdEncoding.DecodeString(r.Content)
	}
	return []byte(r.Content), nil
}

// Event converts a successful reference into a file_reference_content event.
// Directory listings are stored in their rendered form.
func (r Reference) Event() event.Event {
	content := r.Content
	if r.Kind == KindDirectory {
		content = renderListing(r.Entries)
	}
	return event.NewReference("resolver", event.Reference{
		Token:     r.Token,
		Path:      r.Path,
		IsDir:     r.Kind == KindDirectory,
		Content:   content,
		Encoding:  r.Encoding,
		Truncated: r.Truncated,
		Size:      r.Size,
		Digest:    r.Digest,
	})
}

// Options configures a Resolver. Zero values take the package defaults.
type Options struct {
	// WorkDir anchors relative tokens. Defaults to the process working directory.
	WorkDir  string
	MaxBytes int64
	Timeout  time.Duration
	// Allow lists path prefixes that may be read; empty allows everything.
	Allow []string
	// Deny adds patterns to DefaultDeny.
	Deny []string
	// Base64Binary inlines non-text files base64-encoded.
	Base64Binary bool
	Logger       *zap.Logger
}

// Resolver resolves tokens. It is safe for concurrent use.
type Resolver struct {
	workDir  string
	maxBytes int64
	timeout  time.Duration
	allow    []string
	deny     []string
	base64   bool
	logger   *zap.Logger
}

// New returns a Resolver for opts.
func New(opts Options) *Resolver {
	r := &Resolver{
		workDir:  opts.WorkDir,
		maxBytes: opts.MaxBytes,
		timeout:  opts.Timeout,
		deny:     append(append([]string(nil), DefaultDeny...), opts.Deny...),
		base64:   opts.Base64Binary,
		logger:   opts.Logger,
	}
	if r.workDir == "" {
		r.workDir, _ = os.Getwd()
	}
	if r.maxBytes <= 0 {
		r.maxBytes = DefaultMaxBytes
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	r.logger = r.logger.Named("resolver")
	for _, prefix := range opts.Allow {
		if p, err := r.absolute(prefix); err == nil {
			if real, err := filepath.EvalSymlinks(p); err == nil {
				p = real
			}
			r.allow = append(r.allow, p)
		}
	}
	return r
}

// Resolve resolves every token independently. The result has one Reference
// per token, in order; failures are carried in Reference.Err.
func (r *Resolver) Resolve(ctx context.Context, tokens []string) []Reference {
	refs := make([]Reference, 0, len(tokens))
	for _, tok := range tokens {
		refs = append(refs, r.ResolveOne(ctx, tok))
	}
	return refs
}

// ResolveOne resolves a single token under the resolver's timeout.
func (r *Resolver) ResolveOne(ctx context.Context, token string) Reference {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan Reference, 1)
	go func() { done <- r.resolve(token) }()

	select {
	case ref := <-done:
		if ref.Err != nil {
			r.logger.Debug("reference not resolved", zap.String("token", token), zap.Error(ref.Err))
		}
		return ref
	case <-ctx.Done():
		// The read goroutine finishes on its own; its result is dropped.
		path, _ := r.absolute(stripToken(token))
		r.logger.Warn("reference timed out", zap.String("token", token), zap.Duration("timeout", r.timeout))
		return Reference{Token: token, Path: path, Err: &ResolveError{Token: token, Path: path, Err: ctx.Err()}}
	}
}

func stripToken(token string) string {
	return strings.TrimPrefix(strings.TrimSpace(token), "@")
}

// absolute expands ~ and anchors relative paths at the working directory.
func (r *Resolver) absolute(raw string) (string, error) {
	if raw == "~" || strings.HasPrefix(raw, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		raw = filepath.Join(home, strings.TrimPrefix(raw, "~"))
	}
	if !filepath.IsAbs(raw) {
		raw = filepath.Join(r.workDir, raw)
	}
	return filepath.Clean(raw), nil
}

func (r *Resolver) resolve(token string) Reference {
	ref := Reference{Token: token}
	fail := func(err error) Reference {
		ref.Err = &ResolveError{Token: token, Path: ref.Path, Err: err}
		return ref
	}

	raw := stripToken(token)
	if raw == "" {
		return fail(ErrNotFound)
	}
	path, err := r.absolute(raw)
	if err != nil {
		return fail(err)
	}
	ref.Path = path

	// Policy applies to the literal path and to where it really points.
	if r.denied(path) {
		return fail(ErrAccessDenied)
	}
	real, err := filepath.EvalSymlinks(path)
	if err != nil {
		return fail(classify(err))
	}
	ref.Path = real
	if r.denied(real) || !r.allowed(real) {
		return fail(ErrAccessDenied)
	}

	info, err := os.Stat(real)
	if err != nil {
		return fail(classify(err))
	}
	mode := uint32(unix.R_OK)
	if info.IsDir() {
		mode |= unix.X_OK
	}
	if err := unix.Access(real, mode); err != nil {
		return fail(fmt.Errorf("%w: %v", ErrAccessDenied, err))
	}

	if info.IsDir() {
		ref.Kind = KindDirectory
		entries, err := r.list(real)
		if err != nil {
			return fail(classify(err))
		}
		ref.Entries = entries
		ref.Size = int64(len(entries))
		return ref
	}

	ref.Kind = KindFile
	if err := r.read(real, info, &ref); err != nil {
		return fail(classify(err))
	}
	return ref
}

// read fills ref with up to maxBytes of the file. Size is the size on disk,
// or the number of bytes seen when the file system reports none.
func (r *Resolver) read(path string, info fs.FileInfo, ref *Reference) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, r.maxBytes+1))
	if err != nil {
		return err
	}
	ref.Size = info.Size()
	if int64(len(data)) > r.maxBytes {
		data = data[:r.maxBytes]
		ref.Truncated = true
	}
	if ref.Size < int64(len(data)) {
		ref.Size = int64(len(data))
	}

	sniff := data[:min(len(data), sniffLen)]
	ref.MIME = http.DetectContentType(sniff)
	sum := blake3.Sum256(data)
	ref.Digest = fmt.Sprintf("%x", sum[:])
	switch {
	case isTextMIME(ref.MIME) || looksLikeText(sniff):
		ref.Content = string(data)
	case r.base64:
		ref.Content = base64.StdEncoding.EncodeToString(data)
		ref.Encoding = EncodingBase64
	}
	return nil
}

func (r *Resolver) list(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		if r.denied(filepath.Join(dir, de.Name())) {
			continue
		}
		e := Entry{Name: de.Name(), Type: entryType(de.Type())}
		if info, err := de.Info(); err == nil && e.Type == "file" {
			e.Size = info.Size()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func entryType(m fs.FileMode) string {
	switch {
	case m.IsDir():
		return "dir"
	case m&fs.ModeSymlink != 0:
		return "symlink"
	case m.IsRegular():
		return "file"
	}
	return "other"
}

func (r *Resolver) denied(path string) bool {
	base := filepath.Base(path)
	parts := strings.Split(filepath.ToSlash(path), "/")
	for _, pattern := range r.deny {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, path); ok {
			return true
		}
		for _, part := range parts {
			if ok, _ := filepath.Match(pattern, part); ok && part != "" {
				return true
			}
		}
	}
	return false
}

func (r *Resolver) allowed(path string) bool {
	if len(r.allow) == 0 {
		return true
	}
	for _, prefix := range r.allow {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func classify(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrAccessDenied, err)
	}
	return err
}

func isTextMIME(mime string) bool {
	return strings.HasPrefix(mime, "text/") ||
		strings.HasPrefix(mime, "application/json") ||
		strings.HasPrefix(mime, "application/xml")
}

// looksLikeText accepts NUL-free UTF-8, allowing a rune cut off by the
// size ceiling at the end.
func looksLikeText(b []byte) bool {
	if bytes.IndexByte(b, 0) >= 0 {
		return false
	}
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		if utf8.Valid(b) {
			return true
		}
		b = b[:len(b)-1]
	}
	return utf8.Valid(b)
}
