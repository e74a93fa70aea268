package resolver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
	"pgregory.net/rapid"

	"github.com/fakeyudi/termctx/internal/event"
)

func workDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func TestResolveFileRoundTrip(t *testing.T) {
	dir := workDir(t)
	content := "package main\n\nfunc main() {}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte(content), 0o644))

	r := New(Options{WorkDir: dir})
	ref := r.ResolveOne(context.Background(), "@main.go")
	require.NoError(t, ref.Err)
	assert.Equal(t, KindFile, ref.Kind)
	assert.Equal(t, filepath.Join(dir, "main.go"), ref.Path)
	assert.Equal(t, content, ref.Content)
	assert.False(t, ref.Truncated)
	assert.Equal(t, int64(len(content)), ref.Size)
	assert.Len(t, ref.Digest, 64)
	assert.True(t, strings.HasPrefix(ref.MIME, "text/plain"))
}

func TestResolveTruncatesOverCeiling(t *testing.T) {
	dir := workDir(t)
	content := strings.Repeat("0123456789", 10)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.txt"), []byte(content), 0o644))

	r := New(Options{WorkDir: dir, MaxBytes: 16})
	ref := r.ResolveOne(context.Background(), "big.txt")
	require.NoError(t, ref.Err)
	assert.True(t, ref.Truncated)
	assert.Equal(t, content[:16], ref.Content)
	assert.Equal(t, int64(100), ref.Size)
	assert.Contains(t, Render(ref), "[truncated: showing 16 B of 100 B]")
}

// Feature: termctx, Property 7: Resolved content equals the file, or its prefix when over the ceiling
func TestResolveContentProperty(t *testing.T) {
	dir := workDir(t)
	rapid.Check(t, func(rt *rapid.T) {
		content := rapid.StringMatching(`[a-zA-Z0-9 \n]{0,300}`).Draw(rt, "content")
		limit := rapid.Int64Range(1, 400).Draw(rt, "limit")
		path := filepath.Join(dir, "f.txt")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			rt.Fatal(err)
		}

		ref := New(Options{WorkDir: dir, MaxBytes: limit}).ResolveOne(context.Background(), "@f.txt")
		if ref.Err != nil {
			rt.Fatalf("resolve: %v", ref.Err)
		}
		if int64(len(content)) <= limit {
			if ref.Truncated || ref.Content != content {
				rt.Fatalf("want full content %q, got %q (truncated=%v)", content, ref.Content, ref.Truncated)
			}
			return
		}
		if !ref.Truncated || ref.Content != content[:limit] {
			rt.Fatalf("want prefix %q, got %q (truncated=%v)", content[:limit], ref.Content, ref.Truncated)
		}
	})
}

func TestResolvePartialFailure(t *testing.T) {
	dir := workDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "exists.txt"), []byte("hello\n"), 0o644))

	refs := New(Options{WorkDir: dir}).Resolve(context.Background(), []string{"@exists.txt", "@missing.txt"})
	require.Len(t, refs, 2)

	assert.NoError(t, refs[0].Err)
	assert.Equal(t, "hello\n", refs[0].Content)

	require.Error(t, refs[1].Err)
	assert.True(t, errors.Is(refs[1].Err, ErrNotFound))
	var re *ResolveError
	require.True(t, errors.As(refs[1].Err, &re))
	assert.Equal(t, "@missing.txt", re.Token)
	assert.Equal(t, filepath.Join(dir, "missing.txt"), re.Path)
}

func TestResolveDirectoryListing(t *testing.T) {
	dir := workDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("abc"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TOKEN=x"), 0o644))

	ref := New(Options{WorkDir: dir}).ResolveOne(context.Background(), "@.")
	require.NoError(t, ref.Err)
	assert.Equal(t, KindDirectory, ref.Kind)
	assert.Equal(t, []Entry{
		{Name: "b.txt", Type: "file", Size: 3},
		{Name: "pkg", Type: "dir"},
	}, ref.Entries)

	out := Render(ref)
	assert.Contains(t, out, "(directory, 2 entries)")
	assert.Contains(t, out, "pkg/")
	assert.NotContains(t, out, ".env")

	ev := ref.Event()
	require.NoError(t, ev.Validate())
	assert.Equal(t, event.KindFileReference, ev.Kind)
	assert.True(t, ev.Reference.IsDir)
	assert.Contains(t, ev.Reference.Content, "b.txt")
}

func TestResolveAccessPolicy(t *testing.T) {
	dir := workDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET=1"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(dir, ".env"), filepath.Join(dir, "notes.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "deploy.cfg"), []byte("x"), 0o644))
	other := workDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(other, "outside.txt"), []byte("x"), 0o644))

	r := New(Options{WorkDir: dir, Allow: []string{dir}, Deny: []string{"*.cfg"}})
	for _, tok := range []string{"@.env", "@notes.txt", "@deploy.cfg", "@" + filepath.Join(other, "outside.txt")} {
		ref := r.ResolveOne(context.Background(), tok)
		assert.True(t, errors.Is(ref.Err, ErrAccessDenied), "%s: %v", tok, ref.Err)
		assert.Empty(t, ref.Content, tok)
	}
}

func TestResolveOSPermissionDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses file permissions")
	}
	dir := workDir(t)
	path := filepath.Join(dir, "locked.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o000))

	ref := New(Options{WorkDir: dir}).ResolveOne(context.Background(), "@locked.txt")
	assert.True(t, errors.Is(ref.Err, ErrAccessDenied), "%v", ref.Err)
}

func TestResolveBinaryNotInlined(t *testing.T) {
	dir := workDir(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), png, 0o644))

	ref := New(Options{WorkDir: dir}).ResolveOne(context.Background(), "@logo.png")
	require.NoError(t, ref.Err)
	assert.Equal(t, "image/png", ref.MIME)
	assert.Empty(t, ref.Content)
	assert.True(t, ref.Binary())
	assert.Contains(t, Render(ref), "[binary content omitted: image/png]")
}

func TestResolveBinaryBase64(t *testing.T) {
	dir := workDir(t)
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "logo.png"), png, 0o644))

	ref := New(Options{WorkDir: dir, Base64Binary: true}).ResolveOne(context.Background(), "@logo.png")
	require.NoError(t, ref.Err)
	assert.Equal(t, EncodingBase64, ref.Encoding)
	assert.True(t, ref.Binary())
	got, err := ref.Bytes()
	require.NoError(t, err)
	assert.Equal(t, png, got)
	assert.Contains(t, Render(ref), "[binary content, base64: image/png]")

	ev := ref.Event()
	assert.Equal(t, EncodingBase64, ev.Reference.Encoding)
	assert.Equal(t, ref.Content, ev.Reference.Content)

	// Text is never encoded.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("plain\n"), 0o644))
	txt := New(Options{WorkDir: dir, Base64Binary: true}).ResolveOne(context.Background(), "@a.txt")
	require.NoError(t, txt.Err)
	assert.Empty(t, txt.Encoding)
	assert.Equal(t, "plain\n", txt.Content)
}

func TestResolveHomeExpansion(t *testing.T) {
	home := workDir(t)
	t.Setenv("HOME", home)
	require.NoError(t, os.WriteFile(filepath.Join(home, "todo.md"), []byte("- ship\n"), 0o644))

	ref := New(Options{WorkDir: "/"}).ResolveOne(context.Background(), "@~/todo.md")
	require.NoError(t, ref.Err)
	assert.Equal(t, "- ship\n", ref.Content)
}

func TestResolveSlowFileTimesOut(t *testing.T) {
	dir := workDir(t)
	fifo := filepath.Join(dir, "pipe")
	require.NoError(t, unix.Mkfifo(fifo, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ok.txt"), []byte("fine"), 0o644))
	t.Cleanup(func() {
		// Unblock the abandoned reader.
		if f, err := os.OpenFile(fifo, os.O_WRONLY|syscall.O_NONBLOCK, 0); err == nil {
			f.Close()
		}
	})

	r := New(Options{WorkDir: dir, Timeout: 50 * time.Millisecond})
	start := time.Now()
	refs := r.Resolve(context.Background(), []string{"@pipe", "@ok.txt"})
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, refs, 2)
	assert.True(t, errors.Is(refs[0].Err, context.DeadlineExceeded), "%v", refs[0].Err)
	assert.NoError(t, refs[1].Err)
	assert.Equal(t, "fine", refs[1].Content)
}

func TestExtractTokens(t *testing.T) {
	msg := "what is in @main.go, and @docs/? mail a@b.com or see (@main.go) and @./x.txt."
	assert.Equal(t, []string{"@main.go", "@docs/", "@./x.txt"}, ExtractTokens(msg))
	assert.Empty(t, ExtractTokens("no references here"))
	assert.Equal(t, []string{"@/etc/hosts"}, ExtractTokens("@/etc/hosts"))
}
