package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestResolvePrintsReferences(t *testing.T) {
	tmp := isolate(t)
	if err := os.WriteFile(filepath.Join(tmp, "notes.txt"), []byte("remember the milk\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(tmp, "src"), 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	out, err := executeCommand(rootCmd, "resolve", "-C", tmp, "compare @notes.txt with @src and @missing.go")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for _, want := range []string{"@notes.txt → ", "remember the milk", "@src → ", "(directory, 0 entries)", "@missing.go: "} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestResolveJSON(t *testing.T) {
	tmp := isolate(t)
	if err := os.WriteFile(filepath.Join(tmp, "a.go"), []byte("package a\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := executeCommand(rootCmd, "resolve", "--json", "--dir", tmp, "@a.go", "@nope")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var refs []struct {
		Token   string `json:"token"`
		Kind    string `json:"kind"`
		Content string `json:"content"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal([]byte(out), &refs); err != nil {
		t.Fatalf("Unmarshal: %v\n%s", err, out)
	}
	if len(refs) != 2 {
		t.Fatalf("expected 2 references, got %d", len(refs))
	}
	if refs[0].Token != "@a.go" || refs[0].Kind != "file" || refs[0].Content != "package a\n" || refs[0].Error != "" {
		t.Errorf("unexpected first reference %+v", refs[0])
	}
	if refs[1].Token != "@nope" || refs[1].Error == "" {
		t.Errorf("expected an error for the missing path, got %+v", refs[1])
	}
}

func TestResolveWithoutTokens(t *testing.T) {
	isolate(t)

	_, err := executeCommand(rootCmd, "resolve", "nothing to see here")
	if err == nil || !strings.Contains(err.Error(), "no @path references") {
		t.Fatalf("expected a no references error, got %v", err)
	}
}

func TestResolveBase64Binary(t *testing.T) {
	tmp := isolate(t)
	if err := os.WriteFile(filepath.Join(tmp, "blob.bin"), []byte{0x00, 0x01, 0x02, 0xff}, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	out, err := executeCommand(rootCmd, "resolve", "--json", "--base64", "-C", tmp, "@blob.bin")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var refs []struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.Unmarshal([]byte(out), &refs); err != nil {
		t.Fatalf("Unmarshal: %v\n%s", err, out)
	}
	if len(refs) != 1 || refs[0].Encoding != "base64" || refs[0].Content != "AAEC/w==" {
		t.Errorf("expected base64 content, got %+v", refs)
	}
}
