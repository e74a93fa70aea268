package resolver

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"
)

// tokenPattern finds @path tokens that start a word, so e-mail addresses
// are not mistaken for references.
var tokenPattern = regexp.MustCompile(`(?:^|[\s(\[{"'` + "`" + `])@([^\s@]+)`)

// ExtractTokens returns the distinct @path tokens in message, in order of
// first appearance, with trailing punctuation removed.
func ExtractTokens(message string) []string {
	var tokens []string
	seen := make(map[string]bool)
	for _, m := range tokenPattern.FindAllStringSubmatch(message, -1) {
		path := strings.TrimRight(m[1], ".,;:!?)]}'\"`")
		if path == "" {
			continue
		}
		tok := "@" + path
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

// Render formats a reference as plain text suitable for a prompt.
func Render(ref Reference) string {
	var sb strings.Builder
	if ref.Err != nil {
		fmt.Fprintf(&sb, "%s: %v\n", ref.Token, ref.Err)
		return sb.String()
	}

	switch ref.Kind {
	case KindDirectory:
		fmt.Fprintf(&sb, "%s → %s (directory, %d entries)\n", ref.Token, ref.Path, len(ref.Entries))
		sb.WriteString(renderListing(ref.Entries))

	default:
		fmt.Fprintf(&sb, "%s → %s (%s)\n", ref.Token, ref.Path, humanize.Bytes(uint64(ref.Size)))
		if ref.Encoding == EncodingBase64 {
			fmt.Fprintf(&sb, "[binary content, base64: %s]\n%s\n", ref.MIME, ref.Content)
			break
		}
		if ref.Binary() {
			fmt.Fprintf(&sb, "[binary content omitted: %s]\n", ref.MIME)
			break
		}
		sb.WriteString(ref.Content)
		if ref.Content != "" && !strings.HasSuffix(ref.Content, "\n") {
			sb.WriteByte('\n')
		}
		if ref.Truncated {
			fmt.Fprintf(&sb, "[truncated: showing %s of %s]\n",
				humanize.Bytes(uint64(len(ref.Content))), humanize.Bytes(uint64(ref.Size)))
		}
	}
	return sb.String()
}

func renderListing(entries []Entry) string {
	var sb strings.Builder
	width := 0
	for _, e := range entries {
		width = max(width, len(displayName(e)))
	}
	for _, e := range entries {
		name := displayName(e)
		switch e.Type {
		case "file":
			fmt.Fprintf(&sb, "  %-*s  %s\n", width, name, humanize.Bytes(uint64(e.Size)))
		default:
			fmt.Fprintf(&sb, "  %-*s  %s\n", width, name, e.Type)
		}
	}
	return sb.String()
}

func displayName(e Entry) string {
	if e.Type == "dir" {
		return e.Name + "/"
	}
	return e.Name
}
