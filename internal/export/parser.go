package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Parser deserializes an export back into a Document.
type Parser interface {
	Parse(data []byte) (*Document, error)
}

// JSONParser parses a JSON-encoded Document.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON export: %w", err)
	}
	return &doc, nil
}

// MarkdownParser parses a Markdown export by extracting the embedded
// base64 JSON payload from the sentinel comments.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Document, error) {
	content := string(data)

	if !strings.Contains(content, markdownSentinel) {
		return nil, fmt.Errorf("not a valid termctx export: missing version sentinel")
	}

	start := strings.Index(content, markdownDataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a valid termctx export: missing data payload")
	}
	start += len(markdownDataPrefix)
	end := strings.Index(content[start:], markdownDataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a valid termctx export: malformed data payload")
	}
	encoded := content[start : start+end]

	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("not a valid termctx export: corrupted base64 payload: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("not a valid termctx export: failed to parse embedded JSON: %w", err)
	}
	return &doc, nil
}

// Parse reads the export at path, choosing the parser by file extension.
func Parse(path string) (*Document, error) {
	format, err := FormatForPath(path)
	if err != nil {
		return nil, err
	}
	if format == FormatSQLite {
		return ReadSQLite(path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Parser
	switch format {
	case FormatMarkdown:
		p = &MarkdownParser{}
	case FormatCBOR:
		p = &CBORParser{}
	default:
		p = &JSONParser{}
	}
	doc, err := p.Parse(data)
	if err != nil {
		return nil, err
	}
	if doc.Version > Version {
		return nil, fmt.Errorf("export version %d is newer than supported version %d", doc.Version, Version)
	}
	return doc, nil
}
