package analytics

import (
	"path/filepath"
	"strings"
)

var extensionLanguages = map[string]string{
	".go": "Go", ".py": "Python", ".pyi": "Python", ".ipynb": "Python",
	".js": "JavaScript", ".mjs": "JavaScript", ".cjs": "JavaScript", ".jsx": "JavaScript",
	".ts": "TypeScript", ".tsx": "TypeScript",
	".rs": "Rust", ".rb": "Ruby", ".java": "Java", ".kt": "Kotlin", ".kts": "Kotlin",
	".c": "C", ".h": "C", ".cc": "C++", ".cpp": "C++", ".cxx": "C++", ".hpp": "C++",
	".cs": "C#", ".swift": "Swift", ".php": "PHP", ".lua": "Lua", ".zig": "Zig",
	".ex": "Elixir", ".exs": "Elixir", ".erl": "Erlang", ".hs": "Haskell", ".scala": "Scala",
	".sh": "Shell", ".bash": "Shell", ".zsh": "Shell", ".fish": "Shell",
	".sql": "SQL", ".tf": "Terraform", ".proto": "Protobuf", ".cue": "CUE",
	".html": "HTML", ".css": "CSS", ".scss": "CSS",
	".md": "Markdown", ".yaml": "YAML", ".yml": "YAML", ".toml": "TOML", ".json": "JSON",
}

var nameLanguages = map[string]string{
	"Makefile": "Make", "GNUmakefile": "Make", "Dockerfile": "Docker",
	"go.mod": "Go", "Cargo.toml": "Rust", "package.json": "JavaScript",
	"Gemfile": "Ruby", "pyproject.toml": "Python", "requirements.txt": "Python",
}

// binaryLanguages maps toolchain commands to the language they imply.
var binaryLanguages = map[string]string{
	"go": "Go", "gofmt": "Go", "golangci-lint": "Go",
	"python": "Python", "python3": "Python", "pip": "Python", "pip3": "Python",
	"pytest": "Python", "poetry": "Python", "uv": "Python",
	"node": "JavaScript", "npm": "JavaScript", "npx": "JavaScript", "yarn": "JavaScript",
	"pnpm": "JavaScript", "bun": "JavaScript", "deno": "TypeScript", "tsc": "TypeScript",
	"cargo": "Rust", "rustc": "Rust",
	"ruby": "Ruby", "bundle": "Ruby", "rake": "Ruby",
	"java": "Java", "javac": "Java", "mvn": "Java", "gradle": "Java",
	"gcc": "C", "clang": "C", "g++": "C++", "clang++": "C++", "cmake": "C++",
	"make": "Make", "docker": "Docker", "terraform": "Terraform",
	"mix": "Elixir", "ghc": "Haskell", "stack": "Haskell", "swift": "Swift",
}

func languageOf(path string) (string, bool) {
	if lang, ok := nameLanguages[filepath.Base(path)]; ok {
		return lang, true
	}
	lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}
