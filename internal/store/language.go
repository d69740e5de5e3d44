package store

import (
	"path/filepath"
	"strings"
)

var languageByExtension = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".rb":    "ruby",
	".rs":    "rust",
	".swift": "swift",
	".kt":    "kotlin",
	".java":  "java",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".cs":    "csharp",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".md":    "markdown",
	".sql":   "sql",
	".sh":    "shell",
}

var languageByFilename = map[string]string{
	"dockerfile": "dockerfile",
	"makefile":   "makefile",
	"gemfile":    "ruby",
	"go.mod":     "gomod",
}

// LanguageForPath infers the language tag stored alongside a generated
// file from its path. Unknown extensions map to "text".
func LanguageForPath(path string) string {
	base := strings.ToLower(filepath.Base(path))
	if lang, ok := languageByFilename[base]; ok {
		return lang
	}
	if lang, ok := languageByExtension[strings.ToLower(filepath.Ext(base))]; ok {
		return lang
	}
	return "text"
}
