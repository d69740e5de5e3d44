package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLanguageForPath(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"main.go", "go"},
		{"src/app.py", "python"},
		{"web/index.JSX", "javascript"},
		{"components/App.tsx", "typescript"},
		{"index.html", "html"},
		{"styles/site.css", "css"},
		{"config.yaml", "yaml"},
		{"config.yml", "yaml"},
		{"README.md", "markdown"},
		{"Dockerfile", "dockerfile"},
		{"deploy/Makefile", "makefile"},
		{"Gemfile", "ruby"},
		{"go.mod", "gomod"},
		{"schema.sql", "sql"},
		{"bin/run.sh", "shell"},
		{"LICENSE", "text"},
		{"data.unknownext", "text"},
	}

	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			assert.Equal(t, tc.want, LanguageForPath(tc.path))
		})
	}
}
