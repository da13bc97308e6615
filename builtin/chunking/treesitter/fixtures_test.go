package treesitter

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixtureChunk is an expected chunk in a fixture file.
type fixtureChunk struct {
	Name string
	Kind string
}

// testLanguage defines test expectations for a language fixture.
type testLanguage struct {
	Label  string
	File   string
	Chunks []fixtureChunk
}

// testDataDir returns the path to the language fixtures.
func testDataDir() string {
	// Find project root
	dir, _ := os.Getwd()
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "testdata", "languages")
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func getTestLanguages() []testLanguage {
	return []testLanguage{
		{
			Label: "python",
			File:  "python/models.py",
			Chunks: []fixtureChunk{
				{"Config", "class_definition"},
				{"__init__", "function_definition"},
				{"hash_string", "function_definition"},
				{"decorated", "function_definition"},
			},
		},
		{
			// Exported class sits below the depth limit; short functions are filtered.
			Label: "typescript",
			File:  "typescript/server.ts",
			Chunks: []fixtureChunk{
				{"Cache", "class_declaration"},
				{"normalize", "function_declaration"},
			},
		},
		{
			Label: "javascript",
			File:  "javascript/utils.js",
			Chunks: []fixtureChunk{
				{"formatDate", "function_declaration"},
				{"EventBus", "class_declaration"},
			},
		},
		{
			Label: "tsx",
			File:  "tsx/Button.tsx",
			Chunks: []fixtureChunk{
				{"Button", "function_declaration"},
			},
		},
	}
}

func TestLanguageFixtures(t *testing.T) {
	dataDir := testDataDir()
	if dataDir == "" {
		t.Skip("testdata not found")
	}

	c := New(Config{})

	for _, lang := range getTestLanguages() {
		t.Run(lang.Label, func(t *testing.T) {
			path := filepath.Join(dataDir, filepath.FromSlash(lang.File))
			content, err := os.ReadFile(path)
			require.NoError(t, err)

			chunks, err := c.ExtractFile(context.Background(), path)
			require.NoError(t, err)

			var got []fixtureChunk
			for _, ch := range chunks {
				got = append(got, fixtureChunk{ch.Name, ch.Kind})

				assert.Equal(t, lang.Label, ch.Language)
				assert.Equal(t, ch.Range.Start, ch.Range.End)
				assert.GreaterOrEqual(t, strings.Count(ch.Code, "\n")+1, 4, "chunk %s is too short", ch.Name)
				assert.Contains(t, string(content), ch.Code)
				assert.True(t,
					strings.HasPrefix(ch.Code, "def ") || strings.HasPrefix(ch.Code, "class ") ||
						strings.HasPrefix(ch.Code, "function "),
					"chunk %s starts with %q", ch.Name, firstLine(ch.Code))
			}
			assert.Equal(t, lang.Chunks, got)
		})
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
