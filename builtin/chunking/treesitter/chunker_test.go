package treesitter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

const pythonNestedShort = `def outer(x):
    def inner(y):
        y = y + 1
        return y
    z = inner(x)
    return z
`

const pythonNestedLong = `def outer(x):
    def inner(y):
        y = y + 1
        y = y * 2
        return y
    return inner(x)
`

const tsSiblings = `function alpha(a: number): number {
  const b = a + 1;
  const c = b * 2;
  return c;
}

function beta(s: string): string {
  const t = s.trim();
  const u = t.toUpperCase();
  return u;
}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestExtractFilePythonNestedFilteredByLines(t *testing.T) {
	c := New(Config{})
	path := writeFile(t, "nested.py", pythonNestedShort)

	chunks, err := c.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	outer := chunks[0]
	assert.Equal(t, "python", outer.Language)
	assert.Equal(t, "function_definition", outer.Kind)
	assert.Equal(t, "outer", outer.Name)
	assert.True(t, strings.HasPrefix(outer.Code, "def outer(x):"))
	assert.Contains(t, outer.Code, "def inner(y):")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(outer.Code), "return z"))
	assert.Equal(t, types.Point{Row: 0, Column: 0}, outer.Range.Start)
	assert.Equal(t, outer.Range.Start, outer.Range.End)
}

func TestExtractFilePythonNestedBothYielded(t *testing.T) {
	c := New(Config{})
	path := writeFile(t, "nested.py", pythonNestedLong)

	chunks, err := c.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "outer", chunks[0].Name)
	assert.Equal(t, "inner", chunks[1].Name)
	assert.Equal(t, types.Point{Row: 1, Column: 4}, chunks[1].Range.Start)
	assert.True(t, strings.HasPrefix(chunks[1].Code, "def inner(y):"))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(chunks[1].Code), "return y"))
}

func TestExtractFilePythonDepthOverride(t *testing.T) {
	depth := 2
	reg, err := DefaultRegistry().WithOverrides(map[string]provider.LanguageOverride{"python": {MaxDepth: &depth}})
	require.NoError(t, err)

	c := New(Config{Registry: reg})
	path := writeFile(t, "nested.py", pythonNestedLong)

	chunks, err := c.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "inner function sits at depth 3")
	assert.Equal(t, "outer", chunks[0].Name)
}

func TestExtractFileTypeScriptSiblings(t *testing.T) {
	c := New(Config{})
	path := writeFile(t, "funcs.ts", tsSiblings)

	chunks, err := c.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "alpha", chunks[0].Name)
	assert.Equal(t, "beta", chunks[1].Name)
	for _, chunk := range chunks {
		assert.Equal(t, "typescript", chunk.Language)
		assert.Equal(t, "function_declaration", chunk.Kind)
		assert.Equal(t, path, chunk.FilePath)
	}

	blocks := strings.Split(strings.TrimSuffix(tsSiblings, "\n"), "\n\n")
	assert.Equal(t, blocks[0], chunks[0].Code)
	assert.Equal(t, blocks[1], chunks[1].Code)
	assert.Equal(t, 0, chunks[0].Range.Start.Row)
	assert.Equal(t, 6, chunks[1].Range.Start.Row)
	assert.Equal(t, chunks[1].Range.Start, chunks[1].Range.End)
}

func TestExtractFileFullRange(t *testing.T) {
	c := New(Config{FullRange: true})
	path := writeFile(t, "funcs.ts", tsSiblings)

	chunks, err := c.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, types.Point{Row: 4, Column: 1}, chunks[0].Range.End)
	assert.Equal(t, types.Point{Row: 10, Column: 1}, chunks[1].Range.End)
}

func TestExtractFileJavaScriptDepthLimit(t *testing.T) {
	src := `class Greeter {
  greet(name) {
    const msg = "hi " + name;
    return msg;
  }
}

export function hidden() {
  let a = 1;
  a += 1;
  return a;
}
`
	c := New(Config{})
	path := writeFile(t, "greeter.js", src)

	chunks, err := c.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "methods and exported declarations sit below depth 1")
	assert.Equal(t, "javascript", chunks[0].Language)
	assert.Equal(t, "class_declaration", chunks[0].Kind)
	assert.Equal(t, "Greeter", chunks[0].Name)
}

func TestExtractFileUnsupportedExtension(t *testing.T) {
	c := New(Config{})
	calls := 0
	c.parse = func(ctx context.Context, lang LanguageConfig, content []byte) (*sitter.Tree, error) {
		calls++
		return nil, errors.New("unexpected parse")
	}

	path := writeFile(t, "tool.rb", "def hello\n  puts 'hi'\n  puts 'there'\n  puts 'again'\nend\n")
	chunks, err := c.ExtractFile(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	// Not read either: a missing file with an unknown extension is fine.
	chunks, err = c.ExtractFile(context.Background(), filepath.Join(t.TempDir(), "missing.rb"))
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Chunk(&types.SourceFile{Path: "x.rb", Content: []byte("def x; end")})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	assert.Zero(t, calls)
}

func TestExtractFileParseFailure(t *testing.T) {
	c := New(Config{})
	c.parse = func(ctx context.Context, lang LanguageConfig, content []byte) (*sitter.Tree, error) {
		return nil, errors.New("grammar rejected input")
	}

	path := writeFile(t, "ok.py", pythonNestedShort)
	chunks, err := c.ExtractFile(context.Background(), path)
	assert.ErrorIs(t, err, types.ErrParseError)
	assert.Nil(t, chunks)
}

func TestExtractFileSyntaxError(t *testing.T) {
	src := "def broken(:\n    pass\n\ndef fine(a):\n    a = 1\n    a = 2\n    return a\n"
	path := writeFile(t, "broken.py", src)

	_, err := New(Config{}).ExtractFile(context.Background(), path)
	assert.ErrorIs(t, err, types.ErrParseError)

	_, err = New(Config{AllowSyntaxErrors: true}).ExtractFile(context.Background(), path)
	assert.NoError(t, err)
}

func TestExtractFileMissing(t *testing.T) {
	_, err := New(Config{}).ExtractFile(context.Background(), filepath.Join(t.TempDir(), "gone.py"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestChunksStopsEarly(t *testing.T) {
	c := New(Config{})
	file := &types.SourceFile{Path: "funcs.ts", Content: []byte(tsSiblings)}

	var names []string
	for chunk, err := range c.Chunks(context.Background(), file) {
		require.NoError(t, err)
		names = append(names, chunk.Name)
		break
	}
	assert.Equal(t, []string{"alpha"}, names)
}

func TestChunkerMetadata(t *testing.T) {
	c := New(Config{})
	assert.Equal(t, "treesitter", c.Name())
	assert.Equal(t, []string{"python", "javascript", "typescript", "jsx", "tsx"}, c.SupportedLanguages())
	assert.True(t, c.SupportsFile("a/b.tsx"))
	assert.False(t, c.SupportsFile("a/b.go"))
	assert.NoError(t, c.Close())
}

func TestChunkerConcurrentUse(t *testing.T) {
	c := New(Config{})
	file := &types.SourceFile{Path: "funcs.ts", Content: []byte(tsSiblings)}

	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			chunks, err := c.Chunk(file)
			if err == nil && len(chunks) != 2 {
				err = errors.New("unexpected chunk count")
			}
			errs <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-errs)
	}
}
