package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

func setupTestSink(t *testing.T) *Sink {
	t.Helper()
	s, err := New(provider.SinkConfig{Path: filepath.Join(t.TempDir(), "chunks.db")})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func makeChunk(path string, row int, code string) *types.Chunk {
	c := &types.Chunk{
		FilePath: path,
		Language: "typescript",
		Kind:     "function_declaration",
		Name:     "fn",
		Code:     code,
		Range: types.Range{
			Start: types.Point{Row: row, Column: 2},
			End:   types.Point{Row: row, Column: 2},
		},
	}
	c.ID = c.GenerateID()
	return c
}

func TestSinkWriteAndRead(t *testing.T) {
	s := setupTestSink(t)
	assert.Equal(t, "sqlite", s.Name())

	chunks := []*types.Chunk{
		makeChunk("src/a.ts", 10, "function b() {\n}\n\n"),
		makeChunk("src/a.ts", 0, "function a() {\n}\n\n"),
	}
	require.NoError(t, s.Write("src/a.ts", chunks))

	got, err := s.ChunksByFile("src/a.ts")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, *chunks[0], *got[0], "extraction order is kept")
	assert.Equal(t, *chunks[1], *got[1])

	one, err := s.GetChunk(chunks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, chunks[1].Code, one.Code)

	_, err = s.GetChunk("missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSinkWriteReplacesFile(t *testing.T) {
	s := setupTestSink(t)

	require.NoError(t, s.Write("a.ts", []*types.Chunk{
		makeChunk("a.ts", 0, "v1 one"),
		makeChunk("a.ts", 5, "v1 two"),
	}))
	require.NoError(t, s.Write("b.ts", []*types.Chunk{makeChunk("b.ts", 0, "other")}))
	require.NoError(t, s.Write("a.ts", []*types.Chunk{makeChunk("a.ts", 1, "v2")}))

	got, err := s.ChunksByFile("a.ts")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "v2", got[0].Code)

	chunks, files, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, chunks)
	assert.Equal(t, 2, files)
}

func TestSinkRemove(t *testing.T) {
	s := setupTestSink(t)

	require.NoError(t, s.Write("a.ts", []*types.Chunk{makeChunk("a.ts", 0, "x")}))
	require.NoError(t, s.Remove("a.ts"))

	got, err := s.ChunksByFile("a.ts")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New(provider.SinkConfig{})
	assert.ErrorIs(t, err, types.ErrInvalidConfig)
}

func TestSinkFileHashCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	s, err := New(provider.SinkConfig{Path: path})
	require.NoError(t, err)

	fileHash, configHash, err := s.GetFileHash("src/a.ts")
	require.NoError(t, err)
	assert.Empty(t, fileHash)
	assert.Empty(t, configHash)

	require.NoError(t, s.Write("src/a.ts", []*types.Chunk{makeChunk("src/a.ts", 0, "function a() {\n}\n")}))
	require.NoError(t, s.SetFileHash("src/a.ts", "f1", "c1"))
	require.NoError(t, s.SetFileHash("src/b.ts", "f2", "c1"))
	require.NoError(t, s.SetFileHash("src/a.ts", "f3", "c2"))

	fileHash, configHash, err = s.GetFileHash("src/a.ts")
	require.NoError(t, err)
	assert.Equal(t, "f3", fileHash)
	assert.Equal(t, "c2", configHash)
	require.NoError(t, s.Close())

	// The cache survives reopening the database
	s, err = New(provider.SinkConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	all, err := s.GetAllFileHashes()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"src/a.ts": "f3", "src/b.ts": "f2"}, all)

	require.NoError(t, s.Remove("src/a.ts"))
	fileHash, _, err = s.GetFileHash("src/a.ts")
	require.NoError(t, err)
	assert.Empty(t, fileHash)

	chunks, files, err := s.Count()
	require.NoError(t, err)
	assert.Zero(t, chunks)
	assert.Zero(t, files)
}
