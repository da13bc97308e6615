package provider

import (
	"io"

	"github.com/spetr/mcp-codechunk/pkg/types"
)

// ChunkSink receives extracted chunks for hand-off to an external pipeline.
type ChunkSink interface {
	// Name returns the sink name (e.g., "jsonl", "sqlite").
	Name() string

	// Write records the chunks of one file, replacing anything previously
	// written for the same path when the sink supports it.
	Write(path string, chunks []*types.Chunk) error

	// Remove drops everything recorded for a path.
	Remove(path string) error

	// Close flushes and releases resources.
	Close() error
}

// SinkConfig contains configuration for chunk sinks.
type SinkConfig struct {
	Path   string    // Output file; empty means Writer
	Writer io.Writer // Used by stream sinks when Path is empty
	Append bool      // Stream sinks append to an existing file instead of truncating it
}

// FileHashCache is implemented by sinks that remember which content and
// chunking configuration produced the stored chunks of each file.
type FileHashCache interface {
	// GetFileHash returns the cached hashes of path, or empty strings.
	GetFileHash(path string) (fileHash, configHash string, err error)

	// SetFileHash records the hashes after the chunks of path are written.
	SetFileHash(path, fileHash, configHash string) error

	// GetAllFileHashes returns the cached content hash of every path.
	GetAllFileHashes() (map[string]string, error)
}
