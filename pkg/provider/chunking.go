// Package provider defines interfaces for pluggable components.
package provider

import (
	"context"
	"iter"

	"github.com/spetr/mcp-codechunk/pkg/types"
)

// ChunkingStrategy splits source files into chunks.
type ChunkingStrategy interface {
	// Name returns the strategy name (e.g., "treesitter").
	Name() string

	// Chunk splits a source file into chunks.
	// Files with an unregistered extension yield no chunks and no error.
	Chunk(file *types.SourceFile) ([]*types.Chunk, error)

	// Chunks is the lazy form of Chunk. Stopping the iteration early
	// stops the underlying traversal.
	Chunks(ctx context.Context, file *types.SourceFile) iter.Seq2[*types.Chunk, error]

	// ExtractFile reads a file from disk and chunks it.
	ExtractFile(ctx context.Context, path string) ([]*types.Chunk, error)

	// SupportedLanguages returns the language labels this strategy handles.
	SupportedLanguages() []string

	// SupportsFile checks if a file path has a registered extension.
	SupportsFile(path string) bool

	// Close releases any resources.
	Close() error
}

// ChunkingConfig contains configuration for chunking strategies.
type ChunkingConfig struct {
	Strategy          string // "treesitter"
	AllowSyntaxErrors bool   // Chunk trees that contain ERROR nodes
	FullRange         bool   // Report the node end in Chunk.Range.End
	Overrides         map[string]LanguageOverride
}

// LanguageOverride replaces traversal limits or the grammar for one
// language label. Zero values keep the built-in setting.
type LanguageOverride struct {
	MaxDepth *int
	MinLines int
	Grammar  string // e.g. "typescript" to parse .ts without JSX
}
