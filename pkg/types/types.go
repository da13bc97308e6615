// Package types contains shared data types used across the codechunk project.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// SourceFile represents a source code file to be chunked.
type SourceFile struct {
	Path    string // Path to the file
	Content []byte // File content
	Hash    string // SHA256 hash of the content
}

// ComputeHash calculates SHA256 hash of the file content.
func (f *SourceFile) ComputeHash() string {
	h := sha256.Sum256(f.Content)
	return hex.EncodeToString(h[:])
}

// Point is a position in a source file. Row is zero-based, Column is a
// zero-based byte offset within the row.
type Point struct {
	Row    int `json:"row"`
	Column int `json:"column"`
}

func (p Point) String() string {
	return fmt.Sprintf("%d:%d", p.Row, p.Column)
}

// Range is the source location recorded on a chunk.
//
// By default End equals Start: both hold the start position of the matched
// node, which is the anchor used for citations ("view on source at line N").
// Chunkers configured with full ranges report the node's real end instead.
type Range struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// Chunk is a labeled, bounded unit of source code extracted from a file.
type Chunk struct {
	ID       string `json:"id"`        // {filepath}:{startline}:{hash[:8]}
	FilePath string `json:"file_path"` // Path to source file
	Language string `json:"language"`  // Language label of the producing configuration
	Kind     string `json:"kind"`      // Syntax node category, e.g. function_definition
	Name     string `json:"name,omitempty"`
	Code     string `json:"code"` // Exact source text spanned by the node
	Range    Range  `json:"range"`
}

// StartLine returns the 1-based line the chunk starts on.
func (c *Chunk) StartLine() int {
	return c.Range.Start.Row + 1
}

// GenerateID creates a unique ID for the chunk.
func (c *Chunk) GenerateID() string {
	h := sha256.Sum256([]byte(c.Code))
	hashPrefix := hex.EncodeToString(h[:4])
	return c.FilePath + ":" + strconv.Itoa(c.StartLine()) + ":" + hashPrefix
}

// ExtractStats summarizes a project extraction run.
type ExtractStats struct {
	Files     int           // Files that produced a result (possibly zero chunks)
	Unchanged int           // Files whose cached chunks in the sink are current
	Removed   int           // Cached files no longer present in the project
	Skipped   int           // Files with no registered language
	Failed    int           // Files that could not be read or parsed
	Chunks    int           // Total chunks produced
	Duration  time.Duration // Wall time of the run
}

// FileChunks is the extraction result for a single file.
type FileChunks struct {
	Path      string
	Hash      string // SHA256 of the content, set once the file was read
	Chunks    []*Chunk
	Err       error // Non-fatal error (e.g., cannot parse file)
	Unchanged bool  // Content and chunking config match the sink's cache; Chunks is empty
	Removed   bool  // File was deleted (watch mode)
}
