// Package jsonl implements a ChunkSink that writes one JSON object per line.
package jsonl

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

// Removal is the record written when a file's chunks are dropped.
type Removal struct {
	FilePath string `json:"file_path"`
	Removed  bool   `json:"removed"`
}

// Sink streams chunks as JSON lines.
type Sink struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *json.Encoder
	closer io.Closer
}

// New creates a sink writing to cfg.Path, or to cfg.Writer when no path is set.
func New(cfg provider.SinkConfig) (*Sink, error) {
	var w io.Writer
	var closer io.Closer

	switch {
	case cfg.Path != "":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create output dir: %w", err)
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if cfg.Append {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		f, err := os.OpenFile(cfg.Path, flags, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		w, closer = f, f
	case cfg.Writer != nil:
		w = cfg.Writer
	default:
		w = os.Stdout
	}

	buf := bufio.NewWriter(w)
	return &Sink{
		buf:    buf,
		enc:    json.NewEncoder(buf),
		closer: closer,
	}, nil
}

// Name returns the sink name.
func (s *Sink) Name() string {
	return "jsonl"
}

// Write appends one line per chunk.
func (s *Sink) Write(path string, chunks []*types.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, chunk := range chunks {
		if err := s.enc.Encode(chunk); err != nil {
			return fmt.Errorf("failed to encode chunk %s: %w", chunk.ID, err)
		}
	}
	return nil
}

// Remove appends a removal record for path.
func (s *Sink) Remove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enc.Encode(Removal{FilePath: path, Removed: true})
}

// Flush writes buffered lines to the underlying writer.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.Flush()
}

// Close flushes buffered output and closes the file if the sink opened one.
func (s *Sink) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

var _ provider.ChunkSink = (*Sink)(nil)
