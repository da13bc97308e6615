// Package index implements parallel project extraction and file watching.
package index

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/spetr/mcp-codechunk/internal/config"
	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

// ErrFileTooLarge is reported for files above limits.max_file_size.
var ErrFileTooLarge = errors.New("file too large")

// Extractor runs the chunker over every matching file of a project.
type Extractor struct {
	config     *config.Config
	configHash string
	chunker    provider.ChunkingStrategy
	sink       provider.ChunkSink
	hashCache  provider.FileHashCache // sink, when it caches file hashes
	projectDir string
	onFile     func(types.FileChunks)
}

// Config contains extractor configuration.
type Config struct {
	ProjectDir string
	Config     *config.Config
	Chunker    provider.ChunkingStrategy
	Sink       provider.ChunkSink     // Optional, receives every successfully chunked file
	OnFile     func(types.FileChunks) // Optional, called in path order
}

// New creates a new extractor.
func New(cfg Config) *Extractor {
	c := cfg.Config
	if c == nil {
		c = config.DefaultConfig()
	}
	e := &Extractor{
		config:     c,
		configHash: c.Hash(),
		chunker:    cfg.Chunker,
		sink:       cfg.Sink,
		projectDir: cfg.ProjectDir,
		onFile:     cfg.OnFile,
	}
	if hc, ok := cfg.Sink.(provider.FileHashCache); ok {
		e.hashCache = hc
	}
	return e
}

// Extract scans the project and chunks every matching file.
// Per-file failures are logged and counted; only cancellation aborts the run.
// Results are sorted by path.
//
// When the sink caches file hashes, files whose content and chunking config
// match the cache are reported Unchanged without being parsed, and cached
// files that no longer exist are removed from the sink.
func (e *Extractor) Extract(ctx context.Context) ([]types.FileChunks, *types.ExtractStats, error) {
	startTime := time.Now()

	if e.config.Limits.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.Limits.Timeout)
		defer cancel()
	}

	paths, err := e.ScanFiles(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan files: %w", err)
	}
	slog.Info("scanned files", "total", len(paths))

	stats := &types.ExtractStats{}
	var supported []string
	for _, p := range paths {
		if e.chunker.SupportsFile(p) {
			supported = append(supported, p)
		} else {
			stats.Skipped++
		}
	}

	workers := e.config.Limits.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]types.FileChunks, len(supported))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i, rel := range supported {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := e.extractFile(gctx, rel)
			if res.Err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrCancelled, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", types.ErrCancelled, err)
	}

	for _, res := range results {
		switch {
		case res.Err != nil:
			stats.Failed++
			slog.Warn("chunking failed", "file", res.Path, "error", res.Err)
		case res.Unchanged:
			stats.Unchanged++
		default:
			stats.Files++
			stats.Chunks += len(res.Chunks)
			if err := e.store(res); err != nil {
				return nil, nil, fmt.Errorf("failed to write chunks of %s: %w", res.Path, err)
			}
		}
		if e.onFile != nil {
			e.onFile(res)
		}
	}

	// A truncated scan cannot tell deleted files from unscanned ones
	if e.hashCache != nil && (e.config.Limits.MaxFiles <= 0 || len(paths) < e.config.Limits.MaxFiles) {
		removed, err := e.pruneDeleted(paths)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to prune deleted files: %w", err)
		}
		stats.Removed = removed
	}

	stats.Duration = time.Since(startTime)
	slog.Info("extraction complete",
		"files", stats.Files,
		"unchanged", stats.Unchanged,
		"removed", stats.Removed,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
		"chunks", stats.Chunks,
		"duration", stats.Duration)

	return results, stats, nil
}

// ScanFiles returns the project-relative, slash-separated paths of all files
// matching the include patterns and none of the exclude patterns, sorted.
func (e *Extractor) ScanFiles(ctx context.Context) ([]string, error) {
	var files []string
	maxFiles := e.config.Limits.MaxFiles

	slog.Debug("starting filesystem walk", "dir", e.projectDir, "include_patterns", e.config.Index.Include)
	err := filepath.WalkDir(e.projectDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, err := relPath(e.projectDir, path)
		if err != nil || rel == "." {
			return nil
		}

		if d.IsDir() {
			if excludedDir(e.config.Index.Exclude, rel) {
				slog.Debug("excluding directory", "path", rel)
				return filepath.SkipDir
			}
			return nil
		}

		if !e.Matches(rel) {
			return nil
		}

		files = append(files, rel)
		if maxFiles > 0 && len(files) >= maxFiles {
			slog.Warn("max files limit reached", "limit", maxFiles)
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(files)
	return files, nil
}

// Matches reports whether a project-relative path is selected by the
// include and exclude patterns.
func (e *Extractor) Matches(rel string) bool {
	return matchAny(e.config.Index.Include, rel) && !matchAny(e.config.Index.Exclude, rel)
}

// extractFile reads and chunks one project-relative file.
func (e *Extractor) extractFile(ctx context.Context, rel string) types.FileChunks {
	res := types.FileChunks{Path: rel}

	full := filepath.Join(e.projectDir, filepath.FromSlash(rel))
	info, err := os.Stat(full)
	if err != nil {
		res.Err = err
		return res
	}

	if e.config.Limits.MaxFileSize != "" {
		maxSize, err := config.ParseSize(e.config.Limits.MaxFileSize)
		if err != nil {
			res.Err = err
			return res
		}
		if maxSize > 0 && info.Size() > maxSize {
			res.Err = fmt.Errorf("%w: %d > %d", ErrFileTooLarge, info.Size(), maxSize)
			return res
		}
	}

	content, err := os.ReadFile(full)
	if err != nil {
		res.Err = err
		return res
	}

	file := &types.SourceFile{Path: rel, Content: content}
	file.Hash = file.ComputeHash()
	res.Hash = file.Hash

	if e.cached(rel, file.Hash) {
		slog.Debug("file unchanged", "file", rel)
		res.Unchanged = true
		return res
	}

	for chunk, err := range e.chunker.Chunks(ctx, file) {
		if err != nil {
			res.Chunks = nil
			res.Err = err
			return res
		}
		res.Chunks = append(res.Chunks, chunk)
	}

	slog.Debug("chunked file", "file", rel, "chunks", len(res.Chunks))
	return res
}

// cached reports whether the sink already holds chunks of rel produced from
// the same content and chunking config.
func (e *Extractor) cached(rel, fileHash string) bool {
	if e.hashCache == nil {
		return false
	}
	cachedHash, cachedConfig, err := e.hashCache.GetFileHash(rel)
	if err != nil {
		slog.Warn("failed to read cached hash", "file", rel, "error", err)
		return false
	}
	return cachedHash == fileHash && cachedConfig == e.configHash
}

// store writes the chunks of a file to the sink and records its hashes.
func (e *Extractor) store(res types.FileChunks) error {
	if e.sink == nil {
		return nil
	}
	if err := e.sink.Write(res.Path, res.Chunks); err != nil {
		return err
	}
	if e.hashCache != nil {
		return e.hashCache.SetFileHash(res.Path, res.Hash, e.configHash)
	}
	return nil
}

// pruneDeleted removes cached files that are not in scanned.
func (e *Extractor) pruneDeleted(scanned []string) (int, error) {
	cached, err := e.hashCache.GetAllFileHashes()
	if err != nil {
		return 0, err
	}

	present := make(map[string]struct{}, len(scanned))
	for _, p := range scanned {
		present[p] = struct{}{}
	}

	removed := 0
	for path := range cached {
		if _, ok := present[path]; ok {
			continue
		}
		if err := e.sink.Remove(path); err != nil {
			return removed, err
		}
		slog.Debug("removed deleted file", "file", path)
		removed++
	}
	return removed, nil
}

func relPath(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// matchAny matches a slash-separated path against doublestar patterns.
func matchAny(patterns []string, path string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
	}
	return false
}

// excludedDir reports whether everything below dir is excluded.
func excludedDir(patterns []string, dir string) bool {
	return matchAny(patterns, dir+"/_") || matchAny(patterns, dir)
}
