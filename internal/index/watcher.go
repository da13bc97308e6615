package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spetr/mcp-codechunk/pkg/types"
)

// Watcher watches for file changes and re-extracts changed files.
type Watcher struct {
	extractor  *Extractor
	projectDir string

	watcher  *fsnotify.Watcher
	onChange func(types.FileChunks)

	// Debouncing
	pendingMu    sync.Mutex
	pendingFiles map[string]time.Time
	debounceTime time.Duration

	// Tracks processDebounced so Watch returns only after sink writes stop
	wg sync.WaitGroup
}

// WatcherConfig contains watcher configuration.
type WatcherConfig struct {
	Extractor    *Extractor
	OnChange     func(types.FileChunks) // Called after each re-extraction or removal
	DebounceTime time.Duration          // Default: 500ms
}

// NewWatcher creates a new file watcher.
// Changed files are written to the extractor's sink, if any.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	debounceTime := cfg.DebounceTime
	if debounceTime == 0 {
		debounceTime = 500 * time.Millisecond
	}

	return &Watcher{
		extractor:    cfg.Extractor,
		projectDir:   cfg.Extractor.projectDir,
		watcher:      watcher,
		onChange:     cfg.OnChange,
		pendingFiles: make(map[string]time.Time),
		debounceTime: debounceTime,
	}, nil
}

// Watch starts watching for file changes.
// It blocks until the context is cancelled, and returns after any
// in-flight re-extraction has finished.
func (w *Watcher) Watch(ctx context.Context) error {
	if err := w.addWatchDirs(w.projectDir); err != nil {
		return err
	}

	slog.Info("watching for file changes", "dir", w.projectDir)

	ctx, cancel := context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.processDebounced(ctx)
	}()
	defer func() {
		cancel()
		w.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping watcher")
			return w.watcher.Close()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "error", err)
		}
	}
}

// addWatchDirs recursively adds directories to watch.
func (w *Watcher) addWatchDirs(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}

		if path != w.projectDir {
			rel, err := relPath(w.projectDir, path)
			if err != nil {
				return nil
			}
			if excludedDir(w.extractor.config.Index.Exclude, rel) {
				return filepath.SkipDir
			}
			// Skip hidden directories
			if strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
		}

		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// handleEvent processes a file system event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addWatchDirs(event.Name); err != nil {
				slog.Warn("failed to watch new directory", "path", event.Name, "error", err)
			}
			return
		}
	}

	rel, err := relPath(w.projectDir, event.Name)
	if err != nil || strings.HasPrefix(rel, "../") {
		return
	}

	if !w.extractor.Matches(rel) || !w.extractor.chunker.SupportsFile(rel) {
		return
	}

	w.pendingMu.Lock()
	w.pendingFiles[rel] = time.Now()
	w.pendingMu.Unlock()

	slog.Debug("file changed", "path", rel, "op", event.Op.String())
}

// processDebounced processes pending files after debounce period.
func (w *Watcher) processDebounced(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.processPendingFiles(ctx)
		}
	}
}

// processPendingFiles processes files that have been stable for debounce period.
func (w *Watcher) processPendingFiles(ctx context.Context) {
	w.pendingMu.Lock()
	now := time.Now()
	var toProcess []string
	for path, changedAt := range w.pendingFiles {
		if now.Sub(changedAt) >= w.debounceTime {
			toProcess = append(toProcess, path)
			delete(w.pendingFiles, path)
		}
	}
	w.pendingMu.Unlock()

	if len(toProcess) > 0 {
		w.reextractFiles(ctx, toProcess)
	}
}

// reextractFiles re-extracts whole files and reports the result.
func (w *Watcher) reextractFiles(ctx context.Context, paths []string) {
	slog.Info("re-extracting changed files", "count", len(paths))

	sink := w.extractor.sink
	for _, rel := range paths {
		if ctx.Err() != nil {
			return
		}

		full := filepath.Join(w.projectDir, filepath.FromSlash(rel))
		info, err := os.Stat(full)
		if os.IsNotExist(err) {
			if sink != nil {
				if err := sink.Remove(rel); err != nil {
					slog.Warn("failed to remove chunks", "file", rel, "error", err)
				}
			}
			slog.Info("removed deleted file", "file", rel)
			w.notify(types.FileChunks{Path: rel, Removed: true})
			continue
		}
		if err != nil {
			slog.Warn("failed to stat file", "file", rel, "error", err)
			continue
		}
		if info.IsDir() {
			continue
		}

		res := w.extractor.extractFile(ctx, rel)
		switch {
		case res.Err != nil:
			slog.Warn("failed to chunk file", "file", rel, "error", res.Err)
		case res.Unchanged:
			slog.Debug("file content unchanged", "file", rel)
			continue
		default:
			if err := w.extractor.store(res); err != nil {
				slog.Warn("failed to write chunks", "file", rel, "error", err)
			}
			slog.Info("re-extracted file", "file", rel, "chunks", len(res.Chunks))
		}
		w.notify(res)
	}

	if f, ok := sink.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			slog.Warn("failed to flush sink", "error", err)
		}
	}
}

func (w *Watcher) notify(res types.FileChunks) {
	if w.onChange != nil {
		w.onChange(res)
	}
}

// Close closes the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
