package index

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tsChunker "github.com/spetr/mcp-codechunk/builtin/chunking/treesitter"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

func newTestWatcher(t *testing.T, root string, sink *recordingSink, onChange func(types.FileChunks)) *Watcher {
	t.Helper()
	cfg := Config{ProjectDir: root, Chunker: tsChunker.New(tsChunker.Config{})}
	if sink != nil {
		cfg.Sink = sink
	}
	e := New(cfg)
	w, err := NewWatcher(WatcherConfig{Extractor: e, OnChange: onChange, DebounceTime: time.Nanosecond})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func TestWatcherHandleEventFilters(t *testing.T) {
	root := setupProject(t)
	w := newTestWatcher(t, root, nil, nil)

	events := []fsnotify.Event{
		{Name: filepath.Join(root, "src", "app.py"), Op: fsnotify.Write},
		{Name: filepath.Join(root, "src", "util.ts"), Op: fsnotify.Chmod},
		{Name: filepath.Join(root, "README.md"), Op: fsnotify.Write},
		{Name: filepath.Join(root, "node_modules", "lib", "index.js"), Op: fsnotify.Write},
		{Name: filepath.Join(root, "src", "gone.ts"), Op: fsnotify.Remove},
	}
	for _, ev := range events {
		w.handleEvent(ev)
	}

	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	assert.Len(t, w.pendingFiles, 2)
	assert.Contains(t, w.pendingFiles, "src/app.py")
	assert.Contains(t, w.pendingFiles, "src/gone.ts")
}

func TestWatcherReextractsAndRemoves(t *testing.T) {
	root := setupProject(t)
	sink := newRecordingSink()

	var changes []types.FileChunks
	w := newTestWatcher(t, root, sink, func(fc types.FileChunks) { changes = append(changes, fc) })

	w.handleEvent(fsnotify.Event{Name: filepath.Join(root, "src", "app.py"), Op: fsnotify.Write})
	time.Sleep(time.Millisecond)
	w.processPendingFiles(context.Background())

	require.Len(t, changes, 1)
	assert.Equal(t, "src/app.py", changes[0].Path)
	assert.False(t, changes[0].Removed)
	require.Len(t, changes[0].Chunks, 1)
	assert.Len(t, sink.written["src/app.py"], 1)

	require.NoError(t, os.Remove(filepath.Join(root, "src", "app.py")))
	w.handleEvent(fsnotify.Event{Name: filepath.Join(root, "src", "app.py"), Op: fsnotify.Remove})
	time.Sleep(time.Millisecond)
	w.processPendingFiles(context.Background())

	require.Len(t, changes, 2)
	assert.True(t, changes[1].Removed)
	assert.Nil(t, changes[1].Chunks)
	assert.Equal(t, []string{"src/app.py"}, sink.removed)
}

func TestWatcherWatch(t *testing.T) {
	root := setupProject(t)

	var mu sync.Mutex
	var got []types.FileChunks
	w := newTestWatcher(t, root, nil, func(fc types.FileChunks) {
		mu.Lock()
		got = append(got, fc)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	target := filepath.Join(root, "src", "app.py")
	require.Eventually(t, func() bool {
		// Rewrite until the watch is registered and the change is picked up.
		_ = os.WriteFile(target, []byte(pySource), 0644)
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 5*time.Second, 150*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "src/app.py", got[0].Path)
	assert.Len(t, got[0].Chunks, 1)
}

// blockingSink holds the first Write until release is closed.
type blockingSink struct {
	*recordingSink
	started  chan struct{}
	release  chan struct{}
	finished bool
}

func (s *blockingSink) Write(path string, chunks []*types.Chunk) error {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-s.release
	if err := s.recordingSink.Write(path, chunks); err != nil {
		return err
	}
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	return nil
}

func TestWatcherWaitsForInflightWrites(t *testing.T) {
	root := setupProject(t)
	sink := &blockingSink{
		recordingSink: newRecordingSink(),
		started:       make(chan struct{}, 1),
		release:       make(chan struct{}),
	}

	e := New(Config{ProjectDir: root, Chunker: tsChunker.New(tsChunker.Config{}), Sink: sink})
	w, err := NewWatcher(WatcherConfig{Extractor: e, DebounceTime: time.Nanosecond})
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	target := filepath.Join(root, "src", "app.py")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(target, []byte(pySource), 0644)
		return len(sink.started) > 0
	}, 5*time.Second, 150*time.Millisecond)

	cancel()
	select {
	case <-done:
		t.Fatal("Watch returned while a sink write was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(sink.release)
	require.NoError(t, <-done)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.True(t, sink.finished)
}
