package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spetr/mcp-codechunk/internal/config"
	"github.com/spetr/mcp-codechunk/internal/index"
	"github.com/spetr/mcp-codechunk/internal/mcp"
	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func runChunk(path string, limit int, format string) {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	chunker, _, err := createChunker(cfg)
	if err != nil {
		slog.Error("failed to create chunker", "error", err)
		os.Exit(1)
	}
	defer chunker.Close()

	ctx, cancel := signalContext()
	defer cancel()

	chunks, err := chunkFile(ctx, chunker, path, limit)
	if err != nil {
		slog.Error("extraction failed", "file", path, "error", err)
		os.Exit(1)
	}

	if err := printChunks(os.Stdout, chunks, format); err != nil {
		slog.Error("failed to print chunks", "error", err)
		os.Exit(1)
	}
}

// chunkFile extracts up to limit chunks from one file. A file without a
// registered language yields no chunks and no error.
func chunkFile(ctx context.Context, chunker provider.ChunkingStrategy, path string, limit int) ([]*types.Chunk, error) {
	if !chunker.SupportsFile(path) {
		slog.Debug("no language for file", "file", path, "ext", filepath.Ext(path))
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	file := &types.SourceFile{Path: path, Content: content}

	var chunks []*types.Chunk
	for chunk, err := range chunker.Chunks(ctx, file) {
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
		if limit > 0 && len(chunks) >= limit {
			break
		}
	}
	return chunks, nil
}

// printChunks writes chunks as indented JSON or as readable text.
func printChunks(w io.Writer, chunks []*types.Chunk, format string) error {
	switch format {
	case "json", "":
		if chunks == nil {
			chunks = []*types.Chunk{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(chunks)

	case "text":
		if len(chunks) == 0 {
			_, err := fmt.Fprintln(w, "No chunks found.")
			return err
		}
		for i, c := range chunks {
			name := c.Name
			if name == "" {
				name = "<anonymous>"
			}
			fmt.Fprintf(w, "--- %d. %s:%d %s %s [%s]\n", i+1, c.FilePath, c.StartLine(), c.Kind, name, c.Language)
			fmt.Fprintln(w, c.Code)
			fmt.Fprintln(w)
		}
		return nil

	default:
		return fmt.Errorf("unknown format: %s (valid: json, text)", format)
	}
}

func runDryRun(path string) {
	absPath, _ := filepath.Abs(path)
	cfg := loadConfig(absPath)

	chunker, _, err := createChunker(cfg)
	if err != nil {
		slog.Error("failed to create chunker", "error", err)
		os.Exit(1)
	}
	defer chunker.Close()

	extractor := index.New(index.Config{ProjectDir: absPath, Config: cfg, Chunker: chunker})
	files, err := extractor.ScanFiles(context.Background())
	if err != nil {
		slog.Error("failed to scan files", "error", err)
		os.Exit(1)
	}

	supported := 0
	for _, f := range files {
		if chunker.SupportsFile(f) {
			fmt.Println(f)
			supported++
		}
	}
	fmt.Printf("\n%d files would be extracted (%d matched, %d without a registered language)\n",
		supported, len(files), len(files)-supported)
}

func runIndex(path, format, out string) {
	absPath, _ := filepath.Abs(path)
	cfg := loadConfig(absPath)

	if format == "" {
		format = cfg.Export.Format
	}
	if out == "" {
		out = cfg.ExportPath(absPath)
		if format != cfg.Export.Format {
			out = strings.TrimSuffix(out, filepath.Ext(out)) + exportExt(format)
		}
	}

	chunker, _, err := createChunker(cfg)
	if err != nil {
		slog.Error("failed to create chunker", "error", err)
		os.Exit(1)
	}
	defer chunker.Close()

	sink, err := createSink(format, out, false)
	if err != nil {
		slog.Error("failed to create sink", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	slog.Info("extracting chunks", "path", absPath, "format", format, "out", out)

	extractor := index.New(index.Config{
		ProjectDir: absPath,
		Config:     cfg,
		Chunker:    chunker,
		Sink:       sink,
	})

	_, stats, err := extractor.Extract(ctx)
	if cerr := sink.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		slog.Error("extraction failed", "error", err)
		os.Exit(1)
	}

	if out != "-" {
		fmt.Printf("Extracted %d chunks from %d files in %s (%d skipped, %d failed)\n",
			stats.Chunks, stats.Files, stats.Duration.Round(time.Millisecond), stats.Skipped, stats.Failed)
		if stats.Unchanged > 0 || stats.Removed > 0 {
			fmt.Printf("%d files unchanged, %d deleted files removed\n", stats.Unchanged, stats.Removed)
		}
		fmt.Printf("Written to %s\n", out)
	}
}

func exportExt(format string) string {
	if format == "sqlite" {
		return ".db"
	}
	return "." + format
}

func runWatch(path string, debounceMs int) {
	absPath, _ := filepath.Abs(path)
	slog.Info("watching for changes", "path", absPath, "debounce_ms", debounceMs)

	cfg := loadConfig(absPath)

	chunker, _, err := createChunker(cfg)
	if err != nil {
		slog.Error("failed to create chunker", "error", err)
		os.Exit(1)
	}

	// Append so earlier exports stay valid
	sink, err := createSink(cfg.Export.Format, cfg.ExportPath(absPath), true)
	if err != nil {
		slog.Error("failed to create sink", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// Cleanup on exit
	defer func() {
		sink.Close()
		chunker.Close()
	}()

	extractor := index.New(index.Config{
		ProjectDir: absPath,
		Config:     cfg,
		Chunker:    chunker,
		Sink:       sink,
	})

	watcher, err := index.NewWatcher(index.WatcherConfig{
		Extractor:    extractor,
		DebounceTime: time.Duration(debounceMs) * time.Millisecond,
		OnChange: func(fc types.FileChunks) {
			switch {
			case fc.Removed:
				fmt.Printf("[watch] Removed: %s\n", fc.Path)
			case fc.Err != nil:
				fmt.Printf("[watch] Failed: %s (%v)\n", fc.Path, fc.Err)
			default:
				fmt.Printf("[watch] Extracted: %s (%d chunks)\n", fc.Path, len(fc.Chunks))
			}
		},
	})
	if err != nil {
		slog.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}
	defer watcher.Close()

	fmt.Printf("Watching %s for changes (press Ctrl+C to stop)\n", absPath)

	// Run watcher (blocks until context is cancelled)
	if err := watcher.Watch(ctx); err != nil {
		if ctx.Err() != nil {
			slog.Info("watcher stopped")
		} else {
			slog.Error("watcher error", "error", err)
			os.Exit(1)
		}
	}
}

func runServe(stdio bool) {
	if !stdio {
		fmt.Fprintln(os.Stderr, "Only stdio transport is supported, use --stdio")
		os.Exit(1)
	}

	cwd, _ := os.Getwd()
	slog.Info("starting MCP server", "stdio", stdio)

	cfg := loadConfig(cwd)

	chunker, registry, err := createChunker(cfg)
	if err != nil {
		slog.Error("failed to create chunker", "error", err)
		os.Exit(1)
	}
	defer chunker.Close()

	srv, err := mcp.New(mcp.Config{
		ProjectDir: cwd,
		Config:     cfg,
		Chunker:    chunker,
		Languages:  registry,
		Version:    version,
	})
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.ServeStdio(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func runLanguages() {
	cwd, _ := os.Getwd()
	cfg := loadConfig(cwd)

	chunker, registry, err := createChunker(cfg)
	if err != nil {
		slog.Error("failed to create chunker", "error", err)
		os.Exit(1)
	}
	defer chunker.Close()

	if registry == nil {
		for _, label := range chunker.SupportedLanguages() {
			fmt.Println(label)
		}
		return
	}

	fmt.Printf("%-12s %-22s %-9s %-9s %s\n", "LANGUAGE", "EXTENSIONS", "MAX DEPTH", "MIN LINES", "NODE KINDS")
	for _, l := range registry.Languages() {
		fmt.Printf("%-12s %-22s %-9d %-9d %s\n",
			l.Label, strings.Join(l.Extensions, " "), l.MaxDepth, l.MinLines, strings.Join(l.NodeKinds, ", "))
	}
}

func runConfigInit() {
	cwd, _ := os.Getwd()
	cfg := config.DefaultConfig()

	if err := config.Save(cwd, cfg); err != nil {
		slog.Error("failed to save config", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Created config at %s\n", config.ConfigPath(cwd))
}

func runConfigValidate() {
	cwd, _ := os.Getwd()

	path := cfgFile
	if path == "" {
		path = config.ConfigPath(cwd)
	}
	cfg, warnings, err := config.LoadFile(path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	errs := config.Validate(cfg)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Printf("Error: %v\n", e)
		}
		os.Exit(1)
	}

	// Overrides must name registered languages
	chunker, _, err := createChunker(cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	chunker.Close()

	fmt.Println("Configuration is valid")
}
