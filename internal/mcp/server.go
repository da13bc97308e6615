// Package mcp implements the MCP server for chunk extraction.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	tsChunker "github.com/spetr/mcp-codechunk/builtin/chunking/treesitter"
	"github.com/spetr/mcp-codechunk/internal/config"
	"github.com/spetr/mcp-codechunk/internal/index"
	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

// Server implements the MCP server.
type Server struct {
	mcpServer  *server.MCPServer
	projectDir string
	config     *config.Config
	chunker    provider.ChunkingStrategy
	languages  *tsChunker.Registry
}

// Config contains server configuration.
type Config struct {
	ProjectDir string
	Config     *config.Config
	Chunker    provider.ChunkingStrategy
	Languages  *tsChunker.Registry // Optional, enables extension and limit details in list_languages
	Version    string
}

// New creates a new MCP server.
func New(cfg Config) (*Server, error) {
	if cfg.Chunker == nil {
		return nil, fmt.Errorf("%w: chunker is required", types.ErrInvalidConfig)
	}
	if cfg.Config == nil {
		cfg.Config = config.DefaultConfig()
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}

	s := &Server{
		projectDir: cfg.ProjectDir,
		config:     cfg.Config,
		chunker:    cfg.Chunker,
		languages:  cfg.Languages,
	}

	mcpServer := server.NewMCPServer(
		"mcp-codechunk",
		cfg.Version,
		server.WithLogging(),
	)

	s.registerTools(mcpServer)

	s.mcpServer = mcpServer
	return s, nil
}

// registerTools registers all MCP tools.
func (s *Server) registerTools(mcpServer *server.MCPServer) {
	// extract_chunks - Chunk a single file
	mcpServer.AddTool(mcp.NewTool("extract_chunks",
		mcp.WithDescription("Extract function and class chunks from a source file"),
		mcp.WithString("path", mcp.Required(), mcp.Description("File path, absolute or relative to the project root")),
		mcp.WithNumber("limit", mcp.Description("Maximum chunks to return (stops extraction early)")),
	), s.handleExtractChunks)

	// list_languages - Show registered languages
	mcpServer.AddTool(mcp.NewTool("list_languages",
		mcp.WithDescription("List supported languages with their file extensions and chunking limits"),
	), s.handleListLanguages)

	// scan_project - Chunk the whole project and report statistics
	mcpServer.AddTool(mcp.NewTool("scan_project",
		mcp.WithDescription("Extract chunks from every matching file in the project and report statistics"),
		mcp.WithString("path", mcp.Description("Directory to scan (default: project root)")),
	), s.handleScanProject)
}

// resolvePath resolves p against the project root.
func (s *Server) resolvePath(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(s.projectDir, p)
}

func (s *Server) handleExtractChunks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return mcp.NewToolResultError("path is required"), nil
	}

	limit := req.GetInt("limit", s.config.MCP.MaxChunks)
	if limit <= 0 || (s.config.MCP.MaxChunks > 0 && limit > s.config.MCP.MaxChunks) {
		limit = s.config.MCP.MaxChunks
	}

	// No registered language is an empty result, not an error
	if !s.chunker.SupportsFile(path) {
		slog.Debug("no language for file", "file", path, "ext", filepath.Ext(path))
		return extractResult(path, []*types.Chunk{}, false, false), nil
	}

	full := s.resolvePath(path)
	content, err := os.ReadFile(full)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read file: %v", err)), nil
	}

	file := &types.SourceFile{Path: path, Content: content}

	chunks := []*types.Chunk{}
	truncated := false
	for chunk, err := range s.chunker.Chunks(ctx, file) {
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extraction failed: %v", err)), nil
		}
		if limit > 0 && len(chunks) == limit {
			truncated = true
			break
		}
		chunks = append(chunks, chunk)
	}

	slog.Debug("extracted chunks", "file", path, "chunks", len(chunks), "truncated", truncated)
	return extractResult(path, chunks, true, truncated), nil
}

func extractResult(path string, chunks []*types.Chunk, supported, truncated bool) *mcp.CallToolResult {
	result := map[string]any{
		"file":      path,
		"supported": supported,
		"chunks":    chunks,
		"count":     len(chunks),
		"truncated": truncated,
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult))
}

func (s *Server) handleListLanguages(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var languages []map[string]any

	if s.languages != nil {
		for _, l := range s.languages.Languages() {
			languages = append(languages, map[string]any{
				"label":      l.Label,
				"extensions": l.Extensions,
				"node_kinds": l.NodeKinds,
				"max_depth":  l.MaxDepth,
				"min_lines":  l.MinLines,
			})
		}
	} else {
		for _, label := range s.chunker.SupportedLanguages() {
			languages = append(languages, map[string]any{"label": label})
		}
	}

	result := map[string]any{
		"strategy":  s.chunker.Name(),
		"languages": languages,
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

func (s *Server) handleScanProject(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir := s.projectDir
	if p := req.GetString("path", ""); p != "" {
		dir = s.resolvePath(p)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid path: %v", err)), nil
	}
	if !info.IsDir() {
		return mcp.NewToolResultError(fmt.Sprintf("not a directory: %s", dir)), nil
	}

	slog.Info("scanning project", "dir", dir)

	extractor := index.New(index.Config{
		ProjectDir: dir,
		Config:     s.config,
		Chunker:    s.chunker,
	})

	results, stats, err := extractor.Extract(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scan failed: %v", err)), nil
	}

	byLanguage := map[string]int{}
	var failures []map[string]string
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, map[string]string{"file": r.Path, "error": r.Err.Error()})
			continue
		}
		for _, c := range r.Chunks {
			byLanguage[c.Language]++
		}
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i]["file"] < failures[j]["file"] })

	result := map[string]any{
		"files":       stats.Files,
		"skipped":     stats.Skipped,
		"failed":      stats.Failed,
		"chunks":      stats.Chunks,
		"by_language": byLanguage,
		"duration":    stats.Duration.String(),
	}
	if len(failures) > 0 {
		result["failures"] = failures
	}

	jsonResult, _ := json.MarshalIndent(result, "", "  ")
	return mcp.NewToolResultText(string(jsonResult)), nil
}

// ServeStdio starts the server on stdio.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
