// Package builtin registers all built-in providers with the default registry.
package builtin

import (
	tsChunker "github.com/spetr/mcp-codechunk/builtin/chunking/treesitter"
	"github.com/spetr/mcp-codechunk/builtin/sink/jsonl"
	"github.com/spetr/mcp-codechunk/builtin/sink/sqlite"
	"github.com/spetr/mcp-codechunk/pkg/provider"
)

func init() {
	// Register chunking strategies
	provider.RegisterChunking("treesitter", func(cfg provider.ChunkingConfig) (provider.ChunkingStrategy, error) {
		registry := tsChunker.DefaultRegistry()
		if len(cfg.Overrides) > 0 {
			var err error
			registry, err = registry.WithOverrides(cfg.Overrides)
			if err != nil {
				return nil, err
			}
		}
		return tsChunker.New(tsChunker.Config{
			Registry:          registry,
			AllowSyntaxErrors: cfg.AllowSyntaxErrors,
			FullRange:         cfg.FullRange,
		}), nil
	})

	// Register sinks
	provider.RegisterSink("jsonl", func(cfg provider.SinkConfig) (provider.ChunkSink, error) {
		s, err := jsonl.New(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	provider.RegisterSink("sqlite", func(cfg provider.SinkConfig) (provider.ChunkSink, error) {
		s, err := sqlite.New(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
