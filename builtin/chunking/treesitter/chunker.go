// Package treesitter implements chunking using Tree-sitter for AST-aware splitting.
package treesitter

import (
	"context"
	"fmt"
	"iter"
	"os"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

// Config contains configuration for TreeSitter chunking.
type Config struct {
	Registry          *Registry // Defaults to DefaultRegistry()
	AllowSyntaxErrors bool      // Chunk trees that contain ERROR nodes
	FullRange         bool      // Record node ends in Chunk.Range.End
}

// parseFunc turns content into a syntax tree for one language.
type parseFunc func(ctx context.Context, lang LanguageConfig, content []byte) (*sitter.Tree, error)

// Chunker implements AST-aware chunking using Tree-sitter.
// It holds no per-file state and is safe for concurrent use.
type Chunker struct {
	config   Config
	registry *Registry
	parse    parseFunc
}

// New creates a new TreeSitter chunker.
func New(cfg Config) *Chunker {
	if cfg.Registry == nil {
		cfg.Registry = DefaultRegistry()
	}
	return &Chunker{
		config:   cfg,
		registry: cfg.Registry,
		parse:    parseTree,
	}
}

// Name returns the strategy name.
func (c *Chunker) Name() string {
	return "treesitter"
}

// Registry returns the language registry used by the chunker.
func (c *Chunker) Registry() *Registry {
	return c.registry
}

// SupportedLanguages returns the registered language labels.
func (c *Chunker) SupportedLanguages() []string {
	return c.registry.Labels()
}

// SupportsFile checks if a file path has a registered extension.
func (c *Chunker) SupportsFile(path string) bool {
	_, ok := c.registry.ResolvePath(path)
	return ok
}

// Close releases any resources. Parsers are created per file, so there is
// nothing to release.
func (c *Chunker) Close() error {
	return nil
}

// parseTree parses content with a fresh parser. Parsers are not safe for
// concurrent use, so each call gets its own.
func parseTree(ctx context.Context, lang LanguageConfig, content []byte) (*sitter.Tree, error) {
	language, ok := lang.Grammar.Language()
	if !ok {
		return nil, fmt.Errorf("unknown grammar %q", lang.Grammar)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(language)

	return parser.ParseCtx(ctx, nil, content)
}

// Chunks lazily chunks an in-memory file. The file is parsed when
// iteration starts and the tree is released when it ends.
func (c *Chunker) Chunks(ctx context.Context, file *types.SourceFile) iter.Seq2[*types.Chunk, error] {
	return func(yield func(*types.Chunk, error) bool) {
		lang, ok := c.registry.ResolvePath(file.Path)
		if !ok {
			return
		}

		tree, err := c.parse(ctx, lang, file.Content)
		if err != nil {
			if ctx.Err() != nil {
				yield(nil, fmt.Errorf("%w: %s: %v", types.ErrCancelled, file.Path, ctx.Err()))
				return
			}
			yield(nil, fmt.Errorf("%w: %s: %v", types.ErrParseError, file.Path, err))
			return
		}
		defer tree.Close()

		root := tree.RootNode()
		if root == nil {
			yield(nil, fmt.Errorf("%w: %s: parser returned no root node", types.ErrParseError, file.Path))
			return
		}
		if root.HasError() && !c.config.AllowSyntaxErrors {
			yield(nil, fmt.Errorf("%w: %s: syntax error near %s", types.ErrParseError, file.Path, firstErrorPoint(root)))
			return
		}

		opts := WalkOptions{FilePath: file.Path, FullRange: c.config.FullRange}
		for chunk, err := range Walk(NewTextBuffer(file.Content), lang, 0, WrapNode(root), opts) {
			if err != nil {
				err = fmt.Errorf("%s: %w", file.Path, err)
			}
			if !yield(chunk, err) {
				return
			}
		}
	}
}

// Chunk splits an in-memory file into chunks.
func (c *Chunker) Chunk(file *types.SourceFile) ([]*types.Chunk, error) {
	return Collect(c.Chunks(context.Background(), file))
}

// ExtractFile reads a file and returns its chunks in source order.
// Files with an unregistered extension return no chunks without being
// read or parsed.
func (c *Chunker) ExtractFile(ctx context.Context, path string) ([]*types.Chunk, error) {
	if !c.SupportsFile(path) {
		return nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return Collect(c.Chunks(ctx, &types.SourceFile{Path: path, Content: content}))
}

// Collect materializes a chunk sequence, stopping at the first error.
func Collect(seq iter.Seq2[*types.Chunk, error]) ([]*types.Chunk, error) {
	var chunks []*types.Chunk
	for chunk, err := range seq {
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// firstErrorPoint finds the first ERROR or MISSING node in pre-order.
func firstErrorPoint(root *sitter.Node) types.Point {
	var find func(n *sitter.Node) (types.Point, bool)
	find = func(n *sitter.Node) (types.Point, bool) {
		if n.Type() == "ERROR" || n.IsMissing() {
			return toPoint(n.StartPoint()), true
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			child := n.Child(i)
			if child == nil || !child.HasError() {
				continue
			}
			if p, ok := find(child); ok {
				return p, true
			}
		}
		return types.Point{}, false
	}

	if p, ok := find(root); ok {
		return p
	}
	return toPoint(root.StartPoint())
}

var _ provider.ChunkingStrategy = (*Chunker)(nil)
