package treesitter

import (
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	tstype "github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/spetr/mcp-codechunk/pkg/provider"
	"github.com/spetr/mcp-codechunk/pkg/types"
)

// Grammar names a tree-sitter grammar.
type Grammar string

const (
	GrammarPython     Grammar = "python"
	GrammarJavaScript Grammar = "javascript"
	GrammarTypeScript Grammar = "typescript"
	GrammarTSX        Grammar = "tsx"
)

// Language returns the tree-sitter language for the grammar.
func (g Grammar) Language() (*sitter.Language, bool) {
	switch g {
	case GrammarPython:
		return python.GetLanguage(), true
	case GrammarJavaScript:
		return javascript.GetLanguage(), true
	case GrammarTypeScript:
		return tstype.GetLanguage(), true
	case GrammarTSX:
		return tsx.GetLanguage(), true
	}
	return nil, false
}

// LanguageConfig holds the chunking rules for one source language.
type LanguageConfig struct {
	Label      string   // Attached to every chunk produced under this config
	Grammar    Grammar  // Parser grammar
	Extensions []string // File extensions including the leading dot
	NodeKinds  []string // Node categories considered chunk-worthy
	MaxDepth   int      // Nodes deeper than this (root is 0) are never visited
	MinLines   int      // Minimum inclusive line span of a matching node

	kinds map[string]struct{}
}

// Matches reports whether kind is one of the configured node kinds.
func (c *LanguageConfig) Matches(kind string) bool {
	if c.kinds != nil {
		_, ok := c.kinds[kind]
		return ok
	}
	return slices.Contains(c.NodeKinds, kind)
}

func (c *LanguageConfig) validate() error {
	switch {
	case c.Label == "":
		return fmt.Errorf("%w: language label is empty", types.ErrInvalidConfig)
	case len(c.Extensions) == 0:
		return fmt.Errorf("%w: %s: no extensions", types.ErrInvalidConfig, c.Label)
	case len(c.NodeKinds) == 0:
		return fmt.Errorf("%w: %s: no node kinds", types.ErrInvalidConfig, c.Label)
	case c.MaxDepth < 0:
		return fmt.Errorf("%w: %s: max depth %d is negative", types.ErrInvalidConfig, c.Label, c.MaxDepth)
	case c.MinLines < 1:
		return fmt.Errorf("%w: %s: min lines %d must be at least 1", types.ErrInvalidConfig, c.Label, c.MinLines)
	}
	if _, ok := c.Grammar.Language(); !ok {
		return fmt.Errorf("%w: %s: unknown grammar %q", types.ErrInvalidConfig, c.Label, c.Grammar)
	}
	return nil
}

func (c LanguageConfig) clone() LanguageConfig {
	c.Extensions = slices.Clone(c.Extensions)
	c.NodeKinds = slices.Clone(c.NodeKinds)
	c.kinds = make(map[string]struct{}, len(c.NodeKinds))
	for _, k := range c.NodeKinds {
		c.kinds[k] = struct{}{}
	}
	return c
}

// Registry maps file extensions to language configurations.
// It is immutable once built and safe for concurrent use.
type Registry struct {
	languages []LanguageConfig
	byExt     map[string]int
}

// NewRegistry builds a registry from configs in order. When two configs
// claim the same extension the first one wins.
func NewRegistry(configs ...LanguageConfig) (*Registry, error) {
	r := &Registry{
		languages: make([]LanguageConfig, 0, len(configs)),
		byExt:     make(map[string]int),
	}
	for _, cfg := range configs {
		if err := cfg.validate(); err != nil {
			return nil, err
		}
		r.languages = append(r.languages, cfg.clone())
		idx := len(r.languages) - 1
		for _, ext := range cfg.Extensions {
			if _, taken := r.byExt[ext]; !taken {
				r.byExt[ext] = idx
			}
		}
	}
	return r, nil
}

// DefaultLanguages returns the built-in language table.
func DefaultLanguages() []LanguageConfig {
	jsKinds := []string{"function_declaration", "class_declaration"}
	return []LanguageConfig{
		{
			Label:      "python",
			Grammar:    GrammarPython,
			Extensions: []string{".py"},
			NodeKinds:  []string{"function_definition", "class_definition"},
			MaxDepth:   3,
			MinLines:   4,
		},
		{
			Label:      "javascript",
			Grammar:    GrammarTSX,
			Extensions: []string{".js", ".jsm", ".cjs", ".mjs"},
			NodeKinds:  jsKinds,
			MaxDepth:   1,
			MinLines:   4,
		},
		{
			Label:      "typescript",
			Grammar:    GrammarTSX,
			Extensions: []string{".ts"},
			NodeKinds:  jsKinds,
			MaxDepth:   1,
			MinLines:   4,
		},
		{
			Label:      "jsx",
			Grammar:    GrammarTSX,
			Extensions: []string{".jsx"},
			NodeKinds:  jsKinds,
			MaxDepth:   1,
			MinLines:   4,
		},
		{
			Label:      "tsx",
			Grammar:    GrammarTSX,
			Extensions: []string{".tsx"},
			NodeKinds:  jsKinds,
			MaxDepth:   1,
			MinLines:   4,
		},
	}
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r, err := NewRegistry(DefaultLanguages()...)
	if err != nil {
		panic(err)
	}
	return r
})

// DefaultRegistry returns the registry built from DefaultLanguages.
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

// Resolve returns the configuration registered for ext (e.g. ".py").
// Unknown extensions report false; that is not an error.
func (r *Registry) Resolve(ext string) (LanguageConfig, bool) {
	idx, ok := r.byExt[ext]
	if !ok {
		return LanguageConfig{}, false
	}
	return r.languages[idx], true
}

// ResolvePath resolves the configuration for a file path by its extension.
func (r *Registry) ResolvePath(path string) (LanguageConfig, bool) {
	return r.Resolve(filepath.Ext(path))
}

// DetectLanguage returns the language label for a file path, or "".
func (r *Registry) DetectLanguage(path string) string {
	cfg, ok := r.ResolvePath(path)
	if !ok {
		return ""
	}
	return cfg.Label
}

// Lookup returns the configuration with the given label.
func (r *Registry) Lookup(label string) (LanguageConfig, bool) {
	for _, cfg := range r.languages {
		if cfg.Label == label {
			return cfg, true
		}
	}
	return LanguageConfig{}, false
}

// Languages returns the registered configurations in registration order.
func (r *Registry) Languages() []LanguageConfig {
	out := make([]LanguageConfig, len(r.languages))
	for i, cfg := range r.languages {
		out[i] = cfg.clone()
	}
	return out
}

// Labels returns the registered language labels in registration order.
func (r *Registry) Labels() []string {
	labels := make([]string, len(r.languages))
	for i, cfg := range r.languages {
		labels[i] = cfg.Label
	}
	return labels
}

// WithOverrides returns a new registry with traversal limits or grammars
// replaced for the named labels. The receiver is left untouched.
func (r *Registry) WithOverrides(overrides map[string]provider.LanguageOverride) (*Registry, error) {
	for label := range overrides {
		if _, ok := r.Lookup(label); !ok {
			return nil, fmt.Errorf("%w: override for unknown language %q", types.ErrInvalidConfig, label)
		}
	}

	configs := r.Languages()
	for i := range configs {
		o, ok := overrides[configs[i].Label]
		if !ok {
			continue
		}
		if o.MaxDepth != nil {
			configs[i].MaxDepth = *o.MaxDepth
		}
		if o.MinLines != 0 {
			configs[i].MinLines = o.MinLines
		}
		if o.Grammar != "" {
			configs[i].Grammar = Grammar(o.Grammar)
		}
	}
	return NewRegistry(configs...)
}
