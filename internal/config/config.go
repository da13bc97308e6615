// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/spetr/mcp-codechunk/pkg/provider"
)

// Config represents the complete configuration.
type Config struct {
	Chunking ChunkingConfig `mapstructure:"chunking" yaml:"chunking"`
	Index    IndexConfig    `mapstructure:"index" yaml:"index"`
	Limits   LimitsConfig   `mapstructure:"limits" yaml:"limits"`
	Export   ExportConfig   `mapstructure:"export" yaml:"export"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	MCP      MCPConfig      `mapstructure:"mcp" yaml:"mcp"`
}

// ChunkingConfig contains chunking strategy configuration.
type ChunkingConfig struct {
	Strategy          string                    `mapstructure:"strategy" yaml:"strategy"`                       // treesitter
	AllowSyntaxErrors bool                      `mapstructure:"allow_syntax_errors" yaml:"allow_syntax_errors"` // chunk files with syntax errors
	FullRange         bool                      `mapstructure:"full_range" yaml:"full_range"`                   // record node ends in chunk ranges
	Languages         map[string]LanguageConfig `mapstructure:"languages" yaml:"languages"`                     // per-language overrides by label
}

// LanguageConfig overrides traversal limits or the grammar for one language label.
type LanguageConfig struct {
	MaxDepth *int   `mapstructure:"max_depth" yaml:"max_depth,omitempty"`
	MinLines int    `mapstructure:"min_lines" yaml:"min_lines,omitempty"`
	Grammar  string `mapstructure:"grammar" yaml:"grammar,omitempty"` // python, javascript, typescript, tsx
}

// Grammars lists the grammar names a language override may select.
var Grammars = []string{"python", "javascript", "typescript", "tsx"}

// IndexConfig contains file selection configuration.
type IndexConfig struct {
	Include []string `mapstructure:"include" yaml:"include"` // glob patterns to include
	Exclude []string `mapstructure:"exclude" yaml:"exclude"` // glob patterns to exclude
}

// LimitsConfig contains resource limits.
type LimitsConfig struct {
	MaxFileSize string        `mapstructure:"max_file_size" yaml:"max_file_size"` // e.g., "1MB"
	MaxFiles    int           `mapstructure:"max_files" yaml:"max_files"`         // max files to extract
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`             // extraction timeout
	Workers     int           `mapstructure:"workers" yaml:"workers"`             // parallel workers
}

// ExportConfig contains chunk sink configuration.
type ExportConfig struct {
	Format string `mapstructure:"format" yaml:"format"` // jsonl, sqlite
	Path   string `mapstructure:"path" yaml:"path"`     // output path, relative to the project root
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// MCPConfig contains MCP server configuration.
type MCPConfig struct {
	// MaxChunks caps the chunks returned by a single extract_chunks call.
	MaxChunks int `mapstructure:"max_chunks" yaml:"max_chunks"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			Strategy: "treesitter",
		},
		Index: IndexConfig{
			Include: []string{
				"**/*.py",
				"**/*.js", "**/*.jsm", "**/*.cjs", "**/*.mjs",
				"**/*.ts", "**/*.jsx", "**/*.tsx",
			},
			Exclude: []string{
				"**/node_modules/**", "**/.git/**", "**/vendor/**",
				"**/dist/**", "**/build/**", "**/__pycache__/**", "**/.venv/**",
				"**/*.min.js", "**/*.d.ts",
			},
		},
		Limits: LimitsConfig{
			MaxFileSize: "1MB",
			MaxFiles:    50000,
			Timeout:     30 * time.Minute,
			Workers:     0, // 0 = use runtime.NumCPU()
		},
		Export: ExportConfig{
			Format: "jsonl",
			Path:   filepath.Join(".mcp-codechunk", "chunks.jsonl"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		MCP: MCPConfig{
			MaxChunks: 200,
		},
	}
}

// ConfigDir returns the path to .mcp-codechunk directory.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".mcp-codechunk")
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "config.yaml")
}

// ExportPath resolves the export path against the project root.
func (c *Config) ExportPath(projectRoot string) string {
	if filepath.IsAbs(c.Export.Path) {
		return c.Export.Path
	}
	return filepath.Join(projectRoot, c.Export.Path)
}

// Load loads configuration from file, falling back to defaults.
func Load(projectRoot string) (*Config, []string, error) {
	return LoadFile(ConfigPath(projectRoot))
}

// LoadFile loads configuration from an explicit path.
func LoadFile(configPath string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	// Check if config exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
		return cfg, warnings, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CODECHUNK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "treesitter"
		warnings = append(warnings, "Using default chunking strategy: treesitter")
	}
	if len(cfg.Index.Include) == 0 {
		cfg.Index.Include = DefaultConfig().Index.Include
		warnings = append(warnings, "No include patterns, using defaults")
	}
	if cfg.Limits.MaxFileSize == "" {
		cfg.Limits.MaxFileSize = "1MB"
	}
	if cfg.Limits.MaxFiles == 0 {
		cfg.Limits.MaxFiles = 50000
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = "jsonl"
	}
	if cfg.Export.Path == "" {
		cfg.Export.Path = DefaultConfig().Export.Path
	}
	if cfg.MCP.MaxChunks == 0 {
		cfg.MCP.MaxChunks = 200
	}

	return cfg, warnings, nil
}

// Save saves configuration to file.
func Save(projectRoot string, cfg *Config) error {
	configDir := ConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(projectRoot))
	v.SetConfigType("yaml")

	// Set all values
	v.Set("chunking", map[string]any{
		"strategy":            cfg.Chunking.Strategy,
		"allow_syntax_errors": cfg.Chunking.AllowSyntaxErrors,
		"full_range":          cfg.Chunking.FullRange,
		"languages":           languagesMap(cfg.Chunking.Languages),
	})
	v.Set("index", map[string]any{
		"include": cfg.Index.Include,
		"exclude": cfg.Index.Exclude,
	})
	v.Set("limits", map[string]any{
		"max_file_size": cfg.Limits.MaxFileSize,
		"max_files":     cfg.Limits.MaxFiles,
		"timeout":       cfg.Limits.Timeout.String(),
		"workers":       cfg.Limits.Workers,
	})
	v.Set("export", map[string]any{
		"format": cfg.Export.Format,
		"path":   cfg.Export.Path,
	})
	v.Set("logging", map[string]any{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	})
	v.Set("mcp", map[string]any{
		"max_chunks": cfg.MCP.MaxChunks,
	})

	return v.WriteConfig()
}

func languagesMap(langs map[string]LanguageConfig) map[string]any {
	out := make(map[string]any, len(langs))
	for label, l := range langs {
		m := map[string]any{}
		if l.MaxDepth != nil {
			m["max_depth"] = *l.MaxDepth
		}
		if l.MinLines != 0 {
			m["min_lines"] = l.MinLines
		}
		if l.Grammar != "" {
			m["grammar"] = l.Grammar
		}
		out[label] = m
	}
	return out
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	// Validate chunking
	validChunkingStrategies := map[string]bool{
		"treesitter": true,
	}
	if !validChunkingStrategies[cfg.Chunking.Strategy] {
		errs = append(errs, fmt.Errorf("invalid chunking strategy: %s", cfg.Chunking.Strategy))
	}

	labels := make([]string, 0, len(cfg.Chunking.Languages))
	for label := range cfg.Chunking.Languages {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		l := cfg.Chunking.Languages[label]
		if l.MaxDepth != nil && *l.MaxDepth < 0 {
			errs = append(errs, fmt.Errorf("invalid max_depth for %s: %d", label, *l.MaxDepth))
		}
		if l.MinLines < 0 {
			errs = append(errs, fmt.Errorf("invalid min_lines for %s: %d", label, l.MinLines))
		}
		if l.Grammar != "" && !slices.Contains(Grammars, l.Grammar) {
			errs = append(errs, fmt.Errorf("invalid grammar for %s: %s (valid: %s)", label, l.Grammar, strings.Join(Grammars, ", ")))
		}
	}

	// Validate limits
	if size, err := ParseSize(cfg.Limits.MaxFileSize); err != nil {
		errs = append(errs, fmt.Errorf("invalid max file size: %w", err))
	} else if size <= 0 {
		errs = append(errs, fmt.Errorf("invalid max file size: %q", cfg.Limits.MaxFileSize))
	}
	if cfg.Limits.Workers < 0 {
		errs = append(errs, fmt.Errorf("invalid workers: %d", cfg.Limits.Workers))
	}

	// Validate export
	validFormats := []string{"jsonl", "sqlite"}
	if !slices.Contains(validFormats, cfg.Export.Format) {
		errs = append(errs, fmt.Errorf("invalid export format: %s (valid: jsonl, sqlite)", cfg.Export.Format))
	}

	// Validate logging
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "": true,
	}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, fmt.Errorf("invalid log level: %s", cfg.Logging.Level))
	}
	if cfg.Logging.Format != "" && cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		errs = append(errs, fmt.Errorf("invalid log format: %s", cfg.Logging.Format))
	}

	return errs
}

// ChunkingProvider converts the chunking section into provider configuration.
func (c *Config) ChunkingProvider() provider.ChunkingConfig {
	pc := provider.ChunkingConfig{
		Strategy:          c.Chunking.Strategy,
		AllowSyntaxErrors: c.Chunking.AllowSyntaxErrors,
		FullRange:         c.Chunking.FullRange,
	}
	if len(c.Chunking.Languages) > 0 {
		pc.Overrides = make(map[string]provider.LanguageOverride, len(c.Chunking.Languages))
		for label, l := range c.Chunking.Languages {
			pc.Overrides[label] = provider.LanguageOverride{MaxDepth: l.MaxDepth, MinLines: l.MinLines, Grammar: l.Grammar}
		}
	}
	return pc
}

// Hash returns a hash of configuration that affects chunk output.
// Sinks that cache file hashes store it to detect stale exports.
func (c *Config) Hash() string {
	labels := make([]string, 0, len(c.Chunking.Languages))
	for label := range c.Chunking.Languages {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var b strings.Builder
	fmt.Fprintf(&b, "%s:%t:%t", c.Chunking.Strategy, c.Chunking.AllowSyntaxErrors, c.Chunking.FullRange)
	for _, label := range labels {
		l := c.Chunking.Languages[label]
		depth := "-"
		if l.MaxDepth != nil {
			depth = fmt.Sprint(*l.MaxDepth)
		}
		fmt.Fprintf(&b, ":%s=%s/%d/%s", label, depth, l.MinLines, l.Grammar)
	}

	h := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(h[:])
}

// ParseSize parses sizes like "512KB" or "1MB" into bytes.
// The number must be a non-negative integer.
func ParseSize(s string) (int64, error) {
	orig := s
	s = strings.ToUpper(strings.TrimSpace(s))

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size %q", orig)
	}
	return value * multiplier, nil
}
