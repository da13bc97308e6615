// mcp-codechunk extracts function and class chunks from source code.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	_ "github.com/spetr/mcp-codechunk/builtin"
	tsChunker "github.com/spetr/mcp-codechunk/builtin/chunking/treesitter"
	"github.com/spetr/mcp-codechunk/internal/config"
	"github.com/spetr/mcp-codechunk/pkg/provider"
)

var (
	version   = "0.1.0"
	cfgFile   string
	logLevel  string
	logFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcp-codechunk",
	Short: "Extract function and class chunks from source code",
	Long: `mcp-codechunk parses source files with tree-sitter and extracts
function and class definitions as labeled chunks for downstream indexing.

It supports:
- Python, JavaScript, TypeScript, JSX and TSX
- JSONL and SQLite export
- Watch mode with automatic re-extraction
- An MCP server over stdio`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcp-codechunk %s\n", version)
		fmt.Printf("Go version: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

var chunkCmd = &cobra.Command{
	Use:   "chunk <file>",
	Short: "Extract chunks from a single file",
	Long: `Extract function and class chunks from a single source file.

Examples:
  mcp-codechunk chunk app/main.py
  mcp-codechunk chunk src/index.ts --limit 5 --format text`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		runChunk(args[0], limit, format)
	},
}

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Extract chunks from a project and export them",
	Long:  `Extract chunks from every matching file and write them to a JSONL file or SQLite database. If no path is provided, uses the current directory.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}

		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("out")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if dryRun {
			runDryRun(path)
		} else {
			runIndex(path, format, out)
		}
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Watch for file changes and re-extract automatically",
	Long:  `Watch for file changes and re-extract modified files into the configured export. If no path is provided, watches the current directory.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "."
		if len(args) > 0 {
			path = args[0]
		}
		debounce, _ := cmd.Flags().GetInt("debounce")
		runWatch(path, debounce)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start MCP server",
	Run: func(cmd *cobra.Command, args []string) {
		stdio, _ := cmd.Flags().GetBool("stdio")
		runServe(stdio)
	},
}

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported languages",
	Run: func(cmd *cobra.Command, args []string) {
		runLanguages()
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create default configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigInit()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Run: func(cmd *cobra.Command, args []string) {
		runConfigValidate()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: .mcp-codechunk/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	chunkCmd.Flags().IntP("limit", "l", 0, "maximum chunks (0 = all)")
	chunkCmd.Flags().StringP("format", "f", "json", "output format (json, text)")

	indexCmd.Flags().StringP("format", "f", "", "export format (jsonl, sqlite; default from config)")
	indexCmd.Flags().StringP("out", "o", "", "output file, '-' for stdout (default from config)")
	indexCmd.Flags().Bool("dry-run", false, "show what would be extracted")

	watchCmd.Flags().Int("debounce", 500, "debounce time in milliseconds")

	serveCmd.Flags().Bool("stdio", false, "use stdio transport (for MCP)")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(chunkCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(languagesCmd)
	rootCmd.AddCommand(configCmd)
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}

// loadConfig loads the project config, or --config when given.
// Logging settings from the file apply unless set by flag.
func loadConfig(projectDir string) *config.Config {
	var (
		cfg      *config.Config
		warnings []string
		err      error
	)
	if cfgFile != "" {
		cfg, warnings, err = config.LoadFile(cfgFile)
	} else {
		cfg, warnings, err = config.Load(projectDir)
	}
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	flags := rootCmd.PersistentFlags()
	relog := false
	if !flags.Changed("log-level") && cfg.Logging.Level != "" {
		logLevel = cfg.Logging.Level
		relog = true
	}
	if !flags.Changed("log-format") && cfg.Logging.Format != "" {
		logFormat = cfg.Logging.Format
		relog = true
	}
	if relog {
		setupLogging()
	}

	for _, w := range warnings {
		slog.Debug(w)
	}

	if errs := config.Validate(cfg); len(errs) > 0 {
		for _, e := range errs {
			slog.Error("invalid config", "error", e)
		}
		os.Exit(1)
	}
	return cfg
}

// createChunker creates the chunking strategy based on config.
func createChunker(cfg *config.Config) (provider.ChunkingStrategy, *tsChunker.Registry, error) {
	chunker, err := provider.DefaultRegistry.CreateChunking(cfg.Chunking.Strategy, cfg.ChunkingProvider())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create chunker: %w", err)
	}

	var registry *tsChunker.Registry
	if ts, ok := chunker.(*tsChunker.Chunker); ok {
		registry = ts.Registry()
	}
	return chunker, registry, nil
}

// createSink creates the export sink. An out of "-" writes JSONL to stdout.
func createSink(format, out string, appendOutput bool) (provider.ChunkSink, error) {
	sinkCfg := provider.SinkConfig{Path: out, Append: appendOutput}
	if out == "-" {
		if format != "jsonl" {
			return nil, fmt.Errorf("stdout export requires jsonl format")
		}
		sinkCfg = provider.SinkConfig{Writer: os.Stdout}
	}
	return provider.DefaultRegistry.CreateSink(format, sinkCfg)
}
