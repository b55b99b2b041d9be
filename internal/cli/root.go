// Package cli provides the command-line interface for mcpbench.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcpbench/mcpbench/internal/cache"
	"github.com/mcpbench/mcpbench/internal/config"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	logger  *slog.Logger
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "mcpbench",
	Short: "Benchmark MCP-enabled coding agents against baseline agents",
	Long: `mcpbench evaluates AI coding agents, with and without MCP servers,
across benchmark task suites run in isolated Docker containers.

Features:
  - Content-addressed result caching (re-runs are free)
  - Staggered cold starts so Docker isn't overwhelmed by the first wave
  - Automatic one-shot retry of zero-iteration timeouts
  - Side-by-side mcp vs baseline run types over the same tasks`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for help
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		// Setup logger
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}))

		// Load config
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newStore builds the result cache store from the loaded config.
func newStore() (*cache.Store, error) {
	return cache.New(cache.Options{
		Dir:          cfg.Cache.Dir,
		TTL:          time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		MaxSizeBytes: int64(cfg.Cache.MaxSizeMB) * 1024 * 1024,
		Version:      Version,
		Logger:       logger,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcpbench.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(evalCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(tasksCmd)
	rootCmd.AddCommand(versionCmd)
}

// Version information (set by build flags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("mcpbench version %s\n", Version)
		fmt.Printf("  commit: %s\n", Commit)
		fmt.Printf("  built:  %s\n", BuildDate)
	},
}
