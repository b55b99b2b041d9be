package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpbench/mcpbench/internal/cache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the task result cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache hit rate, entry count, and size",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStore()
		if err != nil {
			return err
		}
		printCacheStats(store.Stats())
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached task result",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStore()
		if err != nil {
			return err
		}
		count, err := store.Clear()
		if err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		fmt.Printf("Removed %d cache entries from %s\n", count, store.Dir())
		return nil
	},
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <version>",
	Short: "Delete cached results produced by a specific version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newStore()
		if err != nil {
			return err
		}
		count, err := store.InvalidateVersion(args[0])
		if err != nil {
			return fmt.Errorf("invalidating cache: %w", err)
		}
		fmt.Printf("Removed %d cache entries for version %s\n", count, args[0])
		return nil
	},
}

func printCacheStats(stats cache.Stats) {
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Println(" Result Cache")
	fmt.Println("─────────────────────────────────────────────────────────────")
	fmt.Printf(" Hits:     %d\n", stats.Hits)
	fmt.Printf(" Misses:   %d\n", stats.Misses)
	fmt.Printf(" Hit rate: %.1f%%\n", stats.HitRate()*100)
	fmt.Printf(" Entries:  %d\n", stats.TotalEntries)
	fmt.Printf(" Size:     %.2f MB\n", float64(stats.SizeBytes)/(1024*1024))
	fmt.Println()
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheInvalidateCmd)
}
