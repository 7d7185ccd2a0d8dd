package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "canonry",
		Short: "Canonry orchestrator - LLM enrichment for world-building libraries",
		Long: `Canonry drives batch enrichment of a world-building entity library.
It groups entities into reviewable batches, dispatches them to enrichment
workers, and applies accepted patches back to the library on disk.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
