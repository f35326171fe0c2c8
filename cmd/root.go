// Package cmd defines the CLI commands for the archive-crawler executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/snapradar/archive-crawler/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive-crawler",
		Short: "Discovers and extracts historical snapshots from web archives",
		Long: `archive-crawler queries the Wayback Machine CDX API and the Common Crawl
index for a domain and date range, filters the discovered snapshots, and
extracts readable content from each one.

Run "serve" to expose the job API over HTTP, or "crawl" for a one-shot
crawl from the command line.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to the YAML config file")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
