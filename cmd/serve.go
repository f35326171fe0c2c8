package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapradar/archive-crawler/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the crawl job API server",
		Long: `Starts the HTTP server that accepts crawl jobs, reports their progress,
and exposes source health and Prometheus metrics. Jobs run on a worker
pool inside the same process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			app, err := server.Build(cmd.Context(), &cfg)
			if err != nil {
				return fmt.Errorf("build server: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}
