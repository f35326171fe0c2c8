package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/id/uuid"
	"github.com/snapradar/archive-crawler/internal/server"
)

type crawlFlags struct {
	domain      string
	from        string
	to          string
	mode        string
	fallback    bool
	strategy    string
	concurrency int
	batchSize   int
}

func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl job and exits",
		Long: `Discovers snapshots for one domain and date range, extracts their
content, and prints a summary when the job finishes. Interrupting the
process stops the job at the next batch boundary; re-running the same
job resumes where it left off.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVar(&flags.domain, "domain", "", "domain to crawl (required)")
	cmd.Flags().StringVar(&flags.from, "from", "", "start date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&flags.to, "to", "", "end date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "source mode: wayback_only, commoncrawl_only, or hybrid")
	cmd.Flags().BoolVar(&flags.fallback, "fallback", true, "fall back to the secondary source on failure")
	cmd.Flags().StringVar(&flags.strategy, "fallback-strategy", "", "immediate, retry_then_fallback, or circuit_breaker")
	cmd.Flags().IntVar(&flags.concurrency, "concurrency", 0, "extraction workers per batch")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "records per batch")
	_ = cmd.MarkFlagRequired("domain")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func runCrawl(ctx context.Context, flags crawlFlags) error {
	from, err := time.Parse("2006-01-02", flags.from)
	if err != nil {
		return fmt.Errorf("--from must be a YYYY-MM-DD date")
	}
	to, err := time.Parse("2006-01-02", flags.to)
	if err != nil {
		return fmt.Errorf("--to must be a YYYY-MM-DD date")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = app.Close(closeCtx)
	}()

	jobID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("allocate job id: %w", err)
	}
	job := archive.CrawlJob{
		ID:     jobID,
		Domain: flags.domain,
		From:   from,
		To:     to,
		Config: archive.JobConfig{
			Mode:             archive.SourceMode(flags.mode),
			FallbackEnabled:  flags.fallback,
			FallbackStrategy: archive.FallbackStrategy(flags.strategy),
			ConcurrencyLimit: flags.concurrency,
			BatchSize:        flags.batchSize,
		},
		Status:    archive.JobStatusQueued,
		Submitted: time.Now().UTC(),
	}

	runErr := app.RunJob(ctx, job)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("crawl job: %w", runErr)
	}

	stored, err := app.Job(context.Background(), jobID)
	if err != nil {
		return fmt.Errorf("load job summary: %w", err)
	}
	fmt.Printf("job %s finished with status %s\n", stored.ID, stored.Status)
	fmt.Printf("  discovered: %d\n", stored.Counters.Discovered)
	fmt.Printf("  filtered:   %d\n", stored.Counters.Filtered)
	fmt.Printf("  extracted:  %d\n", stored.Counters.Extracted)
	fmt.Printf("  failed:     %d\n", stored.Counters.Failed)
	if stored.ErrorText != "" {
		fmt.Printf("  error:      %s\n", stored.ErrorText)
	}
	return runErr
}
