// Package server builds the application graph and runs the HTTP surface.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/snapradar/archive-crawler/internal/api"
	"github.com/snapradar/archive-crawler/internal/archive"
	"github.com/snapradar/archive-crawler/internal/breaker"
	"github.com/snapradar/archive-crawler/internal/clock/system"
	"github.com/snapradar/archive-crawler/internal/config"
	"github.com/snapradar/archive-crawler/internal/dispatcher"
	"github.com/snapradar/archive-crawler/internal/extract"
	"github.com/snapradar/archive-crawler/internal/fetcher"
	collyfetcher "github.com/snapradar/archive-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/snapradar/archive-crawler/internal/fetcher/headless"
	"github.com/snapradar/archive-crawler/internal/hash/sha256"
	"github.com/snapradar/archive-crawler/internal/headless/detector"
	"github.com/snapradar/archive-crawler/internal/id/uuid"
	"github.com/snapradar/archive-crawler/internal/logging"
	"github.com/snapradar/archive-crawler/internal/orchestrator"
	"github.com/snapradar/archive-crawler/internal/policy/ratelimit"
	"github.com/snapradar/archive-crawler/internal/progress"
	progresssinks "github.com/snapradar/archive-crawler/internal/progress/sinks"
	memorypublisher "github.com/snapradar/archive-crawler/internal/publisher/memory"
	gcppublisher "github.com/snapradar/archive-crawler/internal/publisher/pubsub"
	queuememory "github.com/snapradar/archive-crawler/internal/queue/memory"
	"github.com/snapradar/archive-crawler/internal/router"
	"github.com/snapradar/archive-crawler/internal/search"
	"github.com/snapradar/archive-crawler/internal/source/commoncrawl"
	"github.com/snapradar/archive-crawler/internal/source/wayback"
	gcsstorage "github.com/snapradar/archive-crawler/internal/storage/gcs"
	localstorage "github.com/snapradar/archive-crawler/internal/storage/local"
	memorystorage "github.com/snapradar/archive-crawler/internal/storage/memory"
	pgstore "github.com/snapradar/archive-crawler/internal/storage/postgres"
)

// App holds every long-lived dependency so shutdown can release them in
// order.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	apiServer   *api.Server
	dispatch    *dispatcher.Dispatcher
	progressHub *progress.Hub
	queue       *queuememory.Queue

	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	contents     archive.ContentStore
	resume       archive.ResumeStore
	progressRepo *pgstore.ProgressStore
	headless     *headlessfetcher.Fetcher
	registry     *prometheus.Registry
	orch         *orchestrator.Orchestrator
}

// Build wires the application graph from configuration. Memory-backed
// fallbacks keep the binary runnable with nothing but a config file.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	logger.Info("building application dependencies", zap.Int("port", cfg.Server.Port))

	blobs, err := setupBlobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	if err := setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	emitter, err := setupProgress(ctx, app)
	if err != nil {
		return nil, err
	}

	indexer := setupIndexer(app, publisher)

	rt, err := setupRouter(ctx, app)
	if err != nil {
		return nil, err
	}

	chain, err := setupExtraction(app, blobs)
	if err != nil {
		return nil, err
	}

	app.orch = orchestrator.New(
		rt,
		chain,
		app.contents,
		indexer,
		emitter,
		uuid.New(),
		system.New(),
		logger.Named("orchestrator"),
		orchestrator.Config{
			PersistRetries:    cfg.Orchestrator.PersistRetries,
			PersistRetryDelay: time.Duration(cfg.Orchestrator.PersistRetryMs) * time.Millisecond,
			DegradeThreshold:  cfg.Orchestrator.DegradeThreshold,
			FailThreshold:     cfg.Orchestrator.FailThreshold,
			IndexTimeout:      time.Duration(cfg.Orchestrator.IndexTimeoutSec) * time.Second,
		},
	)

	app.queue = queuememory.NewQueue(cfg.Orchestrator.QueueDepth)
	app.dispatch = dispatcher.New(app.queue, app.orch, logger.Named("dispatcher"), dispatcher.Config{
		Workers:    cfg.Orchestrator.Workers,
		JobTimeout: cfg.JobTimeout(),
	})

	app.apiServer, err = api.NewServer(
		app.contents,
		app.dispatch,
		rt,
		eventReaderOrNil(app.progressRepo),
		uuid.New(),
		system.New(),
		*cfg,
		app.registry,
		logger.Named("api"),
	)
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}

	return app, nil
}

// Run starts the dispatcher and HTTP server and blocks until a signal or
// context cancellation, then shuts everything down.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Orchestrator.Workers))
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := time.Duration(a.cfg.Orchestrator.ShutdownTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	return a.Close(shutdownCtx)
}

// RunJob executes one crawl job synchronously, bypassing the queue. Used by
// the one-shot CLI path.
func (a *App) RunJob(ctx context.Context, job archive.CrawlJob) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if timeout := a.cfg.JobTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.orch.Run(ctx, job)
}

// Job retrieves stored job metadata.
func (a *App) Job(ctx context.Context, jobID string) (archive.CrawlJob, error) {
	return a.contents.GetJob(ctx, jobID)
}

// Close releases all held resources.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if pg, ok := a.contents.(*pgstore.ContentStore); ok {
		pg.Close()
	}
	if pg, ok := a.resume.(*pgstore.ResumeStore); ok {
		pg.Close()
	}
	a.progressRepo.Close()
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupBlobStore(ctx context.Context, app *App) (archive.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Info("using gcs blob store", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Info("using local blob store", zap.String("dir", app.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		app.logger.Info("using in-memory blob store")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no database dsn configured, content and resume state are in-memory only")
		app.contents = memorystorage.NewContentStore()
		return nil
	}
	contents, err := pgstore.NewContentStore(ctx, pgstore.ContentStoreConfig{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetimeMin) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("content store init failed: %w", err)
	}
	app.contents = contents

	app.progressRepo, err = pgstore.NewProgressStore(ctx, app.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("progress store init failed: %w", err)
	}
	app.logger.Info("postgres stores initialized")
	return nil
}

func setupPublisher(ctx context.Context, app *App) (search.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no pubsub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.logger.Info("pubsub publisher initialized", zap.String("project", app.cfg.PubSub.ProjectID))
	return gcppublisher.New(client), nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	if app.cfg.Progress.StoreEnabled && app.progressRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(app.progressRepo, app.logger.Named("progress_store")))
	}
	promSink, err := progresssinks.NewPrometheusSink(app.registry)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)
	if app.cfg.PubSub.ProjectID != "" && app.cfg.PubSub.ProgressTopic != "" && app.pubsubClient != nil {
		sinkList = append(sinkList, progresssinks.NewTopicSink(
			gcppublisher.New(app.pubsubClient), app.cfg.PubSub.ProgressTopic,
		))
	}

	app.progressHub = progress.NewHub(progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMs) * time.Millisecond,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}, sinkList...)
	app.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return app.progressHub, nil
}

func setupIndexer(app *App, publisher search.Publisher) archive.SearchIndexer {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.IndexTopic == "" {
		app.logger.Warn("no index topic configured, extracted content is logged instead of indexed")
		return search.NewLogIndexer(app.logger.Named("indexer"))
	}
	return search.NewTopicIndexer(publisher, app.cfg.PubSub.IndexTopic)
}

func setupRouter(ctx context.Context, app *App) (*router.Router, error) {
	cfg := app.cfg

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RateLimit.DefaultRPS,
			DefaultBurst: cfg.RateLimit.DefaultBurst,
		})
	} else {
		limiter = ratelimit.New(ratelimit.Config{})
	}

	clients := []archive.SourceClient{
		wayback.New(wayback.Config{
			BaseURL:    cfg.Sources.Wayback.BaseURL,
			Timeout:    cfg.Sources.Wayback.Timeout(),
			MaxRetries: cfg.Sources.Wayback.MaxRetries,
			UserAgent:  cfg.Sources.UserAgent,
			Limiter:    limiter,
		}, app.logger.Named("wayback")),
		commoncrawl.New(commoncrawl.Config{
			BaseURL:    commonCrawlBaseURL(cfg.Sources.CommonCrawl),
			Timeout:    cfg.Sources.CommonCrawl.Timeout(),
			MaxRetries: cfg.Sources.CommonCrawl.MaxRetries,
			UserAgent:  cfg.Sources.UserAgent,
			Limiter:    limiter,
		}, app.logger.Named("commoncrawl")),
	}

	if cfg.Database.DSN != "" {
		pg, err := pgstore.NewResumeStore(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("resume store init failed: %w", err)
		}
		app.resume = pg
	} else {
		app.resume = memorystorage.NewResumeStore()
	}

	return router.New(clients, app.resume, system.New(), app.logger.Named("router"), router.Config{
		FallbackRetries:           cfg.Router.FallbackRetries,
		FallbackDelay:             time.Duration(cfg.Router.FallbackDelayMs) * time.Millisecond,
		FallbackBackoffMultiplier: cfg.Router.BackoffMultiplier,
		FallbackMaxDelay:          time.Duration(cfg.Router.MaxDelayMs) * time.Millisecond,
		MetricsRingSize:           cfg.Router.MetricsRingSize,
		BreakerConfig:             breakerConfig(cfg.Breaker),
	}), nil
}

func setupExtraction(app *App, blobs archive.BlobStore) (*extract.Chain, error) {
	cfg := app.cfg

	probe, err := collyfetcher.New(collyfetcher.Config{
		ReplayBaseURL: cfg.Fetcher.ReplayBaseURL,
		UserAgent:     cfg.Sources.UserAgent,
		Timeout:       time.Duration(cfg.Fetcher.TimeoutSeconds) * time.Second,
		RandomDelay:   time.Duration(cfg.Fetcher.RandomDelayMs) * time.Millisecond,
		MaxBodySize:   cfg.Fetcher.MaxBodyBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("colly fetcher init failed: %w", err)
	}

	var renderer archive.SnapshotFetcher = headlessfetcher.Noop{}
	if cfg.Headless.Enabled {
		app.headless, err = headlessfetcher.NewChromedp(headlessfetcher.Config{
			ReplayBaseURL:     cfg.Fetcher.ReplayBaseURL,
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Sources.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		renderer = app.headless
		app.logger.Info("headless promotion enabled", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}
	var snapshots archive.SnapshotFetcher = fetcher.NewPromoting(
		probe, renderer, detector.NewHeuristic(0), app.logger.Named("promote"),
	)
	snapshots = fetcher.NewStoring(snapshots, blobs, sha256.New(), cfg.Storage.Prefix, app.logger.Named("storing"))

	cache := extract.NewMemoryCache(time.Duration(cfg.Extraction.CacheTTLMinutes)*time.Minute, system.New())
	return extract.NewChain(
		snapshots,
		nil,
		cache,
		system.New(),
		app.logger.Named("extract"),
		extract.Config{
			StrategyTimeout: time.Duration(cfg.Extraction.StrategyTimeoutSeconds) * time.Second,
			AcceptThreshold: cfg.Extraction.AcceptThreshold,
			BreakerConfig:   breakerConfig(cfg.Breaker),
		},
	), nil
}

func breakerConfig(cfg config.BreakerConfig) breaker.Config {
	return breaker.Config{
		FailureThreshold:   cfg.FailureThreshold,
		SuccessThreshold:   cfg.SuccessThreshold,
		OpenTimeout:        time.Duration(cfg.OpenTimeoutSeconds) * time.Second,
		ExponentialBackoff: cfg.ExponentialBackoff,
		BackoffFactor:      cfg.BackoffFactor,
		MaxTimeout:         time.Duration(cfg.MaxTimeoutSeconds) * time.Second,
	}
}

// commonCrawlBaseURL joins the index name onto the base when both are set;
// the client's own default applies otherwise.
func commonCrawlBaseURL(cfg config.SourceConfig) string {
	if cfg.BaseURL != "" && cfg.Index != "" {
		return cfg.BaseURL + "/" + cfg.Index
	}
	return cfg.BaseURL
}

// eventReaderOrNil avoids storing a typed nil in the api.EventReader
// interface when no database is configured.
func eventReaderOrNil(repo *pgstore.ProgressStore) api.EventReader {
	if repo == nil {
		return nil
	}
	return repo
}
