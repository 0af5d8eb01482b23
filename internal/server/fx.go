// Package server wires configuration, stores, fetchers, the crawl engine and
// the HTTP API into one runnable application.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/truesight/crawld/internal/api"
	"github.com/truesight/crawld/internal/clock/system"
	"github.com/truesight/crawld/internal/config"
	"github.com/truesight/crawld/internal/crawler"
	collyfetcher "github.com/truesight/crawld/internal/fetcher/colly"
	"github.com/truesight/crawld/internal/fetcher/direct"
	headlessfetcher "github.com/truesight/crawld/internal/fetcher/headless"
	"github.com/truesight/crawld/internal/hash/sha256"
	"github.com/truesight/crawld/internal/headless/detector"
	"github.com/truesight/crawld/internal/id/uuid"
	"github.com/truesight/crawld/internal/logging"
	"github.com/truesight/crawld/internal/metrics"
	"github.com/truesight/crawld/internal/progress"
	progresssinks "github.com/truesight/crawld/internal/progress/sinks"
	memorypublisher "github.com/truesight/crawld/internal/publisher/memory"
	gcppublisher "github.com/truesight/crawld/internal/publisher/pubsub"
	"github.com/truesight/crawld/internal/repository"
	"github.com/truesight/crawld/internal/scheduler"
	gcsstorage "github.com/truesight/crawld/internal/storage/gcs"
	localstorage "github.com/truesight/crawld/internal/storage/local"
	memorystorage "github.com/truesight/crawld/internal/storage/memory"
	pgstore "github.com/truesight/crawld/internal/storage/postgres"
	"github.com/truesight/crawld/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg          *config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	engine       *crawler.Engine
	sched        *scheduler.Scheduler
	progressHub  *progress.Hub
	gcsClient    *storage.Client
	pubPublisher *gcppublisher.Publisher
	renderer     *headlessfetcher.Renderer
	fetchLog     *pgstore.FetchLogStore
	progressRepo store.ProgressRepository
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := logging.InitLogger(cfg.Logging.Development); err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	logger := logging.L
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Storage.DataDir))

	repoStore, err := repository.NewFSStore(cfg.Storage.DataDir, logger.Named("repository"))
	if err != nil {
		return nil, fmt.Errorf("repository store init failed: %w", err)
	}

	artifacts, err := setupArtifacts(ctx, app)
	if err != nil {
		return nil, err
	}

	fetchLog, err := setupDatabase(ctx, app)
	if err != nil {
		return nil, err
	}

	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}

	hub := setupProgress(ctx, app)

	pages, binaries, err := setupFetchers(app)
	if err != nil {
		return nil, err
	}

	app.engine, err = crawler.NewEngine(crawler.Options{
		DefaultMaxDepth:   cfg.Crawler.MaxDepthDefault,
		DefaultMaxThreads: cfg.Crawler.MaxThreadsDefault,
		CheckInterval:     cfg.CheckInterval(),
		InactivityTimeout: cfg.InactivityTimeout(),
		RetryFailedURLs:   cfg.Crawler.RetryFailedURLs,
		MaxRetries:        cfg.Crawler.MaxRetries,
	}, crawler.Deps{
		Repositories: repoStore,
		Artifacts:    artifacts,
		Pages:        pages,
		Binaries:     binaries,
		FetchLog:     fetchLog,
		Publisher:    publisher,
		Hub:          hub,
		Hasher:       sha256.New(),
		Clock:        system.New(),
		IDs:          uuid.New(),
		Logger:       logger.Named("engine"),
	})
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}

	app.apiServer = api.NewServer(
		app.engine,
		repoStore,
		app.progressRepo,
		api.Options{
			RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
			APIKeyEnabled:  cfg.Auth.Enabled,
			APIKey:         cfg.Auth.APIKey,
		},
		logger.Named("api"),
	)

	if cfg.Scheduler.Enabled {
		app.sched, err = scheduler.New(app.engine, repoStore, system.New(), logger.Named("scheduler"))
		if err != nil {
			return nil, fmt.Errorf("scheduler init failed: %w", err)
		}
	}

	return app, nil
}

// Engine exposes the crawl engine for one-shot command use.
func (a *App) Engine() *crawler.Engine {
	return a.engine
}

// Run starts the application and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if a.sched != nil {
		a.sched.Start()
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application. Intake stops first (scheduler,
// then engine) so the progress hub and publishers can flush everything the
// final tasks emitted.
func (a *App) Close(ctx context.Context) error {
	if a.sched != nil {
		if err := a.sched.Stop(ctx); err != nil {
			a.logger.Warn("scheduler stop failed", zap.Error(err))
		}
	}
	if a.engine != nil {
		if err := a.engine.Close(ctx); err != nil {
			a.logger.Warn("engine close failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pubPublisher != nil {
		if err := a.pubPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.fetchLog != nil {
		a.fetchLog.Close()
	}
	if pgRepo, ok := a.progressRepo.(*pgstore.ProgressStore); ok {
		pgRepo.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		// Sync to stderr fails on some platforms; nothing actionable.
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func setupArtifacts(ctx context.Context, app *App) (crawler.ArtifactStore, error) {
	if app.cfg.Storage.GCSBucket != "" {
		app.logger.Info("using GCS artifact store",
			zap.String("bucket", app.cfg.Storage.GCSBucket),
			zap.String("prefix", app.cfg.Storage.GCSPrefix))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.gcsClient = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: app.cfg.Storage.GCSBucket,
			Prefix: app.cfg.Storage.GCSPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs artifact store init failed: %w", err)
		}
		return blobStore, nil
	}

	app.logger.Info("using local artifact store", zap.String("base_dir", app.cfg.Storage.DataDir))
	blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.DataDir})
	if err != nil {
		return nil, fmt.Errorf("local artifact store init failed: %w", err)
	}
	return blobStore, nil
}

func setupDatabase(ctx context.Context, app *App) (crawler.FetchLog, error) {
	if app.cfg.Database.DSN == "" {
		app.logger.Info("no database DSN configured, using in-memory fetch log, run history disabled")
		return memorystorage.NewFetchLog(), nil
	}

	fetchLog, err := pgstore.NewFetchLogStore(ctx, pgstore.FetchLogConfig{
		DSN:   app.cfg.Database.DSN,
		Table: app.cfg.Database.FetchLogTable,
	})
	if err != nil {
		return nil, fmt.Errorf("fetch log init failed: %w", err)
	}
	app.fetchLog = fetchLog
	app.logger.Info("fetch log initialized", zap.String("table", app.cfg.Database.FetchLogTable))

	progressRepo, err := pgstore.NewProgressStore(ctx, app.cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("progress store init failed: %w", err)
	}
	app.progressRepo = progressRepo
	return fetchLog, nil
}

func setupPublisher(ctx context.Context, app *App) (crawler.Publisher, error) {
	if app.cfg.PubSub.ProjectID == "" || app.cfg.PubSub.TopicName == "" {
		app.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	publisher, err := gcppublisher.New(ctx, app.cfg.PubSub.ProjectID, app.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.pubPublisher = publisher
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName))
	return publisher, nil
}

func setupProgress(ctx context.Context, app *App) *progress.Hub {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		app.logger.Warn("prometheus progress sink init failed", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	if app.progressRepo != nil {
		sinkList = append(sinkList,
			progresssinks.NewStoreSink(app.progressRepo, app.logger.Named("progress_store")))
	}

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutSecs) * time.Second,
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("sinks", len(sinkList)))
	return app.progressHub
}

func setupFetchers(app *App) (crawler.PageFetcher, crawler.BinaryFetcher, error) {
	renderer := collyfetcher.Renderer(headlessfetcher.NewNoop())
	if app.cfg.Crawler.FeatureRenderEnabled {
		chromeRenderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       app.cfg.Headless.MaxParallel,
			UserAgent:         app.cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(app.cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("headless renderer init failed: %w", err)
		}
		app.renderer = chromeRenderer
		renderer = chromeRenderer
		app.logger.Info("headless rendering enabled",
			zap.Int("max_parallel", app.cfg.Headless.MaxParallel))
	}

	pages := collyfetcher.New(collyfetcher.Config{
		UserAgent:          app.cfg.Crawler.UserAgent,
		Timeout:            app.cfg.HTTPTimeout(),
		InsecureSkipVerify: app.cfg.HTTP.InsecureSkipVerify,
		RenderEnabled:      app.cfg.Crawler.FeatureRenderEnabled,
	}, renderer, detector.NewHeuristic(app.cfg.Headless.PromotionThresh))
	app.logger.Info("page fetcher ready", zap.String("user_agent", app.cfg.Crawler.UserAgent))

	binaries := direct.New(direct.Config{
		UserAgent:          app.cfg.Crawler.UserAgent,
		Timeout:            app.cfg.HTTPTimeout(),
		InsecureSkipVerify: app.cfg.HTTP.InsecureSkipVerify,
	})
	return pages, binaries, nil
}
