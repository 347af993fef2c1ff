// Package server assembles the crawl fleet from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/seedbank-crawler/internal/adapter"
	"github.com/JakeFAU/seedbank-crawler/internal/api"
	"github.com/JakeFAU/seedbank-crawler/internal/clock/system"
	"github.com/JakeFAU/seedbank-crawler/internal/config"
	"github.com/JakeFAU/seedbank-crawler/internal/crawler"
	"github.com/JakeFAU/seedbank-crawler/internal/database"
	"github.com/JakeFAU/seedbank-crawler/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/seedbank-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/seedbank-crawler/internal/hash/sha256"
	"github.com/JakeFAU/seedbank-crawler/internal/id/uuid"
	"github.com/JakeFAU/seedbank-crawler/internal/jobs"
	"github.com/JakeFAU/seedbank-crawler/internal/logging"
	"github.com/JakeFAU/seedbank-crawler/internal/metrics"
	"github.com/JakeFAU/seedbank-crawler/internal/notify"
	"github.com/JakeFAU/seedbank-crawler/internal/persistence"
	"github.com/JakeFAU/seedbank-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/seedbank-crawler/internal/policy/robots"
	"github.com/JakeFAU/seedbank-crawler/internal/pricealert"
	"github.com/JakeFAU/seedbank-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/seedbank-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/seedbank-crawler/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/seedbank-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/seedbank-crawler/internal/queue/memory"
	queuepostgres "github.com/JakeFAU/seedbank-crawler/internal/queue/postgres"
	"github.com/JakeFAU/seedbank-crawler/internal/reconciler"
	"github.com/JakeFAU/seedbank-crawler/internal/runner"
	"github.com/JakeFAU/seedbank-crawler/internal/scheduler"
	gcsstorage "github.com/JakeFAU/seedbank-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/seedbank-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/seedbank-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/seedbank-crawler/internal/storage/postgres"
	"github.com/JakeFAU/seedbank-crawler/internal/worker"
)

const (
	shutdownTimeout = 10 * time.Second
	// snapshotDigestSize is the number of digest characters in snapshot keys.
	snapshotDigestSize = 16
)

// Options override collaborators that are otherwise built from config.
type Options struct {
	// Logger replaces the logger built from cfg.Logging.
	Logger *zap.Logger
	// Registerer receives the progress collectors. Defaults to the global registerer.
	Registerer prometheus.Registerer
	// Fetcher replaces the colly fetcher.
	Fetcher crawler.Fetcher
	// HTTPClient is used for robots.txt requests.
	HTTPClient *http.Client
	// Pauser replaces the timer used between listing pages.
	Pauser runner.Pauser
}

// catalog is the store surface shared by the memory and Postgres backends.
type catalog interface {
	crawler.VendorStore
	persistence.Store
	pricealert.PriceReader
	notify.SubscriberReader
}

// crawlLog reads and writes crawl_logs rows.
type crawlLog interface {
	persistence.CrawlLogWriter
	api.CrawlLogReader
}

// App holds the assembled fleet.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	opts   Options

	clock crawler.Clock
	ids   crawler.IDGenerator

	jobs      crawler.JobStore
	catalog   catalog
	schedules scheduler.Store
	crawlLogs crawlLog
	queue     crawler.WorkQueue
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	emitter   progress.Emitter

	submitter  *jobs.Submitter
	scheduler  *scheduler.Scheduler
	reconciler *reconciler.Reconciler
	workers    []*worker.Worker
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server

	pool            *pgxpool.Pool
	sqlDB           *sqlx.DB
	memQueue        *queuememory.Queue
	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	gcsClient       *storage.Client
}

// Build creates every dependency named by cfg. Partially built resources are
// released when an error is returned.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	app := &App{
		cfg:    cfg,
		logger: logger,
		opts:   opts,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("queue_backend", cfg.Queue.Backend),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Int("vendors", len(cfg.Vendors)),
	)

	adapters := adapter.DefaultRegistry()
	if err := adapters.Validate(cfg.Vendors); err != nil {
		return nil, fmt.Errorf("vendor adapters: %w", err)
	}

	steps := []func(context.Context) error{
		app.setupDatabase,
		app.setupQueue,
		app.setupStorage,
		app.setupPublisher,
		app.setupProgress,
		func(context.Context) error { return app.setupJobs(adapters) },
		func(context.Context) error { return app.setupWorkers(adapters) },
		app.setupAPI,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			app.closeInfrastructure(ctx)
			return nil, err
		}
	}
	return app, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Jobs returns the crawl job store.
func (a *App) Jobs() crawler.JobStore { return a.jobs }

// Reconciler returns the job/queue drift repairer.
func (a *App) Reconciler() *reconciler.Reconciler { return a.reconciler }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// Run serves the API and runs the workers, scheduler and reconciler until ctx
// ends or one of them fails, then closes the App.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started", zap.Int("workers", a.dispatch.Size()))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.dispatch.Run(gctx)
	})
	if a.cfg.Scheduler.Enabled {
		g.Go(func() error {
			n, err := a.scheduler.SyncVendors(gctx)
			if err != nil {
				a.logger.Error("vendor schedule sync failed", zap.Error(err))
			} else {
				a.logger.Info("vendor schedules synced", zap.Int("scheduled", n))
			}
			return a.scheduler.Run(gctx)
		})
	}
	if a.cfg.Reconciler.Enabled {
		g.Go(func() error {
			return a.reconciler.Run(gctx)
		})
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		if a.memQueue != nil {
			a.memQueue.Close()
		}
		return nil
	})

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// CrawlOnce submits a crawl for vendorID and processes queue deliveries on the
// calling goroutine until that job reaches a terminal status. Price-alert
// tasks queued by the crawl are drained before returning.
func (a *App) CrawlOnce(ctx context.Context, req jobs.Request) (crawler.CrawlJob, error) {
	job, err := a.submitter.Submit(ctx, req)
	if err != nil {
		return crawler.CrawlJob{}, err
	}
	w := a.workers[0]
	for {
		d, err := a.queue.Dequeue(ctx)
		if err != nil {
			return job, fmt.Errorf("dequeue: %w", err)
		}
		w.Process(ctx, d)

		job, err = a.jobs.GetJob(ctx, job.ID)
		if err != nil {
			return job, fmt.Errorf("reload job: %w", err)
		}
		if job.Status.Terminal() {
			break
		}
	}
	a.drainAlerts(ctx)
	return job, nil
}

// drainAlerts processes price-alert tasks left on an in-process queue.
func (a *App) drainAlerts(ctx context.Context) {
	if a.memQueue == nil {
		return
	}
	w := a.workers[0]
	for a.memQueue.Counts()[crawler.QueueWaiting] > 0 {
		d, err := a.memQueue.Dequeue(ctx)
		if err != nil {
			return
		}
		w.Process(ctx, d)
	}
}

// Close releases every resource Build acquired.
func (a *App) Close(ctx context.Context) error {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Close()
		a.pubsubPublisher = nil
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsubClient = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.sqlDB != nil {
		if err := a.sqlDB.Close(); err != nil {
			a.logger.Warn("crawl log db close failed", zap.Error(err))
		}
		a.sqlDB = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database dsn configured, using in-memory stores")
		a.jobs = memorystorage.NewJobStore(a.ids, a.clock)
		a.catalog = memorystorage.NewCatalog(a.cfg.Vendors...)
		a.schedules = memorystorage.NewScheduleStore()
		a.crawlLogs = memorystorage.NewCrawlLog()
		return nil
	}

	var err error
	a.sqlDB, err = database.Open(ctx, a.cfg.DB.DSN, a.logger)
	if err != nil {
		return err
	}
	if a.cfg.DB.MigrateOnStart {
		if err := database.Migrate(a.sqlDB.DB, database.Up, a.logger.Named("migrate")); err != nil {
			return err
		}
	}
	a.crawlLogs, err = database.NewCrawlLogRepository(a.sqlDB)
	if err != nil {
		return err
	}

	a.pool, err = pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres pool init failed: %w", err)
	}
	if a.jobs, err = pgstore.NewJobStore(a.pool, a.ids, a.clock); err != nil {
		return err
	}
	pgCatalog, err := pgstore.NewCatalog(a.pool, a.ids)
	if err != nil {
		return err
	}
	if err := pgCatalog.SeedVendors(ctx, a.cfg.Vendors); err != nil {
		return fmt.Errorf("seed vendors: %w", err)
	}
	a.catalog = pgCatalog
	if a.schedules, err = pgstore.NewScheduleStore(a.pool); err != nil {
		return err
	}
	a.logger.Info("postgres stores initialized", zap.Bool("migrated", a.cfg.DB.MigrateOnStart))
	return nil
}

func (a *App) setupQueue(context.Context) error {
	defaults := a.cfg.EnqueueDefaults()
	switch a.cfg.Queue.Backend {
	case config.QueuePostgres:
		if a.pool == nil {
			return fmt.Errorf("postgres queue requires db.dsn")
		}
		q, err := queuepostgres.New(a.pool, queuepostgres.Options{
			Defaults:     defaults,
			PollInterval: config.Millis(a.cfg.Queue.PollIntervalMs),
			StalledAfter: config.Seconds(a.cfg.Queue.StalledAfterSeconds),
			Clock:        a.clock,
			IDs:          a.ids,
		})
		if err != nil {
			return fmt.Errorf("postgres queue init failed: %w", err)
		}
		a.queue = q
		a.logger.Info("using postgres work queue")
	default:
		a.memQueue = queuememory.NewQueue(queuememory.Options{
			Defaults:  defaults,
			Retention: config.Seconds(a.cfg.Queue.RetentionSeconds),
			Clock:     a.clock,
			IDs:       a.ids,
		})
		a.queue = a.memQueue
		a.logger.Info("using in-memory work queue")
	}
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.blobs, err = gcsstorage.New(a.gcsClient, a.cfg.Storage.Bucket)
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS snapshot storage", zap.String("bucket", a.cfg.Storage.Bucket))
	case config.StorageLocal:
		a.blobs, err = localstorage.New(a.cfg.Storage.LocalDir)
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("using local snapshot storage", zap.String("path", a.cfg.Storage.LocalDir))
	case config.StorageMemory:
		a.blobs = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory snapshot storage")
	default:
		a.logger.Info("listing snapshots disabled")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher, err = gcppublisher.New(a.pubsubClient)
	if err != nil {
		return err
	}
	a.publisher = a.pubsubPublisher
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.Notify.Topic),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		a.emitter = progress.Nop{}
		return nil
	}
	promSink, err := progresssinks.NewPrometheusSink(a.opts.Registerer)
	if err != nil {
		return err
	}
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
		progresssinks.NewJobStoreSink(a.jobs, a.logger.Named("progress_store")),
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   config.Millis(a.cfg.Progress.Batch.MaxWaitMs),
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.emitter = a.progressHub
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupJobs(adapters *adapter.Registry) error {
	var err error
	a.submitter, err = jobs.NewSubmitter(a.jobs, a.catalog, a.queue, adapters, a.cfg.EnqueueDefaults(), a.logger)
	if err != nil {
		return fmt.Errorf("submitter init failed: %w", err)
	}
	a.scheduler, err = scheduler.New(a.schedules, a.catalog, a.submitter,
		scheduler.Config{Tick: config.Seconds(a.cfg.Scheduler.TickSeconds)}, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}
	a.reconciler, err = reconciler.New(a.jobs, a.queue, reconciler.Config{
		Interval: config.Seconds(a.cfg.Reconciler.IntervalSeconds),
		MinAge:   config.Seconds(a.cfg.Reconciler.MinAgeSeconds),
	}, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("reconciler init failed: %w", err)
	}
	return nil
}

func (a *App) setupWorkers(adapters *adapter.Registry) error {
	fetcher := a.opts.Fetcher
	if fetcher == nil {
		fetcher = collyfetcher.New(collyfetcher.Config{
			UserAgent:      a.cfg.Crawler.UserAgent,
			AcceptLanguage: a.cfg.Crawler.AcceptLanguage,
			Timeout:        a.cfg.RequestTimeout(),
		})
		a.logger.Info("using colly fetcher", zap.String("user_agent", a.cfg.Crawler.UserAgent))
	}
	robotsLoader := robots.NewLoader(a.opts.HTTPClient, robots.Options{
		UserAgent:  a.cfg.Crawler.UserAgent,
		MinDelay:   config.Millis(a.cfg.Crawler.MinDelayMs),
		MaxDelay:   config.Millis(a.cfg.Crawler.MaxDelayMs),
		MaxBackoff: config.Millis(a.cfg.Crawler.MaxBackoffMs),
		Timeout:    a.cfg.RequestTimeout(),
	}, a.logger.Named("robots"))
	gate := ratelimit.New(ratelimit.Config{DefaultRPS: a.cfg.Crawler.HostRPS, DefaultBurst: 1})

	run := runner.New(runner.Deps{
		Fetcher:  fetcher,
		Robots:   robotsLoader,
		Adapters: adapters,
		Gate:     gate,
		Emitter:  a.emitter,
		Pauser:   a.opts.Pauser,
		Clock:    a.clock,
		Blobs:    a.blobs,
		Hasher:   sha256.NewShort(snapshotDigestSize),
	}, runner.Config{
		FetchAttempts:   a.cfg.Crawler.FetchAttempts,
		MaxPagesCap:     a.cfg.Crawler.MaxPagesCap,
		DefaultMaxPages: a.cfg.Crawler.DefaultMaxPages,
		TestPages:       a.cfg.Crawler.TestPages,
		SnapshotPrefix:  a.cfg.Storage.Prefix,
	}, a.logger)

	persist, err := persistence.New(a.catalog, a.crawlLogs, a.clock, a.logger)
	if err != nil {
		return err
	}
	detector, err := pricealert.New(a.catalog, pricealert.Config{
		ThresholdPercent: a.cfg.PriceAlert.ThresholdPercent,
		Currency:         a.cfg.PriceAlert.Currency,
	}, a.logger)
	if err != nil {
		return err
	}
	resolver, err := notify.NewResolver(a.catalog, a.logger)
	if err != nil {
		return err
	}
	notifyDispatcher, err := notify.NewDispatcher(a.publisher, a.cfg.Notify.Topic, a.logger)
	if err != nil {
		return err
	}
	notifier := &notify.Notifier{Resolver: resolver, Dispatcher: notifyDispatcher}

	pool := make([]dispatcher.Worker, 0, a.cfg.Crawler.Concurrency)
	for i := 0; i < a.cfg.Crawler.Concurrency; i++ {
		w, err := worker.New(worker.Deps{
			Queue:    a.queue,
			Jobs:     a.jobs,
			Vendors:  a.catalog,
			Runner:   run,
			Persist:  persist,
			Detector: detector,
			Notifier: notifier,
			Clock:    a.clock,
		}, worker.Config{AlertPriority: a.cfg.Queue.AlertPriority}, a.logger.With(zap.Int("index", i)))
		if err != nil {
			return fmt.Errorf("worker init failed: %w", err)
		}
		a.workers = append(a.workers, w)
		pool = append(pool, w)
	}
	a.dispatch, err = dispatcher.New(pool, a.logger)
	if err != nil {
		return err
	}
	a.logger.Info("workers initialized",
		zap.Int("concurrency", a.cfg.Crawler.Concurrency),
		zap.Float64("host_rps", a.cfg.Crawler.HostRPS),
		zap.Int("fetch_attempts", a.cfg.Crawler.FetchAttempts),
	)
	return nil
}

func (a *App) setupAPI(context.Context) error {
	var err error
	a.apiServer, err = api.NewServer(api.Deps{
		Jobs:      a.jobs,
		Submitter: a.submitter,
		Schedules: a.scheduler,
		CrawlLogs: a.crawlLogs,
		Ready:     a.ready,
	}, a.cfg, a.logger.Named("api"))
	if err != nil {
		return fmt.Errorf("api server init failed: %w", err)
	}
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.sqlDB != nil {
		if err := a.sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("crawl log db: %w", err)
		}
	}
	return nil
}
