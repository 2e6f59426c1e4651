// Package server builds the service graph from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkscraper/internal/api"
	"github.com/JakeFAU/linkscraper/internal/auth"
	"github.com/JakeFAU/linkscraper/internal/clock/system"
	"github.com/JakeFAU/linkscraper/internal/config"
	"github.com/JakeFAU/linkscraper/internal/driver"
	collyfetcher "github.com/JakeFAU/linkscraper/internal/fetcher/colly"
	"github.com/JakeFAU/linkscraper/internal/hash/sha256"
	"github.com/JakeFAU/linkscraper/internal/id/uuid"
	"github.com/JakeFAU/linkscraper/internal/metrics"
	"github.com/JakeFAU/linkscraper/internal/progress"
	progresssinks "github.com/JakeFAU/linkscraper/internal/progress/sinks"
	"github.com/JakeFAU/linkscraper/internal/queue"
	"github.com/JakeFAU/linkscraper/internal/ratelimit"
	"github.com/JakeFAU/linkscraper/internal/scrape"
	"github.com/JakeFAU/linkscraper/internal/scraper"
	gcsstorage "github.com/JakeFAU/linkscraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/linkscraper/internal/storage/local"
	memorystorage "github.com/JakeFAU/linkscraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/linkscraper/internal/storage/postgres"
)

const httpShutdownGrace = 10 * time.Second

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	registerer prometheus.Registerer
}

// WithRegisterer registers collectors against reg instead of the default
// registerer. Tests use it to build more than one App per process.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) {
		o.registerer = reg
	}
}

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	store     scraper.Store
	archive   scraper.BlobStore
	gcs       *gcsstorage.BlobStore
	natsConn  *nats.Conn
	hub       *progress.Hub
	queue     *queue.Queue
	driver    *driver.Driver
	limiter   ratelimit.Limiter
	redis     *ratelimit.RedisLimiter
	apiServer *api.Server
}

// Build creates the application's dependencies. On error everything opened so
// far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (_ *App, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.registerer == nil {
		o.registerer = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.Background())
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("max_concurrent", cfg.Queue.MaxConcurrent),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("postgres", cfg.DB.DSN != ""),
		zap.Bool("redis", cfg.Redis.URL != ""),
		zap.Bool("nats", cfg.Events.NATSURL != ""),
	)

	if err = app.setupStore(ctx); err != nil {
		return nil, err
	}
	if err = app.setupArchive(ctx); err != nil {
		return nil, err
	}
	if err = app.setupProgress(ctx, o.registerer); err != nil {
		return nil, err
	}
	if err = app.setupQueue(ctx, o.registerer); err != nil {
		return nil, err
	}
	if err = app.setupLimiter(ctx); err != nil {
		return nil, err
	}

	authSvc, err := auth.NewService(app.store, auth.Config{
		TokenTTL:   cfg.TokenTTL(),
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("auth service init failed: %w", err)
	}

	app.apiServer, err = api.NewServer(api.Deps{
		Store:   app.store,
		Auth:    authSvc,
		Jobs:    app.driver,
		History: app.queue,
		Limiter: app.limiter,
		Logger:  logger,
		Clock:   system.New(),
		Options: api.Options{
			CORSOrigin:     cfg.Server.CORSOrigin,
			RequestTimeout: cfg.RequestTimeout(),
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("api server init failed: %w", err)
	}
	return app, nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory store; data will not survive restarts")
		a.store = memorystorage.NewStore()
		return nil
	}
	if a.cfg.DB.Migrate {
		version, err := pgstore.Migrate(a.cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("database migration failed: %w", err)
		}
		a.logger.Info("database schema up to date", zap.Uint("version", version))
	}
	store, err := pgstore.Connect(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.store = store
	a.logger.Info("postgres store initialized", zap.Int32("max_conns", a.cfg.DB.MaxConns))
	return nil
}

func (a *App) setupArchive(ctx context.Context) error {
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		store, err := gcsstorage.Open(ctx, gcsstorage.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs archive init failed: %w", err)
		}
		a.gcs = store
		a.archive = store
		a.logger.Info("archiving page bodies to GCS", zap.String("bucket", a.cfg.Archive.GCSBucket))
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("local archive init failed: %w", err)
		}
		a.archive = store
		a.logger.Info("archiving page bodies locally", zap.String("path", a.cfg.Archive.BaseDir))
	default:
		a.logger.Info("page body archiving disabled")
	}
	return nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) error {
	sinkList := []progress.Sink{
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
	}
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("prometheus progress sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.cfg.Events.NATSURL != "" {
		a.natsConn, err = progresssinks.ConnectNATS(a.cfg.Events.NATSURL)
		if err != nil {
			return fmt.Errorf("nats progress sink init failed: %w", err)
		}
		sinkList = append(sinkList, progresssinks.NewNATSSink(a.natsConn, a.cfg.Events.Subject))
		a.logger.Info("publishing job events to NATS", zap.String("subject", a.cfg.Events.Subject))
	}

	a.hub = progress.NewHub(progress.Config{
		BaseContext: ctx,
		Logger:      a.logger.Named("progress_hub"),
	}, sinkList...)
	return nil
}

func (a *App) setupQueue(ctx context.Context, reg prometheus.Registerer) error {
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   a.cfg.HTTP.UserAgent,
		Timeout:     a.cfg.FetchTimeout(),
		MaxBodySize: a.cfg.HTTP.MaxBodyBytes,
	})
	scrapeCfg := scrape.Config{
		Pages:   a.store,
		Fetcher: fetcher,
		Clock:   system.New(),
		Emitter: a.hub,
		Logger:  a.logger,
	}
	if a.archive != nil {
		scrapeCfg.Archive = a.archive
		scrapeCfg.Hasher = sha256.New()
		scrapeCfg.ArchivePrefix = a.cfg.Archive.Prefix
	}
	svc, err := scrape.New(scrapeCfg)
	if err != nil {
		return fmt.Errorf("scrape service init failed: %w", err)
	}

	a.queue, err = queue.New(queue.Config{
		MaxConcurrent:   a.cfg.Queue.MaxConcurrent,
		HistoryCapacity: a.cfg.Queue.HistoryCapacity,
		Clock:           system.New(),
		IDs:             uuid.New(),
		Emitter:         a.hub,
		BaseContext:     ctx,
		Logger:          a.logger,
	}, svc.Scrape)
	if err != nil {
		return fmt.Errorf("queue init failed: %w", err)
	}
	a.driver = driver.New(a.queue, a.store, driver.Config{
		PollInterval: a.cfg.PollInterval(),
		Timeout:      a.cfg.ShutdownTimeout(),
		Logger:       a.logger,
	})

	err = metrics.RegisterQueueGauges(reg, func() (int, int) {
		st := a.queue.Status()
		return st.PendingCount, st.RunningCount
	})
	if err != nil {
		return fmt.Errorf("queue gauges init failed: %w", err)
	}
	a.logger.Info("scrape queue initialized",
		zap.Int("max_concurrent", a.cfg.Queue.MaxConcurrent),
		zap.Int("history_capacity", a.cfg.Queue.HistoryCapacity),
	)
	return nil
}

func (a *App) setupLimiter(ctx context.Context) error {
	limitCfg := ratelimit.Config{
		Requests: a.cfg.RateLimit.Requests,
		Window:   a.cfg.RateWindow(),
	}
	if a.cfg.Redis.URL == "" {
		a.limiter = ratelimit.NewMemory(limitCfg)
		a.logger.Info("rate limiting in process",
			zap.Int("requests", limitCfg.Requests),
			zap.Duration("window", limitCfg.Window),
		)
		return nil
	}
	limiter, err := ratelimit.NewRedis(a.cfg.Redis.URL, limitCfg)
	if err != nil {
		return fmt.Errorf("redis rate limiter init failed: %w", err)
	}
	a.redis = limiter
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := limiter.Ping(pingCtx); err != nil {
		return fmt.Errorf("redis rate limiter ping failed: %w", err)
	}
	a.limiter = limiter
	a.logger.Info("rate limiting via redis",
		zap.Int("requests", limitCfg.Requests),
		zap.Duration("window", limitCfg.Window),
	)
	return nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Driver exposes the queue driver.
func (a *App) Driver() *driver.Driver {
	return a.driver
}

// Run recovers pending pages, serves HTTP and blocks until ctx is canceled or
// SIGINT/SIGTERM arrives, then drains the queue and closes dependencies.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recovered, err := a.driver.Recover(ctx)
	if err != nil {
		// Losing recovery is not fatal; the pages stay pending for the next start.
		a.logger.Error("pending page recovery failed", zap.Error(err))
	}
	a.logger.Info("application started", zap.Int("recovered", recovered))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout()+httpShutdownGrace)
	defer cancel()

	closeErr := a.Close(shutdownCtx, srv)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// Close stops new submissions, waits for running jobs, then shuts down the
// HTTP server (when srv is non-nil) and every backing client.
func (a *App) Close(ctx context.Context, srv *http.Server) error {
	var errs []error
	if err := a.driver.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain queue: %w", err))
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.hub == nil && a.natsConn != nil {
		// The NATS sink drains the connection when the hub closes it.
		a.natsConn.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		a.store.Close()
	}
}
