// Package app builds and holds the long-lived harvester services, acting as a
// dependency injection container for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/journal-harvester/internal/clock/system"
	"github.com/JakeFAU/journal-harvester/internal/config"
	"github.com/JakeFAU/journal-harvester/internal/detail"
	"github.com/JakeFAU/journal-harvester/internal/fetcher"
	collyfetcher "github.com/JakeFAU/journal-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/journal-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/journal-harvester/internal/harvest"
	"github.com/JakeFAU/journal-harvester/internal/hash/sha256"
	"github.com/JakeFAU/journal-harvester/internal/headless/detector"
	"github.com/JakeFAU/journal-harvester/internal/id/uuid"
	"github.com/JakeFAU/journal-harvester/internal/listing"
	"github.com/JakeFAU/journal-harvester/internal/logging"
	"github.com/JakeFAU/journal-harvester/internal/metrics"
	"github.com/JakeFAU/journal-harvester/internal/middleware"
	"github.com/JakeFAU/journal-harvester/internal/pipeline"
	"github.com/JakeFAU/journal-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/journal-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/journal-harvester/internal/storage/gcs"
	"github.com/JakeFAU/journal-harvester/internal/storage/local"
	"github.com/JakeFAU/journal-harvester/internal/storage/postgres"
)

// App holds the shared services for one CLI invocation.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	store        harvest.DatasetStore
	publisher    harvest.Publisher
	orchestrator *pipeline.Orchestrator
	metricsSrv   *http.Server
	closers      []func() error
}

// New wires every component from cfg. It fails fast when a backend cannot be
// initialized; resources opened before the failure are released.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logging.OrNop(logger)}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.startMetrics()
	a.logger.Info("harvester services initialized",
		zap.String("backend", cfg.Storage.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("notify", a.publisher != nil))
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.cfg
	var err error
	a.store, err = a.buildStore(ctx)
	if err != nil {
		return err
	}
	var filtered harvest.DatasetStore
	if tmpl := cfg.FilteredTemplate(); tmpl != "" {
		filtered, err = local.New(local.Config{PathTemplate: tmpl})
		if err != nil {
			return fmt.Errorf("init filtered store: %w", err)
		}
	}
	if a.publisher, err = a.buildPublisher(ctx); err != nil {
		return err
	}
	client, err := a.buildFetchClient()
	if err != nil {
		return err
	}

	a.orchestrator = pipeline.New(
		pipeline.Config{MaxPages: cfg.Harvest.MaxPages, Topic: cfg.PubSub.Topic},
		client,
		listing.NewParser(),
		detail.New(detail.Config{Workers: cfg.Enrich.Workers}, client, a.logger.Named("enricher")),
		a.store,
		filtered,
		a.publisher,
		sha256.New(),
		system.New(),
		uuid.New(),
		a.logger.Named("pipeline"),
	)
	return nil
}

func (a *App) buildStore(ctx context.Context) (harvest.DatasetStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, nil
	case config.BackendPostgres:
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		a.closers = append(a.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := local.New(local.Config{PathTemplate: a.cfg.OutputTemplate()})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		return store, nil
	}
}

func (a *App) buildPublisher(ctx context.Context) (harvest.Publisher, error) {
	if !a.cfg.PubSub.Enabled() {
		return nil, nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	pub := pubsub.New(client, a.cfg.PubSub.Topic)
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

func (a *App) buildFetchClient() (*fetcher.Client, error) {
	static := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetch.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.Fetch.Timeout,
	})

	var (
		renderer harvest.Fetcher = headless.NewNoop()
		promoter fetcher.Detector
	)
	if a.cfg.Headless.Enabled {
		browser, err := headless.NewChromedp(headless.Config{
			MaxParallel:       a.cfg.Fetch.MaxConcurrency,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: a.cfg.Headless.NavTimeout,
			SettleDelay:       a.cfg.Headless.SettleDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("init renderer: %w", err)
		}
		a.closers = append(a.closers, func() error { browser.Close(); return nil })
		renderer = browser
		promoter = detector.NewHeuristic(0)
	}

	limiter := ratelimit.New(ratelimit.Config{MinDelay: a.cfg.Fetch.MinDelay})
	return fetcher.New(
		fetcher.Config{
			MaxConcurrency: a.cfg.Fetch.MaxConcurrency,
			Retry:          a.cfg.RetryPolicy(),
			RenderListings: a.cfg.Headless.Listing,
		},
		static,
		renderer,
		promoter,
		limiter,
		a.logger.Named("fetch"),
	), nil
}

func (a *App) startMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	metrics.Init()
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           middleware.NewOpsRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.Addr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Logger returns the shared zap logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Store returns the configured dataset store.
func (a *App) Store() harvest.DatasetStore {
	return a.store
}

// Orchestrator returns the pipeline that runs one issue harvest.
func (a *App) Orchestrator() *pipeline.Orchestrator {
	return a.orchestrator
}

// Targets lists one pipeline target per configured issue, in issue order.
func (a *App) Targets() []pipeline.Target {
	issues := a.cfg.Issues()
	out := make([]pipeline.Target, 0, len(issues))
	for _, issue := range issues {
		out = append(out, pipeline.Target{
			Journal: a.cfg.Source.Journal,
			BaseURL: a.cfg.Source.BaseURL,
			Year:    a.cfg.Harvest.Year,
			Issue:   issue,
			Enrich:  a.cfg.Harvest.Details,
		})
	}
	return out
}

// Close shuts down all services in reverse construction order.
func (a *App) Close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("error stopping metrics server", zap.Error(err))
		}
		cancel()
		a.metricsSrv = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
