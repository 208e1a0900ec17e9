// Package app wires configuration into the long-lived harvester services.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/JakeFAU/codesearch-harvester/internal/config"
	"github.com/JakeFAU/codesearch-harvester/internal/crawler"
	"github.com/JakeFAU/codesearch-harvester/internal/dedup"
	"github.com/JakeFAU/codesearch-harvester/internal/fetch"
	"github.com/JakeFAU/codesearch-harvester/internal/github"
	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
	"github.com/JakeFAU/codesearch-harvester/internal/hash/gitblob"
	"github.com/JakeFAU/codesearch-harvester/internal/metrics"
	"github.com/JakeFAU/codesearch-harvester/internal/ratelimit"
	"github.com/JakeFAU/codesearch-harvester/internal/resolver"
	"github.com/JakeFAU/codesearch-harvester/internal/storage/local"
	"github.com/JakeFAU/codesearch-harvester/internal/storage/memory"
	"github.com/JakeFAU/codesearch-harvester/internal/storage/postgres"
	"github.com/JakeFAU/codesearch-harvester/internal/storage/sqlite"
)

// App holds the services for one harvester process. It is built once at
// startup; construction fails fast on any unusable collaborator.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	repo       harvest.Repository
	checkpoint *local.CheckpointStore
	engine     *crawler.Engine
}

// New builds every collaborator from cfg.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	repo, err := openRepository(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	if err := repo.CreateSchemaIfAbsent(ctx); err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("prepare store: %w", err)
	}

	checkpoint, err := local.New(local.Config{Path: cfg.Checkpoint.Path})
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}

	transport := github.NewTransport(github.Config{
		BaseURL:   cfg.GitHub.APIURL,
		Username:  cfg.GitHub.Username,
		Token:     cfg.GitHub.Token,
		UserAgent: cfg.GitHub.UserAgent,
		Timeout:   cfg.GitHub.Timeout,
	})
	client := github.NewClient(transport, cfg.GitHub.APIURL)
	gate := ratelimit.New(client, ratelimit.Config{
		Cooldown:          cfg.Throttle.Cooldown,
		RetryDelay:        cfg.Throttle.QuotaRetryDelay,
		RequestsPerMinute: float64(cfg.Throttle.RequestsPerMinute),
		Logger:            logger.Named("ratelimit"),
	})
	fetcher := fetch.New(gate, client, fetch.Config{
		RetryDelay:    cfg.Throttle.RetryDelay,
		MaxAttempts:   cfg.Throttle.MaxAttempts,
		EscalateAfter: cfg.Throttle.EscalateAfter,
		Logger:        logger.Named("fetch"),
	})
	api := github.NewAPI(fetcher, client.SearchURL(), cfg.Search.PageSize)
	res := resolver.New(api, resolver.Config{
		MaxConcurrency: cfg.Throttle.ResolveConcurrency,
		Hasher:         gitblob.New(),
		Logger:         logger.Named("resolver"),
	})

	partitions, err := harvest.NewSizePartitioner(cfg.Partition.Start, cfg.Partition.End, cfg.Partition.Width)
	if err != nil {
		_ = repo.Close()
		return nil, err
	}
	engine, err := crawler.NewEngine(api, res, dedup.New(repo), checkpoint, partitions, crawler.Config{
		BaseQuery:  cfg.Search.Query,
		PageSize:   cfg.Search.PageSize,
		MaxResults: cfg.Search.MaxResults,
		PagePause:  cfg.Throttle.PagePause,
		Logger:     logger.Named("crawler"),
	})
	if err != nil {
		_ = repo.Close()
		return nil, err
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		repo:       repo,
		checkpoint: checkpoint,
		engine:     engine,
	}, nil
}

func openRepository(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (harvest.Repository, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		logger.Info("using sqlite store", zap.String("path", cfg.Path), zap.String("table", cfg.Table))
		store, err := sqlite.Open(sqlite.Config{Path: cfg.Path, Table: cfg.Table})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		return store, nil
	case config.DriverPostgres:
		logger.Info("connecting to postgres", zap.String("table", cfg.Table))
		store, err := postgres.New(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		return store, nil
	case config.DriverMemory:
		logger.Warn("using in-memory store; artifacts are discarded on exit")
		return memory.NewArtifactStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}
}

// Run crawls until the partition sequence is exhausted or ctx is done. The
// metrics listener, when configured, lives for the duration of the crawl.
func (a *App) Run(ctx context.Context) (crawler.Summary, error) {
	serveCtx, stop := context.WithCancel(ctx)
	defer stop()

	var wg conc.WaitGroup
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		wg.Go(func() {
			if err := metrics.Serve(serveCtx, addr, a.logger.Named("metrics")); err != nil {
				a.logger.Error("metrics server failed", zap.Error(err))
			}
		})
	}

	sum, err := a.engine.Run(ctx)
	stop()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return sum, fmt.Errorf("run crawler: %w", err)
	}
	if count, countErr := a.repo.Count(context.WithoutCancel(ctx)); countErr == nil {
		a.logger.Info("store totals", zap.Int64("records", count))
	}
	return sum, err
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.repo == nil {
		return nil
	}
	if err := a.repo.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
