package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	"github.com/uptrace/opentelemetry-go-extra/otelsqlx"

	"github.com/headonpro/tabellen-service/internal/config"
	clubdomain "github.com/headonpro/tabellen-service/internal/domain/club"
	gamedomain "github.com/headonpro/tabellen-service/internal/domain/game"
	"github.com/headonpro/tabellen-service/internal/domain/job"
	tableentrydomain "github.com/headonpro/tabellen-service/internal/domain/tableentry"
	"github.com/headonpro/tabellen-service/internal/infrastructure/repository/postgres"
	"github.com/headonpro/tabellen-service/internal/infrastructure/snapshotfile"
	"github.com/headonpro/tabellen-service/internal/interfaces/httpapi"
	basecache "github.com/headonpro/tabellen-service/internal/platform/cache"
	"github.com/headonpro/tabellen-service/internal/platform/logging"
	"github.com/headonpro/tabellen-service/internal/platform/resilience"
	"github.com/headonpro/tabellen-service/internal/usecase"
)

// Runtime is the fully wired calculation core: repositories, cache, snapshot
// store, engine, queue, error handling, and the ops HTTP surface.
type Runtime struct {
	Config   config.Config
	Queue    *usecase.QueueService
	Cache    *basecache.Store
	Handler  http.Handler
	shutdown []func(context.Context) error
}

// NewRuntime constructs the core from configuration. The returned runtime is
// not yet processing; call Start.
func NewRuntime(cfg config.Config, logger *logging.Logger, notifier usecase.AlertNotifier) (*Runtime, error) {
	if logger == nil {
		logger = logging.Default()
	}

	db, err := otelsqlx.Open("postgres", cfg.DBURL,
		otelsql.WithDBSystem("postgresql"),
		otelsql.WithDBName(dbNameFromURL(cfg.DBURL)),
		otelsql.WithQueryFormatter(formatDBQueryForTrace),
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	var gameRepo gamedomain.Repository = postgres.NewGameRepository(db)
	var clubRepo clubdomain.Repository = postgres.NewClubRepository(db)
	var entryRepo tableentrydomain.Repository = postgres.NewTableEntryRepository(db)
	calcRepo := postgres.NewCalculationRepository(db)
	prober := postgres.NewProber(db)

	var cacheStore *basecache.Store
	if cfg.CacheEnabled && cfg.Features.Caching {
		cacheStore = basecache.NewStore(cfg.CacheDefaultTTL)
	}

	files, err := snapshotfile.NewStore(snapshotfile.Config{
		Dir:                cfg.SnapshotDir,
		MaxSnapshots:       cfg.SnapshotMaxCount,
		CompressionEnabled: cfg.SnapshotCompressionEnabled,
		ChecksumEnabled:    cfg.SnapshotChecksumEnabled,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	snapshots := usecase.NewSnapshotService(entryRepo, files, usecase.SnapshotConfig{
		MaxAge:         time.Duration(cfg.SnapshotMaxAgeDays) * 24 * time.Hour,
		ProductionMode: cfg.IsProduction(),
	}, logger)

	calc := usecase.NewCalculationService(calcRepo, cacheStore, usecase.CalculationConfig{
		Timeout:           cfg.CalculationTimeout,
		MaxTeamsPerLeague: cfg.CalculationMaxTeams,
	}, logger)

	var breakers *resilience.Registry
	breakerEnabled := cfg.CircuitEnabled && cfg.Features.CircuitBreaker
	if breakerEnabled {
		breakers = resilience.NewRegistry(resilience.CircuitBreakerConfig{
			Enabled:          true,
			FailureThreshold: cfg.CircuitFailureThreshold,
			OpenTimeout:      cfg.CircuitOpenTimeout,
			HalfOpenMaxReq:   cfg.CircuitHalfOpenMaxReq,
		})
	}
	if notifier == nil || !cfg.Features.Notifications {
		notifier = usecase.NewNoopNotifier()
	}
	errorHandler := usecase.NewErrorHandlerService(breakers, snapshots, notifier, breakerEnabled, logger)

	queue := usecase.NewQueueService(calc, errorHandler, snapshots, usecase.QueueConfig{
		Concurrency:      cfg.QueueConcurrency,
		MaxRetries:       cfg.QueueMaxRetries,
		RetryDelay:       cfg.QueueRetryDelay,
		BackoffMaxDelay:  cfg.QueueBackoffMaxDelay,
		JobTimeout:       cfg.QueueJobTimeout,
		MaxPendingJobs:   cfg.QueueMaxPendingJobs,
		MaxCompletedJobs: cfg.QueueMaxCompletedJobs,
		MaxFailedJobs:    cfg.QueueMaxFailedJobs,
		DefaultPriority:  job.NormalizePriority(cfg.QueuePriorityDefault, job.PriorityNormal),
		PriorityByTrigger: map[job.Trigger]job.Priority{
			job.TriggerManual:     job.NormalizePriority(cfg.QueuePriorityManual, job.PriorityHigh),
			job.TriggerGameResult: job.NormalizePriority(cfg.QueuePriorityGameResult, job.PriorityNormal),
			job.TriggerScheduled:  job.NormalizePriority(cfg.QueuePriorityScheduled, job.PriorityLow),
		},
		AutomaticCalculation:      cfg.Features.AutomaticCalculation,
		SnapshotBeforeCalculation: cfg.Features.SnapshotCreation,
	}, logger)

	fallback := usecase.NewFallbackService(cacheStore, snapshots, entryRepo, queue, prober, usecase.FallbackConfig{}, logger)
	ingestion := usecase.NewIngestionService(gameRepo, clubRepo, queue, logger)

	gate := config.NewFeatureGate(cfg.Features, cfg.IsProduction())
	handler := httpapi.NewHandler(queue, snapshots, fallback, ingestion, errorHandler, gate, logger)
	router := httpapi.NewRouter(handler, cfg.InternalJobToken, logger)

	runtime := &Runtime{
		Config:  cfg,
		Queue:   queue,
		Cache:   cacheStore,
		Handler: router,
	}
	runtime.shutdown = append(runtime.shutdown, func(context.Context) error {
		queue.Stop()
		return db.Close()
	})
	return runtime, nil
}

// Start launches the queue workers and the cache sweeper.
func (r *Runtime) Start(ctx context.Context) error {
	if r.Config.Features.QueueProcessing {
		if err := r.Queue.Start(); err != nil {
			return err
		}
	}
	if r.Cache != nil {
		r.Cache.StartSweeper(ctx, r.Config.CacheSweepInterval)
	}
	return nil
}

// Shutdown releases every held resource in reverse construction order.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var firstErr error
	for i := len(r.shutdown) - 1; i >= 0; i-- {
		if err := r.shutdown[i](ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
