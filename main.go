package main

import (
	"context"
	"database/sql"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/contexta-ai/contexta-engine/pkg/config"
	"github.com/contexta-ai/contexta-engine/pkg/database"
	"github.com/contexta-ai/contexta-engine/pkg/fetch"
	"github.com/contexta-ai/contexta-engine/pkg/llm"
	"github.com/contexta-ai/contexta-engine/pkg/logging"
	"github.com/contexta-ai/contexta-engine/pkg/repositories"
	"github.com/contexta-ai/contexta-engine/pkg/retry"
	"github.com/contexta-ai/contexta-engine/pkg/scheduler"
	"github.com/contexta-ai/contexta-engine/pkg/seedfeed"
	"github.com/contexta-ai/contexta-engine/pkg/services"
	"github.com/contexta-ai/contexta-engine/pkg/workpool"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("starting contexta-engine",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", cfg.Database.Database),
		zap.String("enrichment_backend", cfg.AI.EnrichmentBackend))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db := connectDatabase(ctx, cfg, logger)
	defer db.Close()

	runMigrations(cfg, logger)

	chatClient, embedClient, err := llm.NewFromConfig(&cfg.AI, logger)
	if err != nil {
		logger.Fatal("failed to create AI clients", zap.Error(err))
	}

	// Outbound HTTP layer.
	fetcher := fetch.NewHTTPFetcher(fetch.Config{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
	}, logger)
	robots := fetch.NewRobotsChecker(fetcher, cfg.Fetch.UserAgent,
		time.Duration(cfg.Fetch.RobotsCacheTTLHours)*time.Hour)

	// Repositories.
	sourceRepo := repositories.NewSourceRepository()
	snapshotRepo := repositories.NewSnapshotRepository()
	contextUnitRepo := repositories.NewContextUnitRepository()
	seenMessageRepo := repositories.NewSeenMessageRepository()

	// Services.
	pool := workpool.New(workpool.Config{MaxConcurrent: cfg.Workers.MaxConcurrent}, logger)
	enricher := services.NewEnricher(chatClient, logger)
	detector := services.NewChangeDetector(snapshotRepo, contextUnitRepo, embedClient,
		&cfg.Detector, cfg.AI.EmbeddingModel, logger)
	novelty := services.NewNoveltyService(detector, seenMessageRepo, contextUnitRepo,
		&cfg.Ingestion, logger)
	ingestion := services.NewIngestionService(contextUnitRepo, sourceRepo, enricher, embedClient,
		fetcher, &cfg.Ingestion, cfg.AI.EmbeddingModel, cfg.AI.EmbeddingDimension, logger)
	scraper := services.NewScrapeConnector(fetcher, novelty, ingestion, logger)
	batch := services.NewBatchService(sourceRepo, scraper, pool, crossTenantBinder(db), logger)
	lifecycle := services.NewLifecycleService(sourceRepo, &cfg.Lifecycle, logger)

	jobs := []scheduler.Job{
		{
			Name: "ingestion_batch",
			Spec: cfg.Scheduler.IngestionSpec,
			Run: func(ctx context.Context) error {
				return withScope(ctx, db, func(ctx context.Context) error {
					_, err := batch.RunIngestionBatch(ctx)
					return err
				})
			},
		},
		{
			Name: "lifecycle_pass",
			Spec: cfg.Scheduler.LifecycleSpec,
			Run: func(ctx context.Context) error {
				return withScope(ctx, db, func(ctx context.Context) error {
					_, err := lifecycle.RunPass(ctx)
					return err
				})
			},
		},
	}

	if job, ok := discoveryJob(cfg, fetcher, robots, enricher, sourceRepo, pool, db, logger); ok {
		jobs = append(jobs, job)
	} else {
		logger.Info("discovery disabled: seed feed or tenant not configured")
	}

	sched := scheduler.New(logger)
	if err := sched.Reconcile(ctx, jobs); err != nil {
		logger.Fatal("failed to schedule jobs", zap.Error(err))
	}
	sched.Start()
	logger.Info("scheduler started", zap.Int("jobs", sched.EntryCount()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
	sched.Stop()
	logger.Info("shutdown complete")
}

func connectDatabase(ctx context.Context, cfg *config.Config, logger *zap.Logger) *database.DB {
	var db *database.DB
	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
		var err error
		db, err = database.NewConnection(ctx, &database.Config{
			URL:            cfg.Database.ConnectionString(),
			MaxConnections: cfg.Database.MaxConnections,
		})
		return err
	})
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	return db
}

func runMigrations(cfg *config.Config, logger *zap.Logger) {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open migration connection", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}
}

// withScope runs fn with a cross-tenant database scope on the context.
// Batch jobs walk sources across tenants; repository queries still filter by
// tenant where one applies.
func withScope(ctx context.Context, db *database.DB, fn func(ctx context.Context) error) error {
	scope, err := db.WithoutTenant(ctx)
	if err != nil {
		return err
	}
	defer scope.Close()
	return fn(database.SetTenantScope(ctx, scope))
}

// crossTenantBinder gives each concurrent work unit its own cross-tenant
// scope. Pooled connections are not safe for concurrent use, so units never
// share the job's scope.
func crossTenantBinder(db *database.DB) services.ScopeBinder {
	return func(ctx context.Context) (context.Context, func(), error) {
		scope, err := db.WithoutTenant(ctx)
		if err != nil {
			return nil, nil, err
		}
		return database.SetTenantScope(ctx, scope), scope.Close, nil
	}
}

// tenantBinder is crossTenantBinder with RLS pinned to one tenant.
func tenantBinder(db *database.DB, tenantID uuid.UUID) services.ScopeBinder {
	return func(ctx context.Context) (context.Context, func(), error) {
		scope, err := db.WithTenant(ctx, tenantID)
		if err != nil {
			return nil, nil, err
		}
		return database.SetTenantScope(ctx, scope), scope.Close, nil
	}
}

func discoveryJob(
	cfg *config.Config,
	fetcher fetch.Fetcher,
	robots *fetch.RobotsChecker,
	enricher services.Enricher,
	sourceRepo repositories.SourceRepository,
	pool *workpool.Pool,
	db *database.DB,
	logger *zap.Logger,
) (scheduler.Job, bool) {
	if cfg.Discovery.SeedFeedURL == "" || cfg.Discovery.TenantID == "" {
		return scheduler.Job{}, false
	}

	tenantID, err := uuid.Parse(cfg.Discovery.TenantID)
	if err != nil {
		logger.Fatal("invalid discovery tenant id", zap.Error(err))
	}

	feed := seedfeed.NewHTTPSeedFeed(seedfeed.Config{
		Endpoint: cfg.Discovery.SeedFeedURL,
		APIKey:   cfg.Discovery.SeedFeedAPIKey,
	}, logger)

	discovery := services.NewDiscoveryService(feed, fetcher, robots, enricher, sourceRepo,
		pool, &cfg.Discovery, tenantBinder(db, tenantID),
		rand.New(rand.NewSource(time.Now().UnixNano())), logger)

	return scheduler.Job{
		Name: "discovery",
		Spec: cfg.Scheduler.DiscoverySpec,
		Run: func(ctx context.Context) error {
			_, err := discovery.Run(ctx, tenantID)
			return err
		},
	}, true
}
