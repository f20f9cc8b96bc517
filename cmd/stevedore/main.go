package main

import (
	"context"
	"time"

	"stevedore/internal/handlers"
	"stevedore/internal/jobs"
	"stevedore/internal/media"
	"stevedore/internal/reconcile"
	"stevedore/internal/scrape"
	"stevedore/internal/storage"
	"stevedore/internal/store"
	"stevedore/pkg/clients"
	"stevedore/pkg/config"
	"stevedore/pkg/database"
	"stevedore/pkg/logging"
	"stevedore/pkg/middleware"
	"stevedore/pkg/monitoring"
	"stevedore/pkg/redis"
	"stevedore/pkg/server"
	"stevedore/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("stevedore")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Stevedore (Content Sync Engine)")

	dbURL := config.RequireEnv("DATABASE_URL")
	serviceToken := config.RequireEnv("SERVICE_TOKEN")
	scrapeURL := config.RequireEnv("SCRAPE_API_URL")
	scrapeToken := config.RequireEnv("SCRAPE_API_TOKEN")
	redisAddr := config.RequireEnv("REDIS_ADDR")
	s3Bucket := config.RequireEnv("S3_BUCKET")

	// Connect to database
	dbConfig := database.DefaultConfig()
	dbConfig.URL = dbURL
	db := database.MustConnect(dbConfig, logger)
	defer db.Close()

	if config.GetEnvBool("MIGRATE_ON_START", true) {
		if err := database.ApplySchema(context.Background(), db, logger); err != nil {
			logger.WithError(err).Fatal("Failed to apply database schema")
		}
	}

	// Connect to Redis (scrape budget state)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	redisClient, err := redis.NewUniversalClient(ctx, redis.Config{
		Mode:     redis.Mode(config.GetEnv("REDIS_MODE", string(redis.ModeSingle))),
		Addrs:    []string{redisAddr},
		Password: config.GetEnv("REDIS_PASSWORD", ""),
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	// Permanent media store
	s3Client, err := storage.NewS3Client(storage.S3Config{
		Bucket:        s3Bucket,
		Prefix:        config.GetEnv("S3_PREFIX", "media"),
		Region:        config.GetEnv("S3_REGION", "us-east-1"),
		Endpoint:      config.GetEnv("S3_ENDPOINT", ""),
		AccessKey:     config.GetEnv("S3_ACCESS_KEY", ""),
		SecretKey:     config.GetEnv("S3_SECRET_KEY", ""),
		PublicBaseURL: config.GetEnv("S3_PUBLIC_BASE_URL", ""),
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create S3 client")
	}

	// Stores
	contentStore := store.NewContentStore(db)
	snapshotStore := store.NewSnapshotStore(db)
	migrationStore := store.NewMediaMigrationStore(db)
	subjectStore := store.NewSubjectStore(db)
	runStore := store.NewRunStore(db)

	// Scrape provider client and its per-subject daily request budget. The
	// provider is a third party with its own bad days; a circuit breaker
	// keeps a broken provider from eating every retry budget.
	breakerConfig := clients.DefaultCircuitBreakerConfig()
	breakerConfig.Name = "scrape-provider"
	breakerConfig.Logger = logger
	scrapeClient := scrape.NewClient(scrape.Config{
		BaseURL:              scrapeURL,
		APIToken:             scrapeToken,
		Logger:               logger,
		CircuitBreakerConfig: &breakerConfig,
	})
	budget := scrape.NewRedisRequestBudget(redisClient, config.GetEnvInt("SCRAPE_DAILY_BUDGET", scrape.DefaultDailyRequests))

	// Media migrator (ephemeral CDN URLs into the permanent store)
	migrator := media.New(media.Config{}, s3Client, migrationStore, logger)

	// Reconciliation orchestrator
	orchestrator := reconcile.New(reconcile.Config{
		SyncLimit:   config.GetEnvInt("SYNC_LIMIT", reconcile.DefaultSyncLimit),
		Concurrency: config.GetEnvInt("SYNC_CONCURRENCY", reconcile.DefaultConcurrency),
	}, reconcile.Deps{
		Provider:  scrapeClient,
		Budget:    budget,
		Content:   contentStore,
		Snapshots: snapshotStore,
		Migrator:  migrator,
		Runs:      runStore,
		Logger:    logger,
	})

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("stevedore", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("stevedore", version.Version, version.GitCommit)

	// Add health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("redis", monitoring.RedisHealthCheck(redisClient))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"DATABASE_URL":   dbURL,
		"SCRAPE_API_URL": scrapeURL,
		"S3_BUCKET":      s3Bucket,
	}))

	// Create custom sync metrics
	metrics := &handlers.StevedoreMetrics{}
	metrics.SyncRuns, metrics.SyncItems, metrics.RunDuration = metricsCollector.CreateSyncMetrics()
	metrics.DBQueries, metrics.DBDuration, metrics.DBConns = metricsCollector.CreateDatabaseMetrics()

	// Initialize handlers
	handlers.Init(logger, orchestrator, subjectStore, runStore, snapshotStore, metrics)

	// Background sync sweep for sync-enabled subjects
	syncJob := jobs.NewSyncJob(jobs.SyncJobConfig{
		Orchestrator: orchestrator,
		Subjects:     subjectStore,
		Logger:       logger,
		Interval:     time.Duration(config.GetEnvInt("SYNC_SWEEP_HOURS", 6)) * time.Hour,
		RunsTotal:    metrics.SyncRuns,
		ItemsTotal:   metrics.SyncItems,
	})
	syncJob.Start()
	defer syncJob.Stop()

	// Setup router with unified monitoring
	router := server.SetupServiceRouter(logger, "stevedore", healthChecker, metricsCollector)

	// API routes (root level - nginx adds /api/sync/ prefix)
	{
		// Service-to-service endpoints (dashboard backend calls these)
		serviceAPI := router.Group("")
		serviceAPI.Use(middleware.ServiceAuthMiddleware(serviceToken))
		{
			serviceAPI.POST("/sync/:subject_id", handlers.TriggerSync)
			serviceAPI.GET("/sync/:subject_id/reports", handlers.ListRuns)
			serviceAPI.GET("/subjects/:subject_id/snapshots", handlers.GetSnapshots)
		}
	}

	// Start server with graceful shutdown
	serverConfig := server.DefaultConfig("stevedore", "18010")
	if err := server.Start(serverConfig, router, logger); err != nil {
		logger.WithError(err).Fatal("Server startup failed")
	}
}
