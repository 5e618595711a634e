package main

import (
	"time"

	"github.com/muoit/CLIProxyAPI-Monitor/internal/config"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/handlers"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/models"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/services/upstream"
	"github.com/muoit/CLIProxyAPI-Monitor/internal/utils"
	"github.com/muoit/CLIProxyAPI-Monitor/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	cfg           *config.Config
	queryCache    *services.QueryCache
	syncService   *services.SyncService
	syncScheduler *services.SyncScheduler
	taskQueue     services.TaskQueue
	worker        *services.Worker

	authHandler         *handlers.AuthHandler
	userHandler         *handlers.UserHandler
	usageHandler        *handlers.UsageHandler
	priceHandler        *handlers.PriceHandler
	syncHandler         *handlers.SyncHandler
	insightsHandler     *handlers.InsightsHandler
	healthHandler       *handlers.HealthHandler
	metricsHandler      *handlers.MetricsHandler
	systemConfigHandler *handlers.SystemConfigHandler
	systemLogHandler    *handlers.SystemLogHandler
}

// bootstrap initializes all application dependencies: database, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}

	// Seed default data
	if err := models.SeedDefaultData(); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed default data")
	}

	// Initialize system logger
	services.InitSystemLogger(models.GetDB())

	// Start system log cleanup scheduler
	services.StartLogCleanupScheduler(models.GetDB())

	// All calendar math runs in the configured zone, never the host's.
	loc, err := time.LoadLocation(cfg.Analytics.Timezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", cfg.Analytics.Timezone).Msg("Unknown timezone, falling back to UTC")
		loc = time.UTC
	}

	db := models.GetDB()
	queryCache := services.NewQueryCache(
		time.Duration(cfg.Analytics.CacheTTLSeconds)*time.Second,
		cfg.Analytics.CacheMaxEntries,
	)
	pricingService := services.NewPricingService(db, queryCache, services.PriceRates{
		Input:  cfg.Pricing.DefaultInputPer1M,
		Cached: cfg.Pricing.DefaultCachedPer1M,
		Output: cfg.Pricing.DefaultOutputPer1M,
	})
	analyticsOpts := services.AnalyticsOptions{
		DefaultDays:  cfg.Analytics.DefaultDays,
		MaxDays:      cfg.Analytics.MaxDays,
		TopRoutes:    cfg.Analytics.TopRoutes,
		MaxFilterLen: cfg.Analytics.MaxFilterLen,
	}
	overviewService := services.NewOverviewService(db, pricingService, queryCache, loc, analyticsOpts)
	exploreService := services.NewExploreService(db, queryCache, loc, analyticsOpts)

	configService := services.NewSystemConfigService(db)
	fetcher := upstream.NewClient(
		cfg.Upstream.BaseURL,
		cfg.Upstream.AuthToken,
		time.Duration(cfg.Upstream.ScheduledTimeoutSeconds)*time.Second,
	)
	syncService := services.NewSyncService(db, fetcher, queryCache, configService, services.SyncOptions{
		ManualTimeout:    time.Duration(cfg.Upstream.ManualTimeoutSeconds) * time.Second,
		ScheduledTimeout: time.Duration(cfg.Upstream.ScheduledTimeoutSeconds) * time.Second,
		LookbackDays:     cfg.Sync.LookbackDays,
	})

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(syncService.ProcessTask)
	}

	// Start async worker if Redis is enabled
	var worker *services.Worker
	if cfg.Redis.Enabled {
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(syncService.ProcessTask)
			worker.Start()
		}
	}

	// Start the scheduled sync loop
	syncScheduler := services.NewSyncScheduler(taskQueue, configService)
	syncScheduler.Start()

	insightsService := services.NewInsightsService(overviewService, cfg)

	// Create default admin user
	authHandler := handlers.NewAuthHandler(db, cfg)
	if err := authHandler.CreateAdminIfNotExists(); err != nil {
		logger.Warn().Err(err).Msg("Failed to create admin user")
	}

	return &appServices{
		cfg:           cfg,
		queryCache:    queryCache,
		syncService:   syncService,
		syncScheduler: syncScheduler,
		taskQueue:     taskQueue,
		worker:        worker,

		authHandler:         authHandler,
		userHandler:         handlers.NewUserHandler(db),
		usageHandler:        handlers.NewUsageHandler(overviewService, exploreService),
		priceHandler:        handlers.NewPriceHandler(pricingService),
		syncHandler:         handlers.NewSyncHandler(syncService),
		insightsHandler:     handlers.NewInsightsHandler(insightsService),
		healthHandler:       handlers.NewHealthHandler(db, queryCache, syncService),
		metricsHandler:      handlers.NewMetricsHandler(db, queryCache, syncService),
		systemConfigHandler: handlers.NewSystemConfigHandler(db, syncScheduler),
		systemLogHandler:    handlers.NewSystemLogHandler(db),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.syncScheduler.Stop()
	services.StopLogCleanupScheduler()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		s.taskQueue.Close()
	}
}
