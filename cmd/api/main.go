package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/brandmill/brandmill/internal/capability"
	"github.com/brandmill/brandmill/internal/config"
	"github.com/brandmill/brandmill/internal/credits"
	"github.com/brandmill/brandmill/internal/database"
	"github.com/brandmill/brandmill/internal/dispatch"
	"github.com/brandmill/brandmill/internal/ledger"
	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/metrics"
	"github.com/brandmill/brandmill/internal/middleware"
	"github.com/brandmill/brandmill/internal/provider"
	"github.com/brandmill/brandmill/internal/queue"
	"github.com/brandmill/brandmill/internal/quota"
	"github.com/brandmill/brandmill/internal/storage"
	"github.com/brandmill/brandmill/internal/store"
	"github.com/brandmill/brandmill/internal/tracing"
	"github.com/brandmill/brandmill/internal/webhook"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logging
	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Initialize tracing
	_, closer, err := tracing.Init(cfg.Tracing)
	if err != nil {
		logger.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer closer.Close()

	// Initialize the user state store
	st, err := store.NewRedisStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("Failed to connect to store: %v", err)
	}
	defer st.Close()

	// Core engine components
	matrix := capability.NewMatrix()
	registry := provider.NewRegistry(st)
	usageLedger := ledger.New(st, logger)
	book := credits.NewBook(st)
	gate := quota.NewGate(matrix, usageLedger, logger)
	adapters := provider.DefaultAdapters(cfg.Dispatcher.AdapterTimeout)

	webhookRepo := webhook.NewRepository(st)
	notifier := webhook.NewService(webhookRepo, logger)

	deps := dispatch.Deps{
		Gate:     gate,
		Registry: registry,
		Adapters: adapters,
		Matrix:   matrix,
		Ledger:   usageLedger,
		Credits:  book,
		Logger:   logger,
		Notifier: notifier,
	}

	// Usage archive fan-out is optional: the engine is fully functional
	// without the queue, the worker just has nothing to archive.
	if cfg.Dispatcher.PublishUsage {
		q, err := queue.New(cfg.Queue)
		if err != nil {
			logger.WithError(err).Warn("Usage queue unavailable, archive fan-out disabled")
		} else {
			defer q.Close()
			deps.Publisher = q
		}
	}

	// Asset mirroring is optional as well
	if cfg.Dispatcher.MirrorAssets {
		stor, err := storage.New(cfg.Storage)
		if err != nil {
			logger.WithError(err).Warn("Object storage unavailable, asset mirroring disabled")
		} else {
			deps.Mirror = stor
		}
	}

	dispatcher := dispatch.New(dispatch.Config{
		FallbackBaseURL: cfg.Dispatcher.FallbackBaseURL,
	}, deps)

	api := &API{
		dispatcher: dispatcher,
		registry:   registry,
		matrix:     matrix,
		ledger:     usageLedger,
		credits:    book,
		webhooks:   webhookRepo,
		store:      st,
		logger:     logger,
	}

	// The Postgres archive backs the usage history report; everything
	// else works without it.
	if db, err := database.New(cfg.Database); err != nil {
		logger.WithError(err).Warn("Usage archive unavailable, history reporting disabled")
	} else {
		defer db.Close()
		api.archive = database.NewRepository(db)
	}

	// Setup router
	router := setupRouter(api, cfg, logger)

	// Start the metrics server on its own port
	metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
	go func() {
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start metrics server: %v", err)
		}
	}()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("Metrics server shutdown failed")
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, cfg *config.Config, logger *logging.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())

	// Health check
	router.GET("/health", api.healthCheck)

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.RateLimit(limiter))
	{
		// Generation
		v1.POST("/generate", api.generate)
		v1.POST("/generate/batch", api.generateBatch)

		users := v1.Group("/users/:id")
		{
			// Providers
			users.GET("/providers/:category", api.listProviders)
			users.PUT("/providers/:category/:provider", api.setProviderCredential)
			users.DELETE("/providers/:category/:provider", api.removeProviderCredential)
			users.PUT("/providers/:category/:provider/active", api.setActiveProvider)

			// Usage and credits
			users.GET("/usage", api.getUsage)
			users.GET("/usage/history", api.getUsageHistory)
			users.GET("/credits", api.getCredits)
			users.POST("/credits", api.addCredits)

			// State portability
			users.GET("/export", api.exportState)
			users.POST("/import", api.importState)
			users.DELETE("/state", api.deleteState)

			// Webhooks
			users.POST("/webhooks", api.createWebhook)
			users.GET("/webhooks", api.listWebhooks)
			users.DELETE("/webhooks/:webhook_id", api.deleteWebhook)
			users.PUT("/webhooks/:webhook_id/active", api.setWebhookActive)
		}
	}

	return router
}
