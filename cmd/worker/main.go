package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/brandmill/brandmill/internal/config"
	"github.com/brandmill/brandmill/internal/database"
	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/metrics"
	"github.com/brandmill/brandmill/internal/queue"
	"github.com/brandmill/brandmill/pkg/models"
)

// The worker archives usage events published by the API into Postgres.
// The archive is analytics-grade history; admission decisions never read
// from it, so the worker can lag or restart without affecting quota
// enforcement.
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

	// Initialize database
	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	// Initialize queue
	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	// Metrics server for the archiver
	metricsServer := metrics.NewServer(cfg.Metrics.Port, logger)
	go func() {
		if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start metrics server: %v", err)
		}
	}()

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown gracefully
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Archive handler. Inserts are idempotent on event ID, so queue
	// redeliveries never double-count.
	eventHandler := func(event *models.UsageEvent) error {
		if err := repo.InsertUsageEvent(ctx, event); err != nil {
			logger.WithError(err).WithUserID(event.UserID).
				WithField("event_id", event.ID).
				Error("Failed to archive usage event")
			metrics.UsageEventsArchivedTotal.WithLabelValues("error").Inc()
			return err
		}

		metrics.UsageEventsArchivedTotal.WithLabelValues("success").Inc()
		logger.WithUserID(event.UserID).
			WithCategory(string(event.Category)).
			WithEngine(event.Engine).
			Debug("Archived usage event")
		return nil
	}

	// Start consuming usage events
	logger.Info("Worker started, waiting for usage events...")
	if err := q.ConsumeUsageEvents(ctx, eventHandler); err != nil {
		logger.Fatalf("Failed to consume usage events: %v", err)
	}

	// Wait for shutdown
	<-ctx.Done()
	logger.Info("Worker stopped")
}
