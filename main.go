package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreachly/composer"
	"outreachly/config"
	"outreachly/mailer"
	"outreachly/routes"
	"outreachly/statussync"
	"outreachly/store"
	"outreachly/worker"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if config.AppConfig.Environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Failed to initialize Sentry, continuing without it")
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Wire the engine
	db := store.NewStore(config.DB)
	smtp := mailer.NewSMTPMailer()
	content := composer.NewClient(config.AppConfig.ComposerURL)
	notifier := statussync.NewNotifier(config.AppConfig.StatusSyncURL)

	scheduler := worker.NewScheduler(db, smtp, content, notifier, logger, worker.Config{
		SendInterval:  time.Duration(config.AppConfig.SendCycleMinutes) * time.Minute,
		ReplyInterval: time.Duration(config.AppConfig.ReplyCycleMinutes) * time.Minute,
		SendDelay:     time.Duration(config.AppConfig.SendDelaySeconds) * time.Second,
	})
	scheduler.Start()

	// HTTP surface
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	routes.SetupEngineRoutes(app, scheduler, logger)

	go func() {
		logger.Infof("Server starting on port %s", config.AppConfig.ServerPort)
		if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown: stop taking requests, then wait for in-flight cycles.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")
	if err := app.Shutdown(); err != nil {
		logger.WithError(err).Error("HTTP shutdown failed")
	}
	scheduler.Stop()
	logger.Info("Shutdown complete")
}
