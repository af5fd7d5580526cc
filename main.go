package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"

	"mailreach/config"
	"mailreach/middleware"
	"mailreach/routes"
	"mailreach/utils"
	"mailreach/worker"
)

func main() {
	logger := log.New(os.Stdout, "MAILREACH: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	if config.AppConfig.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		})
		if err != nil {
			logger.Printf("Sentry initialization failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Create Fiber app
	app := fiber.New()

	// Add CORS middleware
	app.Use(middleware.CORS())

	// Build the send pipeline
	mailer := utils.NewSMTPMailer(time.Duration(config.AppConfig.SendTimeoutSeconds) * time.Second)
	dispatcher := utils.NewDispatcher(config.DB, mailer, log.New(os.Stdout, "DISPATCH: ", log.LstdFlags))
	dispatcher.BaseURL = config.AppConfig.BaseURL
	dispatcher.Governor = utils.NewGovernor(config.AppConfig.JitterFraction)
	dispatcher.LeaseTimeout = time.Duration(config.AppConfig.LeaseTimeoutSeconds) * time.Second
	dispatcher.MaxSendAttempts = config.AppConfig.MaxSendAttempts

	// Build the reply ingestion pipeline
	fetcher := utils.NewIMAPFetcher(time.Duration(config.AppConfig.SendTimeoutSeconds) * time.Second)
	scanner := utils.NewReplyScanner(config.DB, fetcher, log.New(os.Stdout, "REPLY: ", log.LstdFlags))

	// Start background workers
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatchWorker := worker.NewDispatchWorker(dispatcher,
		time.Duration(config.AppConfig.DispatchIntervalMinutes)*time.Minute,
		log.New(os.Stdout, "DISPATCH: ", log.LstdFlags))
	go dispatchWorker.Start(ctx)

	replyWorker := worker.NewReplyWorker(scanner,
		time.Duration(config.AppConfig.ReplyIntervalMinutes)*time.Minute,
		log.New(os.Stdout, "REPLY: ", log.LstdFlags))
	go replyWorker.Start(ctx)

	resetWorker := worker.NewResetWorker(config.DB, log.New(os.Stdout, "RESET: ", log.LstdFlags))
	go resetWorker.Start(ctx)

	// Setup routes
	routes.SetupRoutes(app, config.DB, dispatcher, scanner)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
