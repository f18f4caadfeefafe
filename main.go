package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"

	"intrahub/config"
	"intrahub/middleware"
	"intrahub/routes"
	"intrahub/utils"
	"intrahub/worker"
)

func main() {
	logger := log.New(os.Stdout, "INTRAHUB: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Connect the lock store. Without it the sweepers fall back to
	// fail-open locking, which is only safe with a single instance.
	if err := config.ConnectRedis(); err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	var lock utils.Locker
	if config.Redis != nil {
		lock = utils.NewRedisMutex(config.Redis)
	} else {
		lock = utils.NoopMutex{}
		logger.Println("WARNING: no REDIS_ADDR configured - distributed locking is DISABLED; " +
			"running more than one instance WILL duplicate background work")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mailer := utils.NewMailer(config.AppConfig.SMTP)

	// Scheduled publishing sweep
	publisher := worker.NewPublisherWorker(
		config.DB, lock,
		log.New(os.Stdout, "PUBLISH: ", log.LstdFlags),
		config.AppConfig.Worker.PublishInterval,
	)
	go publisher.Start(ctx)

	// Journey progression engine
	journeyWorker := worker.NewJourneyWorker(
		config.DB, lock,
		utils.NewJourneyMailer(config.DB, mailer),
		log.New(os.Stdout, "JOURNEY: ", log.LstdFlags),
		config.AppConfig.Worker.JourneyInterval,
	)
	go journeyWorker.Start(ctx)

	// Newsletter dispatcher and its scheduled-send poller
	dispatcher := worker.NewNewsletterDispatcher(
		config.DB, lock,
		utils.NewNewsletterRenderer(),
		mailer,
		log.New(os.Stdout, "NEWSLETTER: ", log.LstdFlags),
		config.AppConfig.BaseURL,
		config.AppConfig.Worker.NewsletterQueueLen,
	)
	go dispatcher.Run(ctx)
	go dispatcher.StartScheduledSweep(ctx, config.AppConfig.Worker.PublishInterval)

	// Create Fiber app
	app := fiber.New()
	app.Use(middleware.CORS())

	routes.SetupRoutes(app, config.DB, dispatcher)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Shut down cleanly on SIGINT/SIGTERM: stop the workers, then the
	// server. In-flight cycles finish at their next sleep boundary.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Println("Shutdown signal received")
		cancel()
		if err := app.Shutdown(); err != nil {
			logger.Printf("Server shutdown error: %v", err)
		}
	}()

	logger.Printf("Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
