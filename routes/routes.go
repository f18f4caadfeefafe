package routes

import (
	"log"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "intrahub/controllers"
	"intrahub/middleware"
	"intrahub/worker"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, dispatcher *worker.NewsletterDispatcher) {
	apiLogger := log.New(os.Stdout, "API: ", log.Ldate|log.Ltime|log.Lshortfile)

	requestLog := logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	})

	// Tracking endpoints are hit from email clients and stay public.
	trackingController := controller.NewTrackingController(db)
	track := app.Group("/track")
	track.Get("/open/:token", trackingController.TrackOpen)
	track.Get("/click/:token", trackingController.TrackClick)

	// Newsletter routes (protected)
	newsletterController := controller.NewNewsletterController(db, apiLogger, dispatcher)
	newsletters := app.Group("/newsletters", requestLog, middleware.Protected())
	newsletters.Post("/", newsletterController.CreateNewsletter)
	newsletters.Get("/", newsletterController.ListNewsletters)
	newsletters.Get("/:id", newsletterController.GetNewsletter)
	newsletters.Post("/:id/schedule", newsletterController.ScheduleNewsletter)
	newsletters.Post("/:id/send", middleware.SendRateLimiter(), newsletterController.SendNewsletter)

	// Journey routes (protected)
	journeyController := controller.NewJourneyController(db, apiLogger)
	journeys := app.Group("/journeys", requestLog, middleware.Protected())
	journeys.Post("/", journeyController.CreateJourney)
	journeys.Post("/:id/activate", journeyController.ActivateJourney)
	journeys.Post("/:id/enroll", journeyController.EnrollUser)

	enrollments := app.Group("/enrollments", requestLog, middleware.Protected())
	enrollments.Get("/:id", journeyController.GetEnrollment)
	enrollments.Post("/:id/complete-step", journeyController.CompleteStep)
	enrollments.Post("/:id/pause", journeyController.PauseEnrollment)
	enrollments.Post("/:id/resume", journeyController.ResumeEnrollment)
	enrollments.Post("/:id/cancel", journeyController.CancelEnrollment)

	// News routes (protected)
	newsController := controller.NewNewsController(db, apiLogger)
	news := app.Group("/news", requestLog, middleware.Protected())
	news.Post("/", newsController.CreateArticle)
	news.Get("/", newsController.ListArticles)
	news.Get("/:id", newsController.GetArticle)
	news.Post("/:id/schedule", newsController.ScheduleArticle)
	news.Post("/:id/publish", newsController.PublishArticle)

	apiLogger.Println("Routes initialized successfully")
}
