package routes

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/sirupsen/logrus"

	"outreachly/controllers"
	"outreachly/middleware"
	"outreachly/worker"
)

// SetupEngineRoutes wires the scheduler's HTTP surface: a health probe,
// engine status, and rate-limited manual triggers.
func SetupEngineRoutes(app *fiber.App, scheduler *worker.Scheduler, log *logrus.Logger) {
	ec := controllers.NewEngineController(scheduler, log)

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	engine := app.Group("/engine", logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	engine.Get("/status", ec.Status)
	engine.Post("/run", middleware.EngineRunLimiter(), ec.RunNow)
	engine.Post("/check-replies", middleware.EngineRunLimiter(), ec.RunRepliesNow)

	log.Info("Engine routes initialized successfully")
}
