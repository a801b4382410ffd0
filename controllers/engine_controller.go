package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"outreachly/worker"
)

// EngineController exposes the scheduler over HTTP: status inspection and a
// manual cycle trigger for operators.
type EngineController struct {
	scheduler *worker.Scheduler
	log       *logrus.Entry
}

func NewEngineController(scheduler *worker.Scheduler, logger *logrus.Logger) *EngineController {
	return &EngineController{
		scheduler: scheduler,
		log:       logger.WithField("component", "engine_controller"),
	}
}

// Status reports whether each cycle is currently running and when it last
// completed.
func (ec *EngineController) Status(c *fiber.Ctx) error {
	return c.JSON(ec.scheduler.Status())
}

// RunNow triggers a send cycle outside the normal cadence. The cycle runs in
// the background; if one is already in progress the request is accepted and
// the trigger becomes a no-op.
func (ec *EngineController) RunNow(c *fiber.Ctx) error {
	go func() {
		if !ec.scheduler.RunSendCycleNow(context.Background()) {
			ec.log.Info("manual run skipped, send cycle already in progress")
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "send cycle triggered",
	})
}

// RunRepliesNow is the reply-scan counterpart of RunNow.
func (ec *EngineController) RunRepliesNow(c *fiber.Ctx) error {
	go func() {
		if !ec.scheduler.RunReplyCycleNow(context.Background()) {
			ec.log.Info("manual run skipped, reply cycle already in progress")
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "reply scan triggered",
	})
}
