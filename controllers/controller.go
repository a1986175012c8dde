package controllers

import (
	"log/slog"

	"adunlock/config"
	"adunlock/tracker"

	"github.com/gofiber/fiber/v2"
)

// Controller holds what the HTTP handlers share. The tracker and its store
// are created in main and passed in; handlers keep no global state.
type Controller struct {
	Tracker *tracker.Tracker
	Config  *config.Config
	Log     *slog.Logger
}

func New(t *tracker.Tracker, cfg *config.Config, log *slog.Logger) *Controller {
	return &Controller{Tracker: t, Config: cfg, Log: log}
}

func (ctl *Controller) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}
