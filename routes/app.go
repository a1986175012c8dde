package routes

import (
	"log/slog"

	"adunlock/config"
	"adunlock/controllers"
	"adunlock/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewApp builds the fiber app with the global middleware chain and all routes.
// gatherer backs /metrics; nil disables the endpoint.
func NewApp(cfg *config.Config, ctl *controllers.Controller, log *slog.Logger, gatherer prometheus.Gatherer) *fiber.App {
	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler:          middlewares.ErrorHandler(log),
		BodyLimit:             cfg.BodyLimitBytes,
		UnescapePath:          true,
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middlewares.RequestLogger(log))

	// ---- CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowCredentials: false, // admin uses Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
	}))

	// ---- Global rate limiter (applies to all routes; tune via env)
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWindow,
		Next: func(c *fiber.Ctx) bool {
			// Ad networks retry callbacks from a handful of IPs; never throttle them.
			return c.Path() == "/api/callback" || c.Path() == "/healthz"
		},
	}))

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	Register(app, ctl)
	return app
}
