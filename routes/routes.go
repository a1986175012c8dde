package routes

import (
	"adunlock/controllers"
	"adunlock/middlewares"

	"github.com/gofiber/fiber/v2"
)

// Register wires all HTTP routes.
func Register(app *fiber.App, ctl *controllers.Controller) {
	app.Get("/healthz", ctl.Health)

	api := app.Group("/api")

	// Link issuer (frontend key-gate)
	api.Post("/unlock", ctl.RequestUnlock)
	api.Get("/unlock/go", ctl.RedirectUnlock)

	// Ad network notifications
	callback := api.Group("/callback", middlewares.CallbackSecret(ctl.Config.CallbackSecret))
	callback.Get("", ctl.HandleCallback)
	callback.Post("", ctl.HandleCallback)

	// Public status
	api.Get("/status", ctl.GetStatus)
	api.Get("/status/:userId/:scriptId", ctl.GetStatus)

	// Operator endpoints (JWT auth)
	api.Post("/auth/login", ctl.AdminLogin)
	admin := api.Group("/admin", middlewares.RequireRole([]byte(ctl.Config.JWTSecret), middlewares.RoleAdmin))
	admin.Get("/stats", ctl.GetStats)
	admin.Delete("/pending", ctl.PurgePending)
}
