package controllers

import (
	"time"

	"adunlock/middlewares"
	"adunlock/tracker"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

const adminTokenTTL = 12 * time.Hour

type LoginRequest struct {
	Password string `json:"password" validate:"required,max=256"`
}

// AdminLogin exchanges the operator password for a bearer token.
func (ctl *Controller) AdminLogin(c *fiber.Ctx) error {
	if !ctl.Config.AdminEnabled() {
		return fiber.NewError(fiber.StatusServiceUnavailable, "admin access not configured")
	}
	var req LoginRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ctl.Config.AdminPasswordHash), []byte(req.Password)); err != nil {
		ctl.Log.Warn("admin login rejected", "ip", c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"message": "invalid credentials"})
	}

	token, err := middlewares.GenerateJWT([]byte(ctl.Config.JWTSecret), middlewares.RoleAdmin, middlewares.RoleAdmin, adminTokenTTL)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"token":     token,
		"expiresIn": int(adminTokenTTL.Seconds()),
	})
}

// GetStats returns the aggregate counts together with the raw state views.
func (ctl *Controller) GetStats(c *fiber.Ctx) error {
	snap, err := ctl.Tracker.Snapshot(c.UserContext())
	if err != nil {
		return err
	}
	stats := snap.Stats()
	return c.JSON(fiber.Map{
		"totalUsers":       stats.TotalUsers,
		"totalCompletions": stats.TotalCompletions,
		"pendingCount":     stats.PendingCount,
		"pending":          snap.Pending,
		"completed":        snap.Completed,
		"users":            snap.Users,
	})
}

// PurgePending removes pending requests older than ?olderThan (default 72h).
func (ctl *Controller) PurgePending(c *fiber.Ctx) error {
	raw := c.Query("olderThan", "72h")
	olderThan, err := time.ParseDuration(raw)
	if err != nil {
		return &tracker.ValidationError{Field: "olderThan", Reason: "must be a duration such as 72h", Err: err}
	}
	removed, err := ctl.Tracker.PurgePending(c.UserContext(), olderThan)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"removed": removed})
}
