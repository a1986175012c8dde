package controllers

import (
	"github.com/gofiber/fiber/v2"
)

// GetStatus answers /api/status/:userId/:scriptId or /api/status?userId=&scriptId=.
func (ctl *Controller) GetStatus(c *fiber.Ctx) error {
	userID := c.Params("userId", c.Query("userId"))
	scriptID := c.Params("scriptId", c.Query("scriptId"))

	keys, err := ctl.Tracker.GetStatus(c.UserContext(), userID, scriptID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"userId":        userID,
		"scriptId":      scriptID,
		"completedKeys": keys,
	})
}
