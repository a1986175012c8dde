package controllers

import (
	"strings"

	"adunlock/middlewares"
	"adunlock/models"
	"adunlock/tracker"
	"adunlock/utils"

	"github.com/gofiber/fiber/v2"
)

// UnlockRequest is the frontend key-gate's request for an ad link.
// KeyIndex may arrive as a JSON number or a numeric string; tracker.ParseKey
// checks it (a validator "required" tag would reject index 0).
type UnlockRequest struct {
	UserID   string `json:"userId" validate:"required,max=128"`
	ScriptID string `json:"scriptId" validate:"required,max=128"`
	KeyIndex any    `json:"keyIndex"`
}

type UnlockResponse struct {
	Pending     models.PendingRequest `json:"pending"`
	AdURL       string                `json:"adUrl"`
	CallbackURL string                `json:"callbackUrl"`
}

// RequestUnlock registers a pending unlock and returns the ad link as JSON.
func (ctl *Controller) RequestUnlock(c *fiber.Ctx) error {
	var req UnlockRequest
	if err := middlewares.BindAndValidate(c, &req); err != nil {
		return err
	}
	res, err := ctl.issue(c, req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// RedirectUnlock does the same from a query string and sends the browser
// straight to the ad network.
func (ctl *Controller) RedirectUnlock(c *fiber.Ctx) error {
	req := UnlockRequest{
		UserID:   c.Query("userId"),
		ScriptID: c.Query("scriptId"),
	}
	if k := strings.TrimSpace(c.Query("keyIndex")); k != "" {
		req.KeyIndex = k
	}
	if err := middlewares.ValidateStruct(&req); err != nil {
		return err
	}
	res, err := ctl.issue(c, req)
	if err != nil {
		return err
	}
	return c.Redirect(res.AdURL, fiber.StatusFound)
}

func (ctl *Controller) issue(c *fiber.Ctx, req UnlockRequest) (UnlockResponse, error) {
	key, err := tracker.ParseKey(req.UserID, req.ScriptID, req.KeyIndex)
	if err != nil {
		return UnlockResponse{}, err
	}
	if ctl.Config.AdNetworkURL == "" {
		return UnlockResponse{}, fiber.NewError(fiber.StatusServiceUnavailable, "ad network not configured")
	}

	callbackURL, err := utils.BuildCallbackURL(ctl.Config.PublicBaseURL, key.UserID, key.ScriptID, key.KeyIndex)
	if err != nil {
		return UnlockResponse{}, err
	}
	adURL, err := utils.BuildAdURL(ctl.Config.AdNetworkURL, key.UserID, key.ScriptID, key.KeyIndex, callbackURL)
	if err != nil {
		return UnlockResponse{}, err
	}

	pending, err := ctl.Tracker.RegisterPending(c.UserContext(), key.UserID, key.ScriptID, key.KeyIndex, map[string]string{
		"adUrl":       adURL,
		"callbackUrl": callbackURL,
		"userAgent":   c.Get(fiber.HeaderUserAgent),
		"ip":          c.IP(),
	})
	if err != nil {
		return UnlockResponse{}, err
	}

	return UnlockResponse{
		Pending:     pending,
		AdURL:       adURL,
		CallbackURL: callbackURL,
	}, nil
}
