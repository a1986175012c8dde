package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"adunlock/tracker"
	"adunlock/utils"

	"github.com/gofiber/fiber/v2"
)

// HandleCallback receives the ad network's completion notification. Field
// names vary between networks, so the triple is resolved through
// utils.CallbackAliases from the query string, form fields or a JSON body
// before the tracker sees it.
func (ctl *Controller) HandleCallback(c *fiber.Ctx) error {
	fields := utils.CallbackAliases.Normalize(callbackLookup(c))

	var keyIndex any
	if k, ok := fields["keyIndex"]; ok {
		keyIndex = k
	}
	outcome, err := ctl.Tracker.ApplyCompletion(c.UserContext(), fields["userId"], fields["scriptId"], keyIndex)

	if ctl.Config.FrontendURL != "" {
		return ctl.redirectToFrontend(c, fields, outcome, err)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"completed":        true,
		"alreadyCompleted": outcome.AlreadyCompleted,
	})
}

// redirectToFrontend sends the browser back to the key-gate with flags
// instead of an error payload.
func (ctl *Controller) redirectToFrontend(c *fiber.Ctx, fields map[string]string, outcome tracker.CompletionOutcome, err error) error {
	params := map[string]string{
		"userId":   fields["userId"],
		"scriptId": fields["scriptId"],
		"keyIndex": fields["keyIndex"],
	}
	switch {
	case err == nil:
		params["unlocked"] = "1"
		params["already"] = "0"
		if outcome.AlreadyCompleted {
			params["already"] = "1"
		}
	case tracker.IsValidation(err):
		params["error"] = "invalid_request"
	case tracker.IsStorage(err):
		params["error"] = "unavailable"
		ctl.Log.Error("callback not recorded", "error", err)
	default:
		params["error"] = "internal"
		ctl.Log.Error("callback failed", "error", err)
	}
	target, uerr := utils.AppendQuery(ctl.Config.FrontendURL, params)
	if uerr != nil {
		return uerr
	}
	return c.Redirect(target, fiber.StatusFound)
}

func callbackLookup(c *fiber.Ctx) func(string) string {
	var body map[string]string
	if c.Method() == fiber.MethodPost && strings.Contains(strings.ToLower(c.Get(fiber.HeaderContentType)), "json") {
		body = decodeFlatJSON(c.Body())
	}
	return func(name string) string {
		if v := c.Query(name); v != "" {
			return v
		}
		if body != nil {
			return body[name]
		}
		if c.Method() == fiber.MethodPost {
			return c.FormValue(name)
		}
		return ""
	}
}

// decodeFlatJSON reads a JSON object and renders its scalar values as strings.
func decodeFlatJSON(raw []byte) map[string]string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		switch x := v.(type) {
		case string:
			out[k] = x
		case json.Number:
			out[k] = x.String()
		case bool:
			out[k] = fmt.Sprint(x)
		}
	}
	return out
}
