package middlewares

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const callbackSecretHeader = "X-Callback-Secret"

// CallbackSecret rejects ad-network callbacks that do not carry the shared
// secret, either as ?secret= or in the X-Callback-Secret header. An empty
// secret disables the check.
func CallbackSecret(secret string) fiber.Handler {
	want := []byte(strings.TrimSpace(secret))
	return func(c *fiber.Ctx) error {
		if len(want) == 0 {
			return c.Next()
		}
		got := strings.TrimSpace(c.Get(callbackSecretHeader))
		if got == "" {
			got = strings.TrimSpace(c.Query("secret"))
		}
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			return fiber.NewError(fiber.StatusForbidden, "invalid callback secret")
		}
		return c.Next()
	}
}
