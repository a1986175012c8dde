package middlewares

import (
	"errors"
	"log/slog"

	"adunlock/tracker"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ErrorHandler centralizes error responses and keeps messages sanitized.
func ErrorHandler(log *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		// 1) Fiber errors (use their status code + message)
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
		}

		// 2) Tracker validation (422 + the offending field)
		var tv *tracker.ValidationError
		if errors.As(err, &tv) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "validation failed",
				"errors":  map[string]string{tv.Field: tv.Reason},
			})
		}

		// 3) DTO validation (422 + per-field info)
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			out := make(map[string]string, len(ve))
			for _, fe := range ve {
				out[fe.Field()] = fe.Tag()
			}
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"message": "validation failed",
				"errors":  out,
			})
		}

		// 4) Storage failures: generic 503, details only in the log
		var se *tracker.StorageError
		if errors.As(err, &se) {
			log.Error("storage unavailable", "op", se.Op, "error", se.Err, "path", c.Path())
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"message": "storage unavailable",
			})
		}

		// 5) Unknown errors (500)
		log.Error("internal error", "error", err, "path", c.Path())
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"message": "internal server error",
		})
	}
}
