package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"mailreach/config"
	"mailreach/utils"
)

// CronToken guards the job trigger endpoints with a shared secret. Callers
// pass the token in the X-Cron-Token header. When no token is configured
// the guard only allows requests outside production.
func CronToken() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := config.AppConfig.CronToken

		if token == "" {
			if config.AppConfig.Environment == "production" {
				return utils.ErrorResponse(c, fiber.StatusForbidden,
					"Job endpoints are disabled: no cron token configured", nil)
			}
			return c.Next()
		}

		provided := c.Get("X-Cron-Token")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
			return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid cron token", nil)
		}
		return c.Next()
	}
}
