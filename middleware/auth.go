// middleware/auth.go
package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// ServiceAuthMiddleware validates the X-Service-Token shared between devices
// and the stub backend. An empty expected token disables the check (local
// development without secrets).
func ServiceAuthMiddleware(expectedToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if expectedToken == "" {
			return c.Next()
		}
		token := c.Get("X-Service-Token")
		if token == "" {
			log.Printf("🚫 [SERVICE_AUTH] Missing X-Service-Token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "service token missing",
			})
		}
		if token != expectedToken {
			log.Printf("❌ [SERVICE_AUTH] Invalid token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service token",
			})
		}
		return c.Next()
	}
}

// MemberContextMiddleware extracts the calling member's identity for routes
// that validate turn ownership. Attached to ctx for handlers.
func MemberContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		memberID := c.Get("X-Member-ID")
		c.Locals("member_id", memberID)
		return c.Next()
	}
}
