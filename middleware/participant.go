// internal/middleware/participant_context.go
package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"
)

// ParticipantContextMiddleware extracts the participant identity set by the
// Gateway. X-User-ID is mandatory on secured routes; X-Team-ID is optional
// and only consulted for team campaigns.
func ParticipantContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		teamID := c.Get("X-Team-ID")

		if userID == "" {
			log.Printf("❌ [PARTICIPANT_CTX] X-User-ID missing on secured route: %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		// Attach to ctx for handlers
		c.Locals("user_id", userID)
		c.Locals("team_id", teamID)

		return c.Next()
	}
}
