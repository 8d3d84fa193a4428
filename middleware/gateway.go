package middleware

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// GatewayAuthMiddleware rejects any request that did not come through the
// platform gateway. The gateway signs every call with the shared service
// token, either as "Bearer <token>" or as the raw token value.
func GatewayAuthMiddleware() fiber.Handler {
	serviceToken := os.Getenv("WAR_SERVICE_TOKEN")
	if serviceToken == "" {
		log.Fatal("❌ WAR_SERVICE_TOKEN must be set, refusing to accept unauthenticated traffic")
	}

	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if header == "" {
			log.Printf("🚫 [GATEWAY] no Authorization header on %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing gateway token",
			})
		}

		if strings.TrimPrefix(header, "Bearer ") != serviceToken && header != serviceToken {
			log.Printf("🚫 [GATEWAY] bad token on %s %s", c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid gateway token",
			})
		}

		return c.Next()
	}
}
