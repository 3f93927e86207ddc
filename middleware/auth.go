package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"chat-server/services"
)

const SessionCookieName = "session"

// RequireAuth validates the bearer session secret and loads the session into
// locals. The reason codes let the client pick the right recovery: refresh
// on expiry, full re-login on anything else, step-up on suspicion.
func RequireAuth(sessions *services.SessionManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		secret := BearerSecret(c)
		if secret == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
				"code":  "no_token",
			})
		}

		result, err := sessions.Validate(c.Context(), secret)
		if err != nil {
			slog.Error("Session validation failed", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
				"code":  "validation_failed",
			})
		}

		if !result.Valid {
			switch result.Reason {
			case services.ErrSessionExpired:
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Session expired",
					"code":  "expired",
				})
			case services.ErrSessionSuspicious:
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error": "Verification required",
					"code":  "step_up_required",
				})
			default:
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "Invalid session, please sign in again",
					"code":  "invalid",
				})
			}
		}

		c.Locals("user_id", result.Session.UserID)
		c.Locals("session", result.Session)

		return c.Next()
	}
}

// BearerSecret extracts the session secret from the Authorization header,
// falling back to the session cookie
func BearerSecret(c *fiber.Ctx) string {
	header := c.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Cookies(SessionCookieName)
}
