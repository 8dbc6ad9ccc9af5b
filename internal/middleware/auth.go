package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/JoshuaJosiahMcMahon/SkillSwapFinalSubmission/pkg/utils"
)

const (
	localsUserID = "user_id"
	localsRole   = "role"
	localsClaims = "claims"
)

// AuthRequired validates the Bearer token and exposes the caller's identity
// to downstream handlers: user_id and role as string Locals, plus the full
// typed claims under "claims".
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString, ok := bearerToken(c)
		if !ok {
			return unauthorized(c, "Missing or malformed authorization header")
		}

		claims, err := utils.ValidateToken(tokenString, secret)
		if err != nil {
			return unauthorized(c, "Invalid or expired token")
		}

		c.Locals(localsUserID, claims.UserID)
		c.Locals(localsRole, claims.Role)
		c.Locals(localsClaims, claims)

		return c.Next()
	}
}

// RequireRole passes the request through only when the authenticated role is
// one of the given ones. Must be mounted after AuthRequired.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(localsRole).(string)
		for _, allowed := range roles {
			if role == allowed {
				return c.Next()
			}
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient role for this resource",
		})
	}
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	header := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !found || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", false
	}
	return token, true
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": message})
}
