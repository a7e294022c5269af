package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/GenFox/internal/pkg/env"
)

// AdminConfig holds the operator credentials for admin and metrics routes.
type AdminConfig struct {
	User     string
	Password string
}

// LoadAdminConfig reads ADMIN_USER / ADMIN_PASSWORD.
func LoadAdminConfig() AdminConfig {
	return AdminConfig{
		User:     env.GetEnv("ADMIN_USER", "admin"),
		Password: env.GetEnv("ADMIN_PASSWORD", ""),
	}
}

// RequireAdmin guards operator routes with basic auth. Without a configured
// password the routes are closed.
func RequireAdmin(cfg AdminConfig) fiber.Handler {
	if cfg.Password == "" {
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Admin access disabled"})
		}
	}
	return basicauth.New(basicauth.Config{
		Authorizer: func(user, pass string) bool {
			userOK := subtle.ConstantTimeCompare([]byte(user), []byte(cfg.User)) == 1
			passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(cfg.Password)) == 1
			return userOK && passOK
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="genfox-admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Admin credentials required"})
		},
	})
}
