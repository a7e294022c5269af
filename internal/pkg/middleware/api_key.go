package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
)

// KeyTenant is the Locals key holding the authenticated *models.Tenant.
const KeyTenant = "TENANT"

// TenantLookup resolves a tenant by the hash of its API key.
type TenantLookup interface {
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Tenant, error)
}

// TenantAPIKeyMiddleware authenticates requests carrying a tenant API key header.
func TenantAPIKeyMiddleware(tenants TenantLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		tenant, err := tenants.GetByAPIKeyHash(c.UserContext(), models.HashAPIKey(apiKey))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("[Auth] Tenant lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}
		if !tenant.IsActive {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Tenant inactive"})
		}

		c.Locals(KeyTenant, tenant)
		return c.Next()
	}
}

// TenantFromCtx returns the tenant set by TenantAPIKeyMiddleware, or nil.
func TenantFromCtx(c *fiber.Ctx) *models.Tenant {
	tenant, _ := c.Locals(KeyTenant).(*models.Tenant)
	return tenant
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
