package middleware

import (
	"github.com/gofiber/fiber/v2"
)

const tenantLocalKey = "tenantID"

// NewTenantMiddleware rejects any request without an X-Tenant-Id header.
// Every inventory operation is scoped to exactly one tenant.
func NewTenantMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tenantID := c.Get("X-Tenant-Id")
		if tenantID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "X-Tenant-Id header is required",
			})
		}

		c.Locals(tenantLocalKey, tenantID)
		return c.Next()
	}
}

// TenantID returns the tenant resolved by NewTenantMiddleware.
func TenantID(c *fiber.Ctx) string {
	tenantID, _ := c.Locals(tenantLocalKey).(string)
	return tenantID
}
