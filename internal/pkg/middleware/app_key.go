package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/picmetahq/picmeta/internal/pkg/metrics/counter"
)

const (
	// LocalsAppKey holds the raw app key extracted from the request.
	LocalsAppKey = "APP_KEY"
	// LocalsDeviceID holds the device identifier presented with the request.
	LocalsDeviceID = "DEVICE_ID"
)

// AppKeyMiddleware extracts the app key and device id headers and makes
// them available to handlers. Entitlement checks themselves run in the
// service layer so their lazy reconciliation happens exactly once per
// request.
func AppKeyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		appKey := extractAppKeyFromHeader(c)
		if appKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing app key"})
		}

		deviceID := strings.TrimSpace(c.Get("X-Device-ID"))
		if deviceID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Missing X-Device-ID header"})
		}

		c.Locals(LocalsAppKey, appKey)
		c.Locals(LocalsDeviceID, deviceID)

		if err := counter.AddKeyRequest(appKey); err != nil {
			log.Debugf("[Middleware] Request counter increment failed: %v", err)
		}

		return c.Next()
	}
}

func extractAppKeyFromHeader(c *fiber.Ctx) string {
	appKey := strings.TrimSpace(c.Get("X-API-Key"))
	if appKey != "" {
		return appKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
