package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/transport"
)

// MinAPIKeyLength is the minimum required length for API keys
const MinAPIKeyLength = 32

// ValidateAPIKey reports whether key is long enough and not blank
func ValidateAPIKey(key string) bool {
	return len(key) >= MinAPIKeyLength && strings.TrimSpace(key) != ""
}

// APIKeyAuth guards the local item API. Keys come from X-API-Key or an
// Authorization header with or without the Bearer scheme. Configured keys
// that fail ValidateAPIKey are ignored.
func APIKeyAuth(logger *logging.Logger, apiKeys []string, enabled bool) fiber.Handler {
	if !enabled {
		return passThrough
	}

	valid := make(map[string]struct{}, len(apiKeys))
	for _, key := range apiKeys {
		if key == "" {
			continue
		}
		if !ValidateAPIKey(key) {
			logger.Warn("API key does not meet security requirements",
				"key_length", len(key),
				"min_required", MinAPIKeyLength,
				"key_prefix", maskAPIKey(key),
			)
			continue
		}
		valid[key] = struct{}{}
	}
	if len(valid) == 0 {
		logger.Error("No valid API keys configured, every local API request will be rejected",
			"total_keys", len(apiKeys),
			"min_required_length", MinAPIKeyLength,
		)
	}

	return func(c *fiber.Ctx) error {
		key := apiKeyFrom(c)
		if key == "" {
			logger.Warn("API key missing", "path", c.Path(), "method", c.Method(), "ip", c.IP())
			return unauthorized(c, "API key is required. Provide it via X-API-Key header or Authorization header.")
		}
		if _, ok := valid[key]; !ok {
			logger.Warn("Invalid API key",
				"path", c.Path(),
				"method", c.Method(),
				"ip", c.IP(),
				"api_key_prefix", maskAPIKey(key),
			)
			return unauthorized(c, "Invalid API key.")
		}
		return c.Next()
	}
}

// PeerIdentity rejects peer requests whose X-Distro-Identity header does not
// match identity. An empty identity lets every request through.
func PeerIdentity(logger *logging.Logger, identity string) fiber.Handler {
	if identity == "" {
		return passThrough
	}

	want := []byte(identity)
	return func(c *fiber.Ctx) error {
		got := c.Get(transport.HeaderIdentity)
		if subtle.ConstantTimeCompare([]byte(got), want) == 1 {
			return c.Next()
		}

		logger.Warn("Peer identity mismatch",
			"path", c.Path(),
			"method", c.Method(),
			"ip", c.IP(),
			"peer", c.Get(transport.HeaderSource),
		)
		return unauthorized(c, "Peer identity missing or invalid.")
	}
}

func passThrough(c *fiber.Ctx) error {
	return c.Next()
}

func apiKeyFrom(c *fiber.Ctx) string {
	if key := c.Get("X-API-Key"); key != "" {
		return key
	}
	auth := c.Get(fiber.HeaderAuthorization)
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return auth
}

func unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "UNAUTHORIZED",
			Message: message,
			Path:    c.Path(),
		},
	})
}

// maskAPIKey keeps the first four characters for logs
func maskAPIKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return key[:4] + "****"
}
