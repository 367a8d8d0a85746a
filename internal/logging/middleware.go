package logging

import (
	"slices"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// PeerHeader carries the advertise address of the calling node on peer requests
const PeerHeader = "X-Distro-Source"

// MiddlewareConfig defines configuration for logging middleware
type MiddlewareConfig struct {
	// SkipPaths are never logged
	SkipPaths []string

	// QuietPrefix logs successful requests under this path prefix at debug level
	QuietPrefix string

	// AdditionalFields adds custom fields to log entries
	AdditionalFields func(c *fiber.Ctx) []interface{}
}

// DefaultMiddlewareConfig skips probes and keeps replication traffic quiet
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		SkipPaths:   []string{"/health", "/metrics"},
		QuietPrefix: "/distro/",
	}
}

// FiberMiddleware returns a Fiber middleware for request logging
func FiberMiddleware(logger *Logger) fiber.Handler {
	return FiberMiddlewareWithConfig(logger, MiddlewareConfig{})
}

// FiberMiddlewareWithConfig assigns every request an X-Request-ID, stores it
// with the calling peer in the user context and logs the outcome
func FiberMiddlewareWithConfig(logger *Logger, cfg MiddlewareConfig) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if slices.Contains(cfg.SkipPaths, c.Path()) {
			return c.Next()
		}

		start := time.Now()

		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set(fiber.HeaderXRequestID, requestID)

		ctx := WithLogger(WithRequestID(c.UserContext(), requestID), logger)
		if peer := c.Get(PeerHeader); peer != "" {
			ctx = WithPeer(ctx, peer)
		}
		c.SetUserContext(ctx)

		err := c.Next()

		duration := time.Since(start)
		status := c.Response().StatusCode()
		fields := []interface{}{
			"method", c.Method(),
			"path", c.Path(),
			"ip", c.IP(),
			"status", status,
			"duration_ms", duration.Milliseconds(),
			"request_id", requestID,
		}
		if peer := c.Get(PeerHeader); peer != "" {
			fields = append(fields, "peer", peer)
		}
		if cfg.AdditionalFields != nil {
			fields = append(fields, cfg.AdditionalFields(c)...)
		}

		if err != nil {
			logger.Error("Request failed", append(fields, "error", err)...)
			return err
		}

		switch {
		case status >= 500:
			logger.Error("Server error", fields...)
		case status >= 400:
			logger.Warn("Client error", fields...)
		case cfg.QuietPrefix != "" && strings.HasPrefix(c.Path(), cfg.QuietPrefix):
			logger.Debug("Request completed", fields...)
		default:
			logger.Info("Request completed", fields...)
		}
		return nil
	}
}
