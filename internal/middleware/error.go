package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/distro/internal/distro"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/store"
)

// ErrorHandler renders handler errors as models.ErrorResponse. Store and
// protocol sentinels map to their own status codes.
func ErrorHandler(logger *logging.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, errCode, message := classify(err)

		fields := []interface{}{
			"path", c.Path(),
			"method", c.Method(),
			"status", code,
			"error", err,
		}
		if code >= fiber.StatusInternalServerError {
			logger.Error("Request error", fields...)
		} else {
			logger.Debug("Request rejected", fields...)
		}

		return c.Status(code).JSON(models.ErrorResponse{
			Error: models.ErrorDetail{
				Code:    errCode,
				Message: message,
				Path:    c.Path(),
			},
		})
	}
}

func classify(err error) (int, string, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, "ERROR", fe.Message
	case errors.Is(err, store.ErrStoreNotFound):
		return fiber.StatusNotFound, "STORE_NOT_FOUND", err.Error()
	case errors.Is(err, store.ErrKeyNotFound):
		return fiber.StatusNotFound, "KEY_NOT_FOUND", err.Error()
	case errors.Is(err, store.ErrInvalidValue):
		return fiber.StatusBadRequest, "INVALID_VALUE", err.Error()
	case errors.Is(err, distro.ErrProtocolViolation):
		return fiber.StatusConflict, "PROTOCOL_VIOLATION", err.Error()
	case errors.Is(err, distro.ErrReconcileInProgress):
		return fiber.StatusTooManyRequests, "RECONCILE_IN_PROGRESS", err.Error()
	}
	return fiber.StatusInternalServerError, "ERROR", "Internal Server Error"
}
