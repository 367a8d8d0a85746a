package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/distro/internal/distro"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/transport"
)

// PushItems applies items pushed by the owner of their keys. Replies 200
// when anything changed and 304 otherwise.
func (h *Handler) PushItems(c *fiber.Ctx) error {
	var data models.StoreItems
	if err := decodeBody(c, &data); err != nil {
		return err
	}

	modified, err := h.node.OnReceiveItems(data)
	if err != nil {
		// Partial failures are per item; whatever applied stays applied
		h.logger.Warn("Pushed items partially rejected",
			"peer", c.Get(transport.HeaderSource),
			"items", data.Len(),
			"error", err,
		)
	}

	if !modified {
		return c.SendStatus(fiber.StatusNotModified)
	}
	return c.SendStatus(fiber.StatusOK)
}

// GetItems returns the requested keys of one store
func (h *Handler) GetItems(c *fiber.Ctx) error {
	storeName := c.Query("storeName")
	if storeName == "" {
		return fiber.NewError(fiber.StatusBadRequest, "storeName is required")
	}

	var keys []string
	if raw := c.Query("keys"); raw != "" {
		keys = strings.Split(raw, ",")
	}

	items, err := h.node.ItemsFor(storeName, keys)
	if err != nil {
		return err
	}
	return reply(c, items)
}

// GetAllItems returns the full contents of every store
func (h *Handler) GetAllItems(c *fiber.Ctx) error {
	return reply(c, h.node.Snapshot())
}

// PushChecksums acknowledges a digest and reconciles against it in the
// background
func (h *Handler) PushChecksums(c *fiber.Ctx) error {
	source := c.Query("source")
	if source == "" {
		return fiber.NewError(fiber.StatusBadRequest, "source is required")
	}

	var digest models.Checksums
	if err := decodeBody(c, &digest); err != nil {
		return err
	}

	logger := h.logger.WithContext(c.UserContext())
	h.bg.Add(1)
	go func() {
		defer h.bg.Done()
		h.reconcile(logger, source, digest)
	}()

	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) reconcile(logger *logging.Logger, source string, digest models.Checksums) {
	res, err := h.node.OnReceiveChecksums(context.Background(), source, digest)
	switch {
	case errors.Is(err, distro.ErrReconcileInProgress):
		logger.Debug("Skipped checksums, previous round still running", "source", source)
	case errors.Is(err, distro.ErrProtocolViolation):
		// logged and counted by the protocol
	case err != nil:
		logger.Warn("Reconcile failed", "source", source, "error", err)
	case res.Updated > 0 || res.Removed > 0:
		logger.Debug("Reconciled with peer",
			"source", source,
			"updated", res.Updated,
			"removed", res.Removed,
		)
	}
}
