package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/proxy"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
	"github.com/soltixdb/distro/internal/transport"
)

// PutItem writes a value. Writes for keys owned by another member are
// forwarded to that member.
func (h *Handler) PutItem(c *fiber.Ctx) error {
	storeName, key, err := itemParams(c)
	if err != nil {
		return err
	}
	if forwarded, err := h.forwardToOwner(c, key); forwarded {
		return err
	}

	item, err := h.node.Put(storeName, key, c.Body())
	if err != nil {
		return err
	}

	return c.JSON(models.WriteResponse{
		Accepted:  true,
		Store:     storeName,
		Key:       key,
		Checksum:  item.Checksum,
		RequestID: logging.RequestID(c.UserContext()),
	})
}

// GetItem reads the local copy of a key. Reads are never forwarded.
func (h *Handler) GetItem(c *fiber.Ctx) error {
	storeName, key, err := itemParams(c)
	if err != nil {
		return err
	}

	item, err := h.node.Get(storeName, key)
	if err != nil {
		return err
	}

	return c.JSON(models.ItemResponse{
		Store:        storeName,
		Key:          key,
		Value:        string(item.Value),
		Checksum:     item.Checksum,
		LastModified: item.LastModified,
		Owner:        h.node.Owner(key),
	})
}

// DeleteItem removes a key on its owner
func (h *Handler) DeleteItem(c *fiber.Ctx) error {
	storeName, key, err := itemParams(c)
	if err != nil {
		return err
	}
	if forwarded, err := h.forwardToOwner(c, key); forwarded {
		return err
	}

	removed, err := h.node.Remove(storeName, key)
	if err != nil {
		return err
	}
	if !removed {
		return fiber.NewError(fiber.StatusNotFound, "key not found")
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func itemParams(c *fiber.Ctx) (string, string, error) {
	storeName, err := url.PathUnescape(c.Params("store"))
	if err != nil {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "invalid store")
	}
	key, err := url.PathUnescape(c.Params("key"))
	if err != nil || key == "" {
		return "", "", fiber.NewError(fiber.StatusBadRequest, "invalid key")
	}
	return storeName, key, nil
}

// forwardToOwner proxies the request to the member responsible for key.
// Requests already forwarded by a peer are handled locally whatever the
// current routing says, so a routing disagreement cannot bounce forever.
func (h *Handler) forwardToOwner(c *fiber.Ctx, key string) (bool, error) {
	if h.cfg.PeerURL == nil || c.Get(transport.HeaderSource) != "" || h.node.Responsible(key) {
		return false, nil
	}

	owner := h.node.Owner(key)
	if owner == h.node.Self() {
		return false, nil
	}

	target := h.cfg.PeerURL(owner) + c.OriginalURL()
	c.Request().Header.Set(transport.HeaderSource, h.node.Self())

	h.logger.Debug("Forwarding write to owner", "key", key, "owner", owner)
	if err := proxy.Do(c, target); err != nil {
		h.logger.Warn("Failed to forward write", "key", key, "owner", owner, "error", err)
		return true, fiber.NewError(fiber.StatusBadGateway, "owner "+owner+" unreachable")
	}
	return true, nil
}
