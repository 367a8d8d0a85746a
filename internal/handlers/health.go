package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/distro/internal/models"
)

// Health reports liveness. Status stays "starting" until bootstrap has
// loaded data from a peer.
func (h *Handler) Health(c *fiber.Ctx) error {
	status := "up"
	initialized := h.node.Initialized()
	if !initialized {
		status = "starting"
	}

	return c.JSON(models.HealthResponse{
		Status:      status,
		Timestamp:   time.Now().Format(time.RFC3339),
		Version:     h.cfg.Version,
		Address:     h.node.Self(),
		Initialized: initialized,
		Members:     len(h.node.HealthyMembers()),
	})
}

// Members lists the membership view
func (h *Handler) Members(c *fiber.Ctx) error {
	var members []models.Member
	if h.members != nil {
		members = h.members.Members()
	} else {
		for _, addr := range h.node.HealthyMembers() {
			members = append(members, models.Member{Address: addr, Healthy: true})
		}
	}

	return c.JSON(models.MembersResponse{
		Self:    h.node.Self(),
		Members: members,
	})
}

// NotFound handles 404 errors
func (h *Handler) NotFound(c *fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
		Error: models.ErrorDetail{
			Code:    "NOT_FOUND",
			Message: "Route not found",
			Path:    c.Path(),
		},
	})
}
