// Package handlers serves the peer replication API and the local item API.
package handlers

import (
	"context"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/soltixdb/distro/internal/codec"
	"github.com/soltixdb/distro/internal/compression"
	"github.com/soltixdb/distro/internal/distro"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/models"
)

// Node is the replication node the handlers drive. *distro.Protocol
// implements it.
type Node interface {
	Put(storeName, key string, value []byte) (models.Item, error)
	Get(storeName, key string) (models.Item, error)
	Remove(storeName, key string) (bool, error)

	OnReceiveItems(data models.StoreItems) (bool, error)
	ItemsFor(storeName string, keys []string) (models.Items, error)
	Snapshot() models.StoreItems
	OnReceiveChecksums(ctx context.Context, source string, digest models.Checksums) (distro.ReconcileResult, error)

	Initialized() bool
	Responsible(key string) bool
	Owner(key string) string
	Self() string
	HealthyMembers() []string
}

// MemberLister exposes the full membership view, unhealthy members included
type MemberLister interface {
	Members() []models.Member
}

// Config carries handler settings
type Config struct {
	Version string
	// PeerURL turns a member address into the base URL writes are proxied to
	PeerURL func(addr string) string
}

// Handler contains all HTTP handlers
type Handler struct {
	logger  *logging.Logger
	node    Node
	members MemberLister
	cfg     Config

	// reconciliations started by checksum pushes
	bg sync.WaitGroup
}

// New creates a new handler instance
func New(logger *logging.Logger, node Node, members MemberLister, cfg Config) *Handler {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Handler{
		logger:  logger.Component("http"),
		node:    node,
		members: members,
		cfg:     cfg,
	}
}

// Wait blocks until background reconciliations have finished
func (h *Handler) Wait() {
	h.bg.Wait()
}

// decodeBody reads a peer payload using the request's Content-Type and
// Content-Encoding. The raw body is used so that encodings fiber does not
// know about, such as snappy, reach the compression registry.
func decodeBody(c *fiber.Ctx, v any) error {
	cd, err := codec.ForContentType(c.Get(fiber.HeaderContentType))
	if err != nil {
		return fiber.NewError(fiber.StatusUnsupportedMediaType, err.Error())
	}
	comp, err := compression.ForContentEncoding(c.Get(fiber.HeaderContentEncoding))
	if err != nil {
		return fiber.NewError(fiber.StatusUnsupportedMediaType, err.Error())
	}

	body, err := comp.Decompress(c.Request().Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "decompress body: "+err.Error())
	}
	if err := cd.Unmarshal(body, v); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "decode body: "+err.Error())
	}
	return nil
}

// reply encodes v with the codec named by the Accept header, JSON otherwise
func reply(c *fiber.Ctx, v any) error {
	cd, err := codec.ForContentType(c.Get(fiber.HeaderAccept))
	if err != nil {
		cd = codec.JSON{}
	}
	body, err := cd.Marshal(v)
	if err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, cd.ContentType())
	return c.Send(body)
}
