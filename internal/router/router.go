package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soltixdb/distro/internal/config"
	"github.com/soltixdb/distro/internal/handlers"
	"github.com/soltixdb/distro/internal/logging"
	"github.com/soltixdb/distro/internal/middleware"
	"github.com/soltixdb/distro/internal/transport"
)

// Setup configures all routes and middlewares
func Setup(app *fiber.App, logger *logging.Logger, h *handlers.Handler, cfg config.Config, gatherer prometheus.Gatherer) {
	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-API-Key,X-Request-ID",
	}))
	app.Use(logging.FiberMiddlewareWithConfig(logger, logging.DefaultMiddlewareConfig()))

	// Health check (no auth required)
	app.Get("/health", h.Health)

	if cfg.Metrics.Enabled && gatherer != nil {
		app.Get(cfg.Metrics.Path, adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// Peer replication API
	app.Use(transport.PathPrefix, middleware.PeerIdentity(logger, cfg.Auth.Identity))
	app.Put(transport.PathItems, h.PushItems)
	app.Get(transport.PathItems, h.GetItems)
	app.Get(transport.PathAllItems, h.GetAllItems)
	app.Put(transport.PathChecksum, h.PushChecksums)

	// Local item API (protected by API key)
	v1 := app.Group("/v1", middleware.APIKeyAuth(logger, cfg.Auth.APIKeys, cfg.Auth.Enabled))
	v1.Get("/members", h.Members)
	v1.Put("/stores/:store/items/:key", h.PutItem)
	v1.Get("/stores/:store/items/:key", h.GetItem)
	v1.Delete("/stores/:store/items/:key", h.DeleteItem)

	// 404 handler
	app.Use(h.NotFound)
}

// New creates a new Fiber app with configuration
func New(logger *logging.Logger, h *handlers.Handler, cfg config.Config, gatherer prometheus.Gatherer) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "Distro Node",
		DisableStartupMessage: true,
		BodyLimit:             cfg.Server.BodyLimit,
		ReadBufferSize:        cfg.Server.ReadBufferSize,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		ErrorHandler:          middleware.ErrorHandler(logger),
		EnablePrintRoutes:     cfg.IsDevelopment(),
	})

	Setup(app, logger, h, cfg, gatherer)

	return app
}
