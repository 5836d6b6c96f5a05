// Package server assembles the fiber application serving the catalog API.
package server

import (
	"time"

	"toko-catalog/internal/handlers"
	"toko-catalog/internal/middleware"
	"toko-catalog/internal/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

// Deps are the services the routes are served from.
type Deps struct {
	Products *services.ProductService
	Stats    *services.StatsService
	Auth     *services.AuthService
	Log      *zap.Logger

	// BodyLimit caps request bodies in bytes; multipart uploads carry several images.
	BodyLimit int
	// AccessLog enables fiber's request logger.
	AccessLog bool
	// Checks report the health of backing services by name.
	Checks map[string]func() error
}

// New builds the fiber app with every route registered under /api/v1.
func New(d Deps) *fiber.App {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		BodyLimit:             d.BodyLimit,
		DisableStartupMessage: true,
	})

	if d.AccessLog {
		app.Use(logger.New())
	}

	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.Map{}
		healthy := true
		for name, check := range d.Checks {
			if err := check(); err != nil {
				healthy = false
				status[name] = err.Error()
				continue
			}
			status[name] = "ok"
		}
		code, state := fiber.StatusOK, "healthy"
		if !healthy {
			code, state = fiber.StatusServiceUnavailable, "degraded"
		}
		return c.Status(code).JSON(fiber.Map{
			"status":   state,
			"time":     time.Now().Format(time.RFC3339),
			"services": status,
		})
	})

	apiV1 := app.Group("/api/v1")
	handlers.NewAuthHandler(d.Auth, d.Log).RegisterRoutes(apiV1)
	handlers.NewProductHandler(d.Products, d.Stats, d.Log).
		RegisterRoutes(apiV1, middleware.AuthRequired(d.Auth, d.Log))

	return app
}
