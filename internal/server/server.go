package server

import (
	"log"
	"time"

	"procedure-assistant-be/internal/bootstrap"
	"procedure-assistant-be/internal/config"
	"procedure-assistant-be/internal/pkg/serverutils"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

type Server struct {
	app       *fiber.App
	cfg       *config.Config
	container *bootstrap.Container
}

func New(cfg *config.Config, container *bootstrap.Container) *Server {
	app := fiber.New(fiber.Config{
		AppName:   "procedure-assistant",
		BodyLimit: 1 * 1024 * 1024, // queries are short
	})

	// Middleware
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.App.CorsAllowedOrigins,
		AllowCredentials: true,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowMethods:     "GET, POST, DELETE, OPTIONS",
		ExposeHeaders:    "Content-Length, Content-Type",
	}))

	// OpenTelemetry tracing middleware (traces all HTTP requests)
	app.Use(otelfiber.Middleware())

	app.Use(serverutils.ErrorHandlerMiddleware())

	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.JSON(serverutils.SuccessResponse("ok", container.RoutingCacheService.Status()))
	})
	// Not ready until a routing cache artifact is loaded
	app.Get("/readyz", func(ctx *fiber.Ctx) error {
		status := container.RoutingCacheService.Status()
		if !status.Loaded {
			return ctx.Status(fiber.StatusServiceUnavailable).
				JSON(serverutils.ErrorResponse(fiber.StatusServiceUnavailable, "Routing cache not loaded"))
		}
		return ctx.JSON(serverutils.SuccessResponse("ready", status))
	})

	// Routes
	registerRoutes(app, container)

	return &Server{
		app:       app,
		cfg:       cfg,
		container: container,
	}
}

func (s *Server) GetApp() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	log.Printf("✅ Server is running on http://localhost:%s", s.cfg.App.Port)
	return s.app.Listen(":" + s.cfg.App.Port)
}

// Shutdown stops accepting connections and waits up to 10s for in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(10 * time.Second)
}

func registerRoutes(app *fiber.App, c *bootstrap.Container) {
	api := app.Group("/api")

	c.AssistantController.RegisterRoutes(api)
	c.RoutingAdminController.RegisterRoutes(api)
}
