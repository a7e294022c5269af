package router

import (
	apiv1 "github.com/ManuelReschke/GenFox/internal/api/v1"

	"github.com/gofiber/fiber/v2"
)

type ApiRouter struct {
	server  apiv1.ServerInterface
	guards  apiv1.Guards
	limiter LimiterConfig
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", newLimiter(h.limiter))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")
	apiv1.RegisterHandlers(v1, h.server, h.guards)
}

func NewApiRouter(server apiv1.ServerInterface, guards apiv1.Guards, limiter LimiterConfig) *ApiRouter {
	return &ApiRouter{server: server, guards: guards, limiter: limiter}
}
