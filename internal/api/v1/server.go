package apiv1

import (
	"github.com/gofiber/fiber/v2"
)

// Pong is the body of GET /ping.
type Pong struct {
	Ping string `json:"ping"`
}

// ServerInterface lists the v1 operations documented in public/docs/v1/openapi.yml.
type ServerInterface interface {
	GetPing(c *fiber.Ctx) error
	PostGeneration(c *fiber.Ctx) error
	GetGeneration(c *fiber.Ctx, id string) error
	PostGenerationCancel(c *fiber.Ctx, id string) error
	GetGenerationUsage(c *fiber.Ctx, id string) error
	GetUserBalance(c *fiber.Ctx, userID string) error
	GetUserLedger(c *fiber.Ctx, userID string) error
	GetUserGenerations(c *fiber.Ctx, userID string) error
	PostPurchaseWebhook(c *fiber.Ctx) error
	GetAdminQueue(c *fiber.Ctx) error
	GetAdminQueueJob(c *fiber.Ctx, id string) error
	DeleteAdminQueueProgress(c *fiber.Ctx) error
}

// Scope selects the guard placed in front of a route.
type Scope int

const (
	ScopePublic Scope = iota
	ScopeTenant
	ScopeAdmin
)

// Route is one v1 endpoint in fiber path syntax.
type Route struct {
	Method string
	Path   string
	Scope  Scope
	handle func(si ServerInterface, c *fiber.Ctx) error
}

// Routes is the v1 routing table.
var Routes = []Route{
	{fiber.MethodGet, "/ping", ScopePublic, func(si ServerInterface, c *fiber.Ctx) error { return si.GetPing(c) }},
	{fiber.MethodPost, "/generations", ScopeTenant, func(si ServerInterface, c *fiber.Ctx) error { return si.PostGeneration(c) }},
	{fiber.MethodGet, "/generations/:id", ScopeTenant, func(si ServerInterface, c *fiber.Ctx) error { return si.GetGeneration(c, c.Params("id")) }},
	{fiber.MethodPost, "/generations/:id/cancel", ScopeTenant, func(si ServerInterface, c *fiber.Ctx) error {
		return si.PostGenerationCancel(c, c.Params("id"))
	}},
	{fiber.MethodGet, "/generations/:id/usage", ScopeTenant, func(si ServerInterface, c *fiber.Ctx) error {
		return si.GetGenerationUsage(c, c.Params("id"))
	}},
	{fiber.MethodGet, "/users/:user_id/balance", ScopeTenant, func(si ServerInterface, c *fiber.Ctx) error {
		return si.GetUserBalance(c, c.Params("user_id"))
	}},
	{fiber.MethodGet, "/users/:user_id/ledger", ScopeTenant, func(si ServerInterface, c *fiber.Ctx) error {
		return si.GetUserLedger(c, c.Params("user_id"))
	}},
	{fiber.MethodGet, "/users/:user_id/generations", ScopeTenant, func(si ServerInterface, c *fiber.Ctx) error {
		return si.GetUserGenerations(c, c.Params("user_id"))
	}},
	{fiber.MethodPost, "/webhooks/purchases", ScopeTenant, func(si ServerInterface, c *fiber.Ctx) error { return si.PostPurchaseWebhook(c) }},
	{fiber.MethodGet, "/admin/queue", ScopeAdmin, func(si ServerInterface, c *fiber.Ctx) error { return si.GetAdminQueue(c) }},
	{fiber.MethodGet, "/admin/queue/jobs/:id", ScopeAdmin, func(si ServerInterface, c *fiber.Ctx) error {
		return si.GetAdminQueueJob(c, c.Params("id"))
	}},
	{fiber.MethodDelete, "/admin/queue/progress", ScopeAdmin, func(si ServerInterface, c *fiber.Ctx) error {
		return si.DeleteAdminQueueProgress(c)
	}},
}

// Guards holds the middleware for the non-public scopes.
type Guards struct {
	Tenant fiber.Handler
	Admin  fiber.Handler
}

// RegisterHandlers mounts every v1 route on router.
func RegisterHandlers(router fiber.Router, si ServerInterface, guards Guards) {
	for _, r := range Routes {
		r := r
		handlers := make([]fiber.Handler, 0, 2)
		switch r.Scope {
		case ScopeTenant:
			if guards.Tenant != nil {
				handlers = append(handlers, guards.Tenant)
			}
		case ScopeAdmin:
			if guards.Admin != nil {
				handlers = append(handlers, guards.Admin)
			}
		}
		handlers = append(handlers, func(c *fiber.Ctx) error { return r.handle(si, c) })
		router.Add(r.Method, r.Path, handlers...)
	}
}
