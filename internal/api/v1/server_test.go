package apiv1

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const specPath = "../../../" + DefaultSpecPath

func TestSpecDocumentsEveryRoute(t *testing.T) {
	doc, err := LoadSpec(context.Background(), specPath)
	require.NoError(t, err)
	assert.NoError(t, CheckRoutes(doc))
}

func TestOpenAPIPath(t *testing.T) {
	assert.Equal(t, "/generations/{id}/cancel", OpenAPIPath("/generations/:id/cancel"))
	assert.Equal(t, "/users/{user_id}/ledger", OpenAPIPath("/users/:user_id/ledger"))
	assert.Equal(t, "/ping", OpenAPIPath("/ping"))
}

// echoServer answers every operation with its name and path parameter.
type echoServer struct{}

func (echoServer) reply(c *fiber.Ctx, op, param string) error {
	return c.SendString(op + ":" + param)
}

func (s echoServer) GetPing(c *fiber.Ctx) error        { return s.reply(c, "GetPing", "") }
func (s echoServer) PostGeneration(c *fiber.Ctx) error { return s.reply(c, "PostGeneration", "") }
func (s echoServer) GetGeneration(c *fiber.Ctx, id string) error {
	return s.reply(c, "GetGeneration", id)
}
func (s echoServer) PostGenerationCancel(c *fiber.Ctx, id string) error {
	return s.reply(c, "PostGenerationCancel", id)
}
func (s echoServer) GetGenerationUsage(c *fiber.Ctx, id string) error {
	return s.reply(c, "GetGenerationUsage", id)
}
func (s echoServer) GetUserBalance(c *fiber.Ctx, userID string) error {
	return s.reply(c, "GetUserBalance", userID)
}
func (s echoServer) GetUserLedger(c *fiber.Ctx, userID string) error {
	return s.reply(c, "GetUserLedger", userID)
}
func (s echoServer) GetUserGenerations(c *fiber.Ctx, userID string) error {
	return s.reply(c, "GetUserGenerations", userID)
}
func (s echoServer) PostPurchaseWebhook(c *fiber.Ctx) error {
	return s.reply(c, "PostPurchaseWebhook", "")
}
func (s echoServer) GetAdminQueue(c *fiber.Ctx) error { return s.reply(c, "GetAdminQueue", "") }
func (s echoServer) GetAdminQueueJob(c *fiber.Ctx, id string) error {
	return s.reply(c, "GetAdminQueueJob", id)
}
func (s echoServer) DeleteAdminQueueProgress(c *fiber.Ctx) error {
	return s.reply(c, "DeleteAdminQueueProgress", "")
}

func TestRegisterHandlers(t *testing.T) {
	deny := func(c *fiber.Ctx) error {
		if c.Get("X-Allow") == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return c.Next()
	}
	app := fiber.New()
	RegisterHandlers(app.Group("/api/v1"), echoServer{}, Guards{Tenant: deny, Admin: deny})

	tests := []struct {
		method string
		path   string
		allow  bool
		status int
		body   string
	}{
		{"GET", "/api/v1/ping", false, fiber.StatusOK, "GetPing:"},
		{"GET", "/api/v1/generations/job-9", false, fiber.StatusUnauthorized, ""},
		{"GET", "/api/v1/generations/job-9", true, fiber.StatusOK, "GetGeneration:job-9"},
		{"POST", "/api/v1/generations/job-9/cancel", true, fiber.StatusOK, "PostGenerationCancel:job-9"},
		{"GET", "/api/v1/users/u-1/balance", true, fiber.StatusOK, "GetUserBalance:u-1"},
		{"GET", "/api/v1/admin/queue", false, fiber.StatusUnauthorized, ""},
		{"DELETE", "/api/v1/admin/queue/progress", true, fiber.StatusOK, "DeleteAdminQueueProgress:"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.allow {
				req.Header.Set("X-Allow", "1")
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			if tt.body != "" {
				raw, _ := io.ReadAll(resp.Body)
				assert.Equal(t, tt.body, string(raw))
			}
		})
	}
}
