package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep behavior consistent
	"github.com/ManuelReschke/GenFox/app/controllers"
)

// APIServer implements the ServerInterface
type APIServer struct {
	generations *controllers.GenerationController
	accounts    *controllers.AccountController
	billing     *controllers.BillingController
	queue       *controllers.QueueController
}

// NewAPIServer creates a new API server instance
func NewAPIServer(
	generations *controllers.GenerationController,
	accounts *controllers.AccountController,
	billing *controllers.BillingController,
	queue *controllers.QueueController,
) *APIServer {
	return &APIServer{generations: generations, accounts: accounts, billing: billing, queue: queue}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostGeneration admits a generation request for the tenant behind the API key.
func (s *APIServer) PostGeneration(c *fiber.Ctx) error {
	return s.generations.HandleSubmit(c)
}

// GetGeneration returns status, progress, outputs and error of a job.
// Controller reads id from route params; wrapper already set it.
func (s *APIServer) GetGeneration(c *fiber.Ctx, id string) error {
	return s.generations.HandleGet(c)
}

func (s *APIServer) PostGenerationCancel(c *fiber.Ctx, id string) error {
	return s.generations.HandleCancel(c)
}

func (s *APIServer) GetGenerationUsage(c *fiber.Ctx, id string) error {
	return s.generations.HandleUsage(c)
}

func (s *APIServer) GetUserBalance(c *fiber.Ctx, userID string) error {
	return s.accounts.HandleBalance(c)
}

func (s *APIServer) GetUserLedger(c *fiber.Ctx, userID string) error {
	return s.accounts.HandleLedger(c)
}

func (s *APIServer) GetUserGenerations(c *fiber.Ctx, userID string) error {
	return s.accounts.HandleJobs(c)
}

// PostPurchaseWebhook credits tokens for a signed store purchase notification.
func (s *APIServer) PostPurchaseWebhook(c *fiber.Ctx) error {
	return s.billing.HandlePurchaseWebhook(c)
}

// GetAdminQueue reports queue depth and job counts. Admin only.
func (s *APIServer) GetAdminQueue(c *fiber.Ctx) error {
	return s.queue.HandleQueueStats(c)
}

func (s *APIServer) GetAdminQueueJob(c *fiber.Ctx, id string) error {
	return s.queue.HandleQueueJob(c)
}

func (s *APIServer) DeleteAdminQueueProgress(c *fiber.Ctx) error {
	return s.queue.HandleClearProgress(c)
}
