package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
	"github.com/ManuelReschke/GenFox/internal/pkg/middleware"
)

// AccountService exposes the token accounts of a tenant's users.
type AccountService interface {
	Balance(ctx context.Context, tenantID uint, externalID string) (ledger.Balances, error)
	History(ctx context.Context, tenantID uint, externalID string, limit, offset int) ([]models.TokenLedgerEntry, error)
	ListJobs(ctx context.Context, tenantID uint, externalID string, limit, offset int) ([]models.GenerationJob, error)
}

type AccountController struct {
	svc AccountService
}

func NewAccountController(svc AccountService) *AccountController {
	return &AccountController{svc: svc}
}

// HandleBalance returns the raw and effective token balance of a user.
func (ac *AccountController) HandleBalance(c *fiber.Ctx) error {
	tenant := middleware.TenantFromCtx(c)
	if tenant == nil {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
	}

	userID := c.Params("user_id")
	b, err := ac.svc.Balance(c.UserContext(), tenant.ID, userID)
	if err != nil {
		return serviceError(c, err)
	}
	return c.JSON(fiber.Map{
		"user_id":           userID,
		"balance":           b.Raw,
		"effective_balance": b.Effective,
	})
}

// HandleLedger returns a page of the user's ledger entries, newest first.
func (ac *AccountController) HandleLedger(c *fiber.Ctx) error {
	tenant := middleware.TenantFromCtx(c)
	if tenant == nil {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
	}

	limit := queryInt(c, "limit", 50)
	offset := queryInt(c, "offset", 0)
	entries, err := ac.svc.History(c.UserContext(), tenant.ID, c.Params("user_id"), limit, offset)
	if err != nil {
		return serviceError(c, err)
	}

	items := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		items = append(items, fiber.Map{
			"id":            e.ID,
			"amount":        e.Amount,
			"balance_after": e.BalanceAfter,
			"type":          e.Type,
			"job_id":        e.JobID,
			"description":   e.Description,
			"expires_at":    formatTimePtr(e.ExpiresAt),
			"created_at":    e.CreatedAt.UTC().Format(timeLayout),
		})
	}
	return c.JSON(fiber.Map{"entries": items, "limit": limit, "offset": offset})
}

// HandleJobs lists a user's jobs, newest first.
func (ac *AccountController) HandleJobs(c *fiber.Ctx) error {
	tenant := middleware.TenantFromCtx(c)
	if tenant == nil {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
	}

	limit := queryInt(c, "limit", 20)
	offset := queryInt(c, "offset", 0)
	jobs, err := ac.svc.ListJobs(c.UserContext(), tenant.ID, c.Params("user_id"), limit, offset)
	if err != nil {
		return serviceError(c, err)
	}

	items := make([]fiber.Map, 0, len(jobs))
	for i := range jobs {
		items = append(items, jobResponse(&jobs[i]))
	}
	return c.JSON(fiber.Map{"jobs": items, "limit": limit, "offset": offset})
}
