package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/generation"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
	"github.com/ManuelReschke/GenFox/internal/pkg/middleware"
)

// GenerationService is the admission service as seen by the HTTP layer.
type GenerationService interface {
	Submit(ctx context.Context, tenant *models.Tenant, req generation.SubmitRequest) (*generation.Submission, error)
	Get(ctx context.Context, tenantID uint, jobID string) (*models.GenerationJob, error)
	Cancel(ctx context.Context, tenantID uint, jobID string) (*models.GenerationJob, error)
	ListUsage(ctx context.Context, tenantID uint, jobID string) ([]models.ProviderUsageLog, error)
}

// ProgressReader returns the cached progress of a running job.
type ProgressReader interface {
	Get(ctx context.Context, jobID string) (int, bool, error)
}

type GenerationController struct {
	svc      GenerationService
	progress ProgressReader
}

func NewGenerationController(svc GenerationService, progress ProgressReader) *GenerationController {
	return &GenerationController{svc: svc, progress: progress}
}

// HandleSubmit admits a generation request and answers 202 with the queued job.
func (gc *GenerationController) HandleSubmit(c *fiber.Ctx) error {
	tenant := middleware.TenantFromCtx(c)
	if tenant == nil {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
	}

	var req generation.SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "bad_request", "Invalid JSON body")
	}

	sub, err := gc.svc.Submit(c.UserContext(), tenant, req)
	if sub != nil {
		setRateLimitHeaders(c, sub.Decision)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientTokens) && sub != nil {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":   "insufficient_tokens",
				"message": "Not enough tokens",
				"balance": sub.Balance,
			})
		}
		return serviceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job":     jobResponse(sub.Job),
		"balance": sub.Balance,
	})
}

// HandleGet returns status, outputs and error of a job.
func (gc *GenerationController) HandleGet(c *fiber.Ctx) error {
	tenant := middleware.TenantFromCtx(c)
	if tenant == nil {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
	}

	job, err := gc.svc.Get(c.UserContext(), tenant.ID, c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	resp := jobResponse(job)
	if job.Status == models.JobStatusRunning && gc.progress != nil {
		if p, ok, err := gc.progress.Get(c.UserContext(), job.ID); err != nil {
			log.Warnf("[API] Progress lookup for job %s failed: %v", job.ID, err)
		} else if ok && p > job.Progress {
			resp["progress"] = p
		}
	}
	return c.JSON(resp)
}

// HandleCancel cancels a queued job.
func (gc *GenerationController) HandleCancel(c *fiber.Ctx) error {
	tenant := middleware.TenantFromCtx(c)
	if tenant == nil {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
	}

	job, err := gc.svc.Cancel(c.UserContext(), tenant.ID, c.Params("id"))
	if err != nil {
		if errors.Is(err, generation.ErrNotCancellable) && job != nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":   "not_cancellable",
				"message": "Job is " + string(job.Status) + " and can no longer be cancelled",
				"job":     jobResponse(job),
			})
		}
		return serviceError(c, err)
	}
	return c.JSON(jobResponse(job))
}

// HandleUsage lists the provider attempts of a job.
func (gc *GenerationController) HandleUsage(c *fiber.Ctx) error {
	tenant := middleware.TenantFromCtx(c)
	if tenant == nil {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
	}

	rows, err := gc.svc.ListUsage(c.UserContext(), tenant.ID, c.Params("id"))
	if err != nil {
		return serviceError(c, err)
	}
	attempts := make([]fiber.Map, 0, len(rows))
	for _, r := range rows {
		attempts = append(attempts, fiber.Map{
			"attempt":           r.AttemptNumber,
			"provider":          r.ProviderKey,
			"provider_model_id": r.ProviderModelID,
			"success":           r.Success,
			"cost":              r.Cost,
			"latency_ms":        r.LatencyMs,
			"input_tokens":      r.InputTokens,
			"output_tokens":     r.OutputTokens,
			"total_tokens":      r.TotalTokens,
			"error_message":     r.ErrorMessage,
		})
	}
	return c.JSON(fiber.Map{"job_id": c.Params("id"), "attempts": attempts})
}
