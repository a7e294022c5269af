package controllers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/generation"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
	"github.com/ManuelReschke/GenFox/internal/pkg/ratelimit"
)

const timeLayout = time.RFC3339

func errorResponse(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// serviceError maps admission and lookup errors to HTTP responses.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, generation.ErrInvalidRequest):
		return errorResponse(c, fiber.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, generation.ErrUnknownModel):
		return errorResponse(c, fiber.StatusBadRequest, "unknown_model", err.Error())
	case errors.Is(err, generation.ErrRateLimited):
		return errorResponse(c, fiber.StatusTooManyRequests, "rate_limited", "Rate limit exceeded")
	case errors.Is(err, ledger.ErrInsufficientTokens):
		return errorResponse(c, fiber.StatusPaymentRequired, "insufficient_tokens", "Not enough tokens")
	case errors.Is(err, generation.ErrJobNotFound):
		return errorResponse(c, fiber.StatusNotFound, "not_found", "Job not found")
	case errors.Is(err, generation.ErrUserNotFound), errors.Is(err, ledger.ErrUserNotFound):
		return errorResponse(c, fiber.StatusNotFound, "not_found", "User not found")
	case errors.Is(err, generation.ErrNotCancellable):
		return errorResponse(c, fiber.StatusConflict, "not_cancellable", err.Error())
	default:
		log.Errorf("[API] %s %s: %v", c.Method(), c.Path(), err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Request failed")
	}
}

func setRateLimitHeaders(c *fiber.Ctx, d *ratelimit.Decision) {
	if d == nil {
		return
	}
	for k, v := range d.Binding.Headers() {
		c.Set(k, v)
	}
}

// queryInt reads a non-negative integer query parameter.
func queryInt(c *fiber.Ctx, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func jobResponse(job *models.GenerationJob) fiber.Map {
	outputs := make([]fiber.Map, 0, len(job.Outputs))
	for _, o := range job.Outputs {
		outputs = append(outputs, fiber.Map{"index": o.Index, "url": o.URL})
	}
	input := job.Input.Data()
	resp := fiber.Map{
		"id":              job.ID,
		"status":          job.Status,
		"model":           job.ModelKey,
		"output_count":    input.OutputCount,
		"priority":        job.Priority,
		"progress":        job.Progress,
		"token_cost":      job.TokenCost,
		"tokens_refunded": job.TokensRefunded,
		"attempts_count":  job.AttemptsCount,
		"used_provider":   job.UsedProvider,
		"outputs":         outputs,
		"error":           nil,
		"created_at":      job.CreatedAt.UTC().Format(timeLayout),
		"started_at":      formatTimePtr(job.StartedAt),
		"completed_at":    formatTimePtr(job.CompletedAt),
	}
	if job.ErrorCode != "" || job.ErrorMessage != "" {
		resp["error"] = fiber.Map{"code": job.ErrorCode, "message": job.ErrorMessage}
	}
	return resp
}
