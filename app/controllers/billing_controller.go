package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GenFox/internal/pkg/billing"
	"github.com/ManuelReschke/GenFox/internal/pkg/middleware"
)

// PurchaseHandler credits tokens for store purchase events.
type PurchaseHandler interface {
	HandlePurchase(ctx context.Context, tenantID uint, provider string, payload []byte) (*billing.Outcome, error)
}

type BillingController struct {
	svc    PurchaseHandler
	secret string
}

// NewBillingController creates the webhook controller. An empty secret
// rejects every delivery.
func NewBillingController(svc PurchaseHandler, webhookSecret string) *BillingController {
	return &BillingController{svc: svc, secret: webhookSecret}
}

// HandlePurchaseWebhook verifies the signature of a purchase notification and
// grants its tokens once per event id.
func (bc *BillingController) HandlePurchaseWebhook(c *fiber.Ctx) error {
	tenant := middleware.TenantFromCtx(c)
	if tenant == nil {
		return errorResponse(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid API key")
	}

	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := firstHeaderValue(c, "X-Webhook-Signature", "X-Signature")
	if !billing.VerifyWebhookSignature(rawBody, signature, bc.secret) {
		log.Warnf("[Billing] Rejected purchase webhook for tenant %d: invalid signature", tenant.ID)
		return errorResponse(c, fiber.StatusUnauthorized, "invalid_signature", "Webhook signature does not match")
	}

	provider := strings.ToLower(c.Query("provider"))
	out, err := bc.svc.HandlePurchase(c.UserContext(), tenant.ID, provider, rawBody)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidPayload), errors.Is(err, billing.ErrNoTokens):
			return errorResponse(c, fiber.StatusBadRequest, "invalid_payload", err.Error())
		default:
			log.Errorf("[Billing] Purchase webhook for tenant %d failed: %v", tenant.ID, err)
			return errorResponse(c, fiber.StatusInternalServerError, "webhook_processing_failed", "Purchase could not be processed")
		}
	}

	return c.JSON(fiber.Map{
		"ok":        true,
		"event_id":  out.EventID,
		"duplicate": out.Duplicate,
		"ignored":   out.Ignored,
		"granted":   out.Granted,
		"balance":   out.Balance,
	})
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
