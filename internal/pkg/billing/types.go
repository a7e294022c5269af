package billing

import (
	"strconv"
	"strings"
	"time"
)

// Purchase event types that credit tokens. Everything else is recorded and ignored.
const (
	EventNonRenewingPurchase = "NON_RENEWING_PURCHASE"
	EventInitialPurchase     = "INITIAL_PURCHASE"
	EventRenewal             = "RENEWAL"
	EventTest                = "TEST"
)

// PurchaseEvent is the provider-agnostic shape of a store purchase notification.
type PurchaseEvent struct {
	ID             string `json:"id"`
	Type           string `json:"type"`
	AppUserID      string `json:"app_user_id"`
	ProductID      string `json:"product_id"`
	Tokens         int64  `json:"tokens"`
	ExpirationAtMs int64  `json:"expiration_at_ms"`
}

type purchaseEnvelope struct {
	Event PurchaseEvent `json:"event"`
}

// Grants reports whether the event type credits tokens.
func (e PurchaseEvent) Grants() bool {
	switch strings.ToUpper(e.Type) {
	case EventNonRenewingPurchase, EventInitialPurchase, EventRenewal, EventTest:
		return true
	}
	return false
}

// TokenAmount returns the explicit token count, or the numeric suffix of the
// product id ("tokens_500" -> 500) when the payload carries none.
func (e PurchaseEvent) TokenAmount() int64 {
	if e.Tokens > 0 {
		return e.Tokens
	}
	idx := strings.LastIndexAny(e.ProductID, "_.-")
	if idx < 0 || idx == len(e.ProductID)-1 {
		return 0
	}
	n, err := strconv.ParseInt(e.ProductID[idx+1:], 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ExpiresAt returns the grant expiry, or nil for tokens that never lapse.
func (e PurchaseEvent) ExpiresAt() *time.Time {
	if e.ExpirationAtMs <= 0 {
		return nil
	}
	t := time.UnixMilli(e.ExpirationAtMs).UTC()
	return &t
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	TenantID        uint
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}

// Outcome describes what a processed webhook did.
type Outcome struct {
	EventID   string `json:"event_id"`
	Duplicate bool   `json:"duplicate"`
	Ignored   bool   `json:"ignored"`
	Granted   int64  `json:"granted"`
	Balance   int64  `json:"balance"`
}
