package models

import "time"

// Billing provider constants for purchase webhooks.
const (
	BillingProviderRevenueCat = "revenuecat"
	BillingProviderStripe     = "stripe"
)

// BillingWebhookEvent stores purchase webhook payloads with deduplication
// metadata so a redelivered event never grants tokens twice.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	TenantID        uint       `gorm:"index" json:"tenant_id"`
	AppUserID       *uint      `gorm:"index" json:"app_user_id,omitempty"`
	TokensGranted   int64      `gorm:"default:0" json:"tokens_granted"`
	PayloadJSON     string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid  bool       `gorm:"default:false;index" json:"signature_valid"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
