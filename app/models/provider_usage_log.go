package models

import "time"

// ProviderUsageLog records one orchestrator attempt against one provider.
type ProviderUsageLog struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	JobID           string    `gorm:"type:varchar(36);not null;index" json:"job_id"`
	ProviderKey     string    `gorm:"type:varchar(50);not null;index" json:"provider"`
	ProviderModelID string    `gorm:"type:varchar(191)" json:"provider_model_id"`
	AttemptNumber   int       `gorm:"not null" json:"attempt_number"`
	Success         bool      `gorm:"default:false;index" json:"success"`
	Cost            float64   `gorm:"default:0" json:"cost"`
	LatencyMs       int64     `gorm:"default:0" json:"latency_ms"`
	InputTokens     *int64    `json:"input_tokens,omitempty"`
	OutputTokens    *int64    `json:"output_tokens,omitempty"`
	TotalTokens     *int64    `json:"total_tokens,omitempty"`
	ErrorMessage    string    `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt       time.Time `gorm:"autoCreateTime" json:"created_at"`
}
