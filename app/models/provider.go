package models

import (
	"time"

	"gorm.io/datatypes"
)

// Provider is an external generation service. IsEnabled is a global kill switch
// that applies to every model configured against it.
type Provider struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Key       string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"key"`
	Name      string    `gorm:"type:varchar(150)" json:"name"`
	IsEnabled bool      `gorm:"default:true" json:"is_enabled"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProviderConfig pairs a logical model with a provider. Lower priority values are tried first.
type ProviderConfig struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	ModelKey        string            `gorm:"type:varchar(100);not null;index:idx_provider_configs_model_priority,priority:1" json:"model"`
	ProviderKey     string            `gorm:"type:varchar(50);not null;index" json:"provider"`
	Priority        int               `gorm:"not null;default:0;index:idx_provider_configs_model_priority,priority:2" json:"priority"`
	IsEnabled       bool              `gorm:"default:true" json:"is_enabled"`
	ProviderModelID string            `gorm:"type:varchar(191);not null" json:"provider_model_id"`
	Config          datatypes.JSONMap `json:"config"`
	OutputsPerCall  int               `gorm:"default:0" json:"outputs_per_call"`
	CreatedAt       time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// ModelPricing holds the token cost per output for a logical model.
type ModelPricing struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	ModelKey       string    `gorm:"type:varchar(100);not null;uniqueIndex" json:"model"`
	TokensPerImage int64     `gorm:"not null;default:1" json:"tokens_per_image"`
	IsActive       bool      `gorm:"default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
