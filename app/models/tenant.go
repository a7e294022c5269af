package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default admission settings applied when a tenant leaves them unset.
const (
	DefaultUserRateLimit          = 20
	DefaultTenantRateLimit        = 600
	DefaultRateLimitWindowSeconds = 60
)

// Tenant is an application that submits generation jobs on behalf of its users.
type Tenant struct {
	ID                     uint      `gorm:"primaryKey" json:"id"`
	Name                   string    `gorm:"type:varchar(150);not null" json:"name" validate:"required,min=2,max=150"`
	APIKeyHash             string    `gorm:"type:varchar(64);uniqueIndex" json:"-"`
	IsActive               bool      `gorm:"default:true;index" json:"is_active"`
	UserRateLimit          int       `gorm:"default:0" json:"user_rate_limit" validate:"gte=0"`
	TenantRateLimit        int       `gorm:"default:0" json:"tenant_rate_limit" validate:"gte=0"`
	RateLimitWindowSeconds int       `gorm:"default:0" json:"rate_limit_window_seconds" validate:"gte=0"`
	DefaultTokenGrant      int64     `gorm:"default:0" json:"default_token_grant" validate:"gte=0"`
	DefaultGrantTTLDays    int       `gorm:"default:0" json:"default_grant_ttl_days" validate:"gte=0"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (t *Tenant) Validate() error {
	return validator.New().Struct(t)
}

// EffectiveUserRateLimit returns the per-user admission limit, falling back to the default.
func (t *Tenant) EffectiveUserRateLimit() int {
	if t.UserRateLimit > 0 {
		return t.UserRateLimit
	}
	return DefaultUserRateLimit
}

// EffectiveTenantRateLimit returns the per-tenant admission limit, falling back to the default.
func (t *Tenant) EffectiveTenantRateLimit() int {
	if t.TenantRateLimit > 0 {
		return t.TenantRateLimit
	}
	return DefaultTenantRateLimit
}

// RateLimitWindow returns the sliding window shared by both admission limits.
func (t *Tenant) RateLimitWindow() time.Duration {
	if t.RateLimitWindowSeconds > 0 {
		return time.Duration(t.RateLimitWindowSeconds) * time.Second
	}
	return DefaultRateLimitWindowSeconds * time.Second
}

// DefaultGrantExpiry returns the expiry for the signup grant, or nil when grants never lapse.
func (t *Tenant) DefaultGrantExpiry(now time.Time) *time.Time {
	if t.DefaultGrantTTLDays <= 0 {
		return nil
	}
	exp := now.Add(time.Duration(t.DefaultGrantTTLDays) * 24 * time.Hour)
	return &exp
}

// HashAPIKey returns the SHA-256 hash for the provided API key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
