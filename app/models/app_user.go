package models

import "time"

// AppUser is an end user of a tenant application. TokenBalance is a materialized
// cache of the user's ledger entries and is only written inside the ledger transaction.
type AppUser struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	TenantID     uint      `gorm:"not null;index:ux_app_users_tenant_external,unique,priority:1" json:"tenant_id"`
	ExternalID   string    `gorm:"type:varchar(191);not null;index:ux_app_users_tenant_external,unique,priority:2" json:"external_id"`
	TokenBalance int64     `gorm:"not null;default:0" json:"token_balance"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
