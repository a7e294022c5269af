package models

import "time"

// LedgerEntryType tags the business operation behind a balance delta.
type LedgerEntryType string

const (
	LedgerEntryDebit           LedgerEntryType = "debit"
	LedgerEntryRefund          LedgerEntryType = "refund"
	LedgerEntryGrant           LedgerEntryType = "grant"
	LedgerEntryAdminAdjustment LedgerEntryType = "admin_adjustment"
	LedgerEntryExternalGrant   LedgerEntryType = "external_grant"
)

// TokenLedgerEntry is one immutable balance delta. Rows are insert-only.
type TokenLedgerEntry struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	AppUserID      uint            `gorm:"not null;index:idx_ledger_user_created,priority:1" json:"app_user_id"`
	Amount         int64           `gorm:"not null" json:"amount"`
	BalanceAfter   int64           `gorm:"not null" json:"balance_after"`
	Type           LedgerEntryType `gorm:"type:varchar(32);not null;index" json:"type"`
	JobID          *string         `gorm:"type:varchar(36);index" json:"job_id,omitempty"`
	ExpiresAt      *time.Time      `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	IdempotencyKey string          `gorm:"type:varchar(191);not null;uniqueIndex" json:"idempotency_key"`
	Description    string          `gorm:"type:varchar(255);default:''" json:"description"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index:idx_ledger_user_created,priority:2" json:"created_at"`
}

// IsExpiredAt reports whether a positive entry has lapsed at the given instant.
// Debits never expire.
func (e *TokenLedgerEntry) IsExpiredAt(now time.Time) bool {
	if e.Amount <= 0 || e.ExpiresAt == nil {
		return false
	}
	return !e.ExpiresAt.After(now)
}
