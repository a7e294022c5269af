// Package ledger keeps the append-only token ledger and the materialized
// per-user balance in step.
//
// Every mutation is keyed by a deterministic idempotency key. A key that was
// already applied is a no-op that reports the current balance, which is what
// makes retried worker attempts and redelivered webhooks safe. Otherwise the
// balance update and the ledger insert commit in one transaction that holds a
// row lock on the single user being changed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/GenFox/app/models"
)

// Result is the outcome of a mutating ledger call. Failures are reported here,
// never by panicking, so callers can pick a compensating action.
type Result struct {
	Success   bool
	Balance   int64
	EntryID   uint
	Duplicate bool
	Code      Code
	Err       error
}

// Balances reports both views of a user's tokens.
type Balances struct {
	Raw       int64 `json:"raw"`
	Effective int64 `json:"effective"`
}

// Service applies ledger mutations against the database.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService creates a ledger service from a GORM DB handle.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// WithClock overrides the time source used for expiry checks.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

type mutation struct {
	userID      uint
	amount      int64
	entryType   models.LedgerEntryType
	key         string
	jobID       *string
	expiresAt   *time.Time
	description string
	validate    func(tx *gorm.DB, user *models.AppUser) error
}

// Reserve debits amount for a job. The spendable (effective) balance must cover it.
func (s *Service) Reserve(ctx context.Context, userID uint, jobID string, amount int64) Result {
	if amount <= 0 {
		return failure(fmt.Errorf("%w: reserve amount %d", ErrInvalidAmount, amount))
	}
	return s.apply(ctx, mutation{
		userID:      userID,
		amount:      -amount,
		entryType:   models.LedgerEntryDebit,
		key:         ReserveKey(jobID),
		jobID:       &jobID,
		description: "generation reservation",
		validate: func(tx *gorm.DB, user *models.AppUser) error {
			effective, err := s.effectiveBalance(tx, user.ID)
			if err != nil {
				return err
			}
			if effective < amount {
				return fmt.Errorf("%w: need %d, have %d", ErrInsufficientTokens, amount, effective)
			}
			return nil
		},
	})
}

// Refund credits back a job's reservation.
func (s *Service) Refund(ctx context.Context, userID uint, jobID string, amount int64) Result {
	if amount <= 0 {
		return failure(fmt.Errorf("%w: refund amount %d", ErrInvalidAmount, amount))
	}
	return s.apply(ctx, mutation{
		userID:      userID,
		amount:      amount,
		entryType:   models.LedgerEntryRefund,
		key:         RefundKey(jobID),
		jobID:       &jobID,
		description: "generation refund",
	})
}

// Grant credits promotional or signup tokens, optionally expiring.
func (s *Service) Grant(ctx context.Context, userID uint, amount int64, key string, expiresAt *time.Time) Result {
	if amount <= 0 {
		return failure(fmt.Errorf("%w: grant amount %d", ErrInvalidAmount, amount))
	}
	return s.apply(ctx, mutation{
		userID:      userID,
		amount:      amount,
		entryType:   models.LedgerEntryGrant,
		key:         key,
		expiresAt:   expiresAt,
		description: "token grant",
	})
}

// GrantExternal credits tokens bought through an external store, keyed by the store's event id.
func (s *Service) GrantExternal(ctx context.Context, userID uint, amount int64, eventID string, expiresAt *time.Time) Result {
	if amount <= 0 {
		return failure(fmt.Errorf("%w: external grant amount %d", ErrInvalidAmount, amount))
	}
	if eventID == "" {
		return failure(ErrInvalidKey)
	}
	return s.apply(ctx, mutation{
		userID:      userID,
		amount:      amount,
		entryType:   models.LedgerEntryExternalGrant,
		key:         ExternalGrantKey(eventID),
		expiresAt:   expiresAt,
		description: "external purchase",
	})
}

// AdminAdjust applies a signed manual correction. A debit may not drive the raw balance below zero.
func (s *Service) AdminAdjust(ctx context.Context, userID uint, amount int64, key, note string) Result {
	if amount == 0 {
		return failure(fmt.Errorf("%w: adjustment must be non-zero", ErrInvalidAmount))
	}
	return s.apply(ctx, mutation{
		userID:      userID,
		amount:      amount,
		entryType:   models.LedgerEntryAdminAdjustment,
		key:         key,
		description: note,
		validate: func(tx *gorm.DB, user *models.AppUser) error {
			if user.TokenBalance+amount < 0 {
				return fmt.Errorf("%w: balance %d, adjustment %d", ErrNegativeBalance, user.TokenBalance, amount)
			}
			return nil
		},
	})
}

func (s *Service) apply(ctx context.Context, m mutation) Result {
	if m.key == "" {
		return failure(ErrInvalidKey)
	}

	if res, found, err := s.lookup(ctx, m.key); err != nil {
		return failure(err)
	} else if found {
		return res
	}

	var out Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.AppUser
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&user, m.userID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUserNotFound
			}
			return err
		}

		// Another worker may have applied the key while we waited for the row lock.
		var existing int64
		if err := tx.Model(&models.TokenLedgerEntry{}).Where("idempotency_key = ?", m.key).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			out = Result{Success: true, Balance: user.TokenBalance, Duplicate: true}
			return nil
		}

		if m.validate != nil {
			if err := m.validate(tx, &user); err != nil {
				return err
			}
		}

		newBalance := user.TokenBalance + m.amount
		if err := tx.Model(&models.AppUser{}).Where("id = ?", user.ID).Update("token_balance", newBalance).Error; err != nil {
			return err
		}

		entry := models.TokenLedgerEntry{
			AppUserID:      user.ID,
			Amount:         m.amount,
			BalanceAfter:   newBalance,
			Type:           m.entryType,
			JobID:          m.jobID,
			ExpiresAt:      m.expiresAt,
			IdempotencyKey: m.key,
			Description:    m.description,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		out = Result{Success: true, Balance: newBalance, EntryID: entry.ID}
		return nil
	})
	if err == nil {
		return out
	}
	if isDomainError(err) {
		return failure(err)
	}

	// A concurrent insert of the same key loses on the unique index; that is the idempotent path.
	if res, found, lookupErr := s.lookup(ctx, m.key); lookupErr == nil && found {
		return res
	}
	log.Errorf("[Ledger] %s for user %d failed: %v", m.key, m.userID, err)
	return failure(err)
}

// lookup returns the idempotent result for an already applied key.
func (s *Service) lookup(ctx context.Context, key string) (Result, bool, error) {
	var entry models.TokenLedgerEntry
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}

	var user models.AppUser
	if err := s.db.WithContext(ctx).Select("id", "token_balance").First(&user, entry.AppUserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, false, ErrUserNotFound
		}
		return Result{}, false, err
	}
	log.Debugf("[Ledger] %s already applied as entry %d", key, entry.ID)
	return Result{Success: true, Balance: user.TokenBalance, EntryID: entry.ID, Duplicate: true}, true, nil
}

// Balance returns the raw and effective balance of a user.
func (s *Service) Balance(ctx context.Context, userID uint) (Balances, error) {
	var user models.AppUser
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Balances{}, ErrUserNotFound
		}
		return Balances{}, err
	}
	effective, err := s.effectiveBalance(s.db.WithContext(ctx), userID)
	if err != nil {
		return Balances{}, err
	}
	return Balances{Raw: user.TokenBalance, Effective: effective}, nil
}

// History lists a user's entries, newest first.
func (s *Service) History(ctx context.Context, userID uint, limit, offset int) ([]models.TokenLedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	var entries []models.TokenLedgerEntry
	err := s.db.WithContext(ctx).
		Where("app_user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries).Error
	return entries, err
}

// VerifyBalance checks that the materialized balance equals the ledger sum.
func (s *Service) VerifyBalance(ctx context.Context, userID uint) (bool, error) {
	var user models.AppUser
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrUserNotFound
		}
		return false, err
	}
	var sum int64
	if err := s.db.WithContext(ctx).Model(&models.TokenLedgerEntry{}).
		Where("app_user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&sum).Error; err != nil {
		return false, err
	}
	if sum != user.TokenBalance {
		log.Errorf("[Ledger] Balance drift for user %d: cached=%d ledger=%d", userID, user.TokenBalance, sum)
	}
	return sum == user.TokenBalance, nil
}

// effectiveBalance is max(0, non-expired credits + all debits). Expiry is
// evaluated in Go so the comparison does not depend on the driver's time format.
func (s *Service) effectiveBalance(db *gorm.DB, userID uint) (int64, error) {
	var debits int64
	if err := db.Model(&models.TokenLedgerEntry{}).
		Where("app_user_id = ? AND amount < 0", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&debits).Error; err != nil {
		return 0, err
	}

	var permanent int64
	if err := db.Model(&models.TokenLedgerEntry{}).
		Where("app_user_id = ? AND amount > 0 AND expires_at IS NULL", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&permanent).Error; err != nil {
		return 0, err
	}

	var expiring []models.TokenLedgerEntry
	if err := db.Select("id", "amount", "expires_at").
		Where("app_user_id = ? AND amount > 0 AND expires_at IS NOT NULL", userID).
		Find(&expiring).Error; err != nil {
		return 0, err
	}
	now := s.now()
	var live int64
	for i := range expiring {
		if !expiring[i].IsExpiredAt(now) {
			live += expiring[i].Amount
		}
	}

	effective := permanent + live + debits
	if effective < 0 {
		return 0, nil
	}
	return effective, nil
}

func failure(err error) Result {
	return Result{Success: false, Code: codeFor(err), Err: err}
}
