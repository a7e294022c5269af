// Package billing turns external store purchase webhooks into ledger grants.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
)

var (
	ErrInvalidPayload = errors.New("invalid purchase payload")
	ErrNoTokens       = errors.New("purchase carries no token amount")
)

// UserResolver finds or creates the app user a purchase belongs to.
type UserResolver interface {
	FirstOrCreate(ctx context.Context, tenantID uint, externalID string) (*models.AppUser, bool, error)
}

// Granter credits purchased tokens.
type Granter interface {
	GrantExternal(ctx context.Context, userID uint, amount int64, eventID string, expiresAt *time.Time) ledger.Result
}

// Service processes purchase webhooks.
type Service struct {
	repo   Repository
	users  UserResolver
	ledger Granter
}

// NewService creates a billing service from injected dependencies.
func NewService(repo Repository, users UserResolver, granter Granter) *Service {
	return &Service{repo: repo, users: users, ledger: granter}
}

// ParsePurchase decodes a webhook body of the form {"event": {...}}.
func ParsePurchase(payload []byte) (PurchaseEvent, error) {
	var env purchaseEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return PurchaseEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	ev := env.Event
	ev.ID = strings.TrimSpace(ev.ID)
	ev.AppUserID = strings.TrimSpace(ev.AppUserID)
	if ev.ID == "" || ev.Type == "" {
		return PurchaseEvent{}, fmt.Errorf("%w: event id and type are required", ErrInvalidPayload)
	}
	return ev, nil
}

// HandlePurchase records the event once and credits its tokens through the
// ledger. A redelivered event that was already processed is reported as a duplicate.
func (s *Service) HandlePurchase(ctx context.Context, tenantID uint, provider string, payload []byte) (*Outcome, error) {
	ev, err := ParsePurchase(payload)
	if err != nil {
		return nil, err
	}
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		p = models.BillingProviderRevenueCat
	}

	created, stored, err := s.repo.CreateWebhookEventIfNotExists(ctx, &models.BillingWebhookEvent{
		TenantID:        tenantID,
		Provider:        p,
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		PayloadJSON:     string(payload),
		SignatureValid:  true,
	})
	if err != nil {
		return nil, err
	}
	out := &Outcome{EventID: ev.ID}
	if !created && stored.ProcessedAt != nil && stored.ProcessingError == "" {
		out.Duplicate = true
		out.Granted = stored.TokensGranted
		return out, nil
	}

	if !ev.Grants() {
		out.Ignored = true
		if err := s.repo.MarkWebhookProcessed(ctx, stored.ID, nil, 0, ""); err != nil {
			log.Warnf("[Billing] Failed to mark event %s processed: %v", ev.ID, err)
		}
		return out, nil
	}

	amount := ev.TokenAmount()
	if ev.AppUserID == "" || amount <= 0 {
		reason := ErrNoTokens
		if ev.AppUserID == "" {
			reason = fmt.Errorf("%w: app_user_id is required", ErrInvalidPayload)
		}
		s.markFailed(ctx, stored.ID, nil, reason)
		return nil, reason
	}

	user, _, err := s.users.FirstOrCreate(ctx, tenantID, ev.AppUserID)
	if err != nil {
		s.markFailed(ctx, stored.ID, nil, err)
		return nil, err
	}

	res := s.ledger.GrantExternal(ctx, user.ID, amount, ev.ID, ev.ExpiresAt())
	if !res.Success {
		s.markFailed(ctx, stored.ID, &user.ID, res.Err)
		return nil, res.Err
	}
	if err := s.repo.MarkWebhookProcessed(ctx, stored.ID, &user.ID, amount, ""); err != nil {
		log.Warnf("[Billing] Failed to mark event %s processed: %v", ev.ID, err)
	}

	out.Duplicate = res.Duplicate
	out.Granted = amount
	out.Balance = res.Balance
	log.Infof("[Billing] Granted %d tokens to user %d for event %s", amount, user.ID, ev.ID)
	return out, nil
}

func (s *Service) markFailed(ctx context.Context, id uint, userID *uint, cause error) {
	if err := s.repo.MarkWebhookProcessed(ctx, id, userID, 0, cause.Error()); err != nil {
		log.Warnf("[Billing] Failed to record processing error for event %d: %v", id, err)
	}
}
