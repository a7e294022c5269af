package jobqueue

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
)

// RefundStore guards a refund with the tokens_refunded flag of the job row.
type RefundStore interface {
	ClaimRefund(ctx context.Context, id string) (bool, error)
	ReleaseRefund(ctx context.Context, id string) error
}

// Refunder credits back a job's reservation.
type Refunder interface {
	Refund(ctx context.Context, userID uint, jobID string, amount int64) ledger.Result
}

// RefundJob returns the reserved tokens of a failed or cancelled job exactly
// once. The flag on the row picks a single caller; the ledger key makes a
// repeated ledger call a no-op. A failed ledger call clears the flag again so
// the next attempt can retry.
func RefundJob(ctx context.Context, store RefundStore, refunder Refunder, job *models.GenerationJob) error {
	if job == nil || job.TokenCost <= 0 {
		return nil
	}

	claimed, err := store.ClaimRefund(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("claim refund of job %s: %w", job.ID, err)
	}
	if !claimed {
		log.Debugf("[JobQueue] Job %s needs no refund (not charged or already refunded)", job.ID)
		return nil
	}

	res := refunder.Refund(ctx, job.AppUserID, job.ID, job.TokenCost)
	if !res.Success {
		if err := store.ReleaseRefund(ctx, job.ID); err != nil {
			log.Errorf("[JobQueue] Failed to release refund flag of job %s: %v", job.ID, err)
		}
		return fmt.Errorf("refund job %s: %w", job.ID, res.Err)
	}
	job.TokensRefunded = true
	log.Infof("[JobQueue] Refunded %d tokens for job %s (balance %d)", job.TokenCost, job.ID, res.Balance)
	return nil
}
