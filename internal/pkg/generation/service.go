// Package generation is the admission path of the pipeline: it checks rate
// limits, books tokens and hands jobs to the queue.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
	"github.com/ManuelReschke/GenFox/internal/pkg/ratelimit"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrUnknownModel   = errors.New("unknown model")
	ErrJobNotFound    = errors.New("job not found")
	ErrUserNotFound   = errors.New("user not found")
	ErrNotCancellable = errors.New("job can no longer be cancelled")
)

// JobStore is the part of the job repository used by admission.
type JobStore interface {
	jobqueue.RefundStore
	Create(ctx context.Context, job *models.GenerationJob) error
	GetForTenant(ctx context.Context, tenantID uint, id string) (*models.GenerationJob, error)
	ListByUser(ctx context.Context, appUserID uint, offset, limit int) ([]models.GenerationJob, error)
	MarkFailed(ctx context.Context, id, message, code string, attempts int) (bool, error)
	MarkCancelled(ctx context.Context, id string) (bool, error)
}

// Users resolves the end users of a tenant.
type Users interface {
	GetByExternalID(ctx context.Context, tenantID uint, externalID string) (*models.AppUser, error)
	FirstOrCreate(ctx context.Context, tenantID uint, externalID string) (*models.AppUser, bool, error)
}

// Pricing reads model prices.
type Pricing interface {
	GetActive(ctx context.Context, modelKey string) (*models.ModelPricing, error)
}

// Ledger is the token ledger.
type Ledger interface {
	jobqueue.Refunder
	Reserve(ctx context.Context, userID uint, jobID string, amount int64) ledger.Result
	Grant(ctx context.Context, userID uint, amount int64, key string, expiresAt *time.Time) ledger.Result
	Balance(ctx context.Context, userID uint) (ledger.Balances, error)
	History(ctx context.Context, userID uint, limit, offset int) ([]models.TokenLedgerEntry, error)
}

// Admitter applies rate limits.
type Admitter interface {
	Check(ctx context.Context, tenant *models.Tenant, userRef string) ratelimit.Decision
}

// Queue accepts jobs for the workers.
type Queue interface {
	Enqueue(ctx context.Context, jobType jobqueue.JobType, id string, payload map[string]interface{}, priority int) (*jobqueue.Job, bool, error)
	RemovePending(ctx context.Context, jobID string) (bool, error)
}

// UsageLogs lists provider attempts of a job.
type UsageLogs interface {
	ListByJob(ctx context.Context, jobID string) ([]models.ProviderUsageLog, error)
}

// Deps bundles the collaborators of the service.
type Deps struct {
	Jobs      JobStore
	Users     Users
	Pricing   Pricing
	Ledger    Ledger
	Admission Admitter
	Queue     Queue
	Usage     UsageLogs
}

// Service admits, inspects and cancels generation jobs.
type Service struct {
	Deps
	now func() time.Time
}

func NewService(deps Deps) *Service {
	return &Service{Deps: deps, now: time.Now}
}

// Submission is the result of Submit. Decision is set whenever the rate
// limiter was consulted, including rejected requests.
type Submission struct {
	Job      *models.GenerationJob
	Decision *ratelimit.Decision
	Balance  int64
}

// Submit admits one generation request. A request rejected by the rate
// limiter or the ledger never reaches a provider and leaves no job behind:
// tokens are reserved against the new job id before the row is written.
func (s *Service) Submit(ctx context.Context, tenant *models.Tenant, req SubmitRequest) (*Submission, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	out := &Submission{}
	if s.Admission != nil {
		d := s.Admission.Check(ctx, tenant, req.UserID)
		out.Decision = &d
		if !d.Allowed {
			return out, ErrRateLimited
		}
	}

	pricing, err := s.Pricing.GetActive(ctx, req.Model)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return out, fmt.Errorf("%w: %s", ErrUnknownModel, req.Model)
	}
	if err != nil {
		return out, fmt.Errorf("load pricing of %s: %w", req.Model, err)
	}

	user, err := s.resolveUser(ctx, tenant, req.UserID)
	if err != nil {
		return out, err
	}

	job := &models.GenerationJob{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		AppUserID: user.ID,
		ModelKey:  req.Model,
		Input:     datatypes.NewJSONType(req.input()),
		Status:    models.JobStatusQueued,
		Priority:  req.Priority,
		TokenCost: pricing.TokensPerImage * int64(req.OutputCount),
	}

	res := s.Ledger.Reserve(ctx, user.ID, job.ID, job.TokenCost)
	out.Balance = res.Balance
	if !res.Success {
		log.Infof("[Generation] Tenant %d user %s rejected by the ledger (%s)", tenant.ID, req.UserID, res.Code)
		return out, res.Err
	}
	job.TokensCharged = true

	if err := s.Jobs.Create(ctx, job); err != nil {
		if r := s.Ledger.Refund(context.WithoutCancel(ctx), user.ID, job.ID, job.TokenCost); !r.Success {
			log.Errorf("[Generation] Refund of unsaved job %s failed: %v", job.ID, r.Err)
		}
		return out, fmt.Errorf("create job: %w", err)
	}
	out.Job = job

	payload := jobqueue.GenerationJobPayload{JobID: job.ID, TenantID: tenant.ID, AppUserID: user.ID}
	if _, _, err := s.Queue.Enqueue(ctx, jobqueue.JobTypeGeneration, job.ID, payload.ToMap(), job.Priority); err != nil {
		s.failJob(ctx, job, "could not enqueue job", models.JobErrorEnqueue)
		if rerr := jobqueue.RefundJob(context.WithoutCancel(ctx), s.Jobs, s.Ledger, job); rerr != nil {
			log.Errorf("[Generation] %v", rerr)
		}
		return out, fmt.Errorf("enqueue job: %w", err)
	}

	log.Infof("[Generation] Job %s queued for tenant %d user %s (%s x%d, %d tokens)",
		job.ID, tenant.ID, req.UserID, req.Model, req.OutputCount, job.TokenCost)
	return out, nil
}

// resolveUser finds or creates the user. A new user gets the tenant's signup grant once.
func (s *Service) resolveUser(ctx context.Context, tenant *models.Tenant, externalID string) (*models.AppUser, error) {
	user, created, err := s.Users.FirstOrCreate(ctx, tenant.ID, externalID)
	if err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", externalID, err)
	}
	if created && tenant.DefaultTokenGrant > 0 {
		res := s.Ledger.Grant(ctx, user.ID, tenant.DefaultTokenGrant,
			ledger.SignupGrantKey(tenant.ID, externalID), tenant.DefaultGrantExpiry(s.now()))
		if !res.Success {
			log.Errorf("[Generation] Signup grant for user %d failed: %v", user.ID, res.Err)
		}
	}
	return user, nil
}

func (s *Service) failJob(ctx context.Context, job *models.GenerationJob, message, code string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.Jobs.MarkFailed(ctx, job.ID, message, code, 0); err != nil {
		log.Errorf("[Generation] Failed to mark job %s failed: %v", job.ID, err)
		return
	}
	job.Status = models.JobStatusFailed
	job.ErrorMessage = message
	job.ErrorCode = code
}

// Get returns a job of the tenant.
func (s *Service) Get(ctx context.Context, tenantID uint, jobID string) (*models.GenerationJob, error) {
	job, err := s.Jobs.GetForTenant(ctx, tenantID, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// Cancel stops a job that is still queued and refunds it. Running or
// finished jobs return ErrNotCancellable.
func (s *Service) Cancel(ctx context.Context, tenantID uint, jobID string) (*models.GenerationJob, error) {
	job, err := s.Get(ctx, tenantID, jobID)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.Jobs.MarkCancelled(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("cancel job %s: %w", job.ID, err)
	}
	if !cancelled {
		return job, ErrNotCancellable
	}

	if err := jobqueue.RefundJob(ctx, s.Jobs, s.Ledger, job); err != nil {
		// Leave the queue entry so the worker finishes the refund.
		log.Errorf("[Generation] %v", err)
	} else if _, err := s.Queue.RemovePending(ctx, job.ID); err != nil {
		log.Warnf("[Generation] Failed to drop cancelled job %s from the queue: %v", job.ID, err)
	}

	log.Infof("[Generation] Job %s cancelled", job.ID)
	return s.Get(ctx, tenantID, jobID)
}

// ListUsage returns the provider attempts of a job of the tenant.
func (s *Service) ListUsage(ctx context.Context, tenantID uint, jobID string) ([]models.ProviderUsageLog, error) {
	if _, err := s.Get(ctx, tenantID, jobID); err != nil {
		return nil, err
	}
	return s.Usage.ListByJob(ctx, jobID)
}

// ListJobs returns a user's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, tenantID uint, externalID string, limit, offset int) ([]models.GenerationJob, error) {
	user, err := s.user(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.Jobs.ListByUser(ctx, user.ID, offset, limit)
}

// Balance returns the token balance of a user.
func (s *Service) Balance(ctx context.Context, tenantID uint, externalID string) (ledger.Balances, error) {
	user, err := s.user(ctx, tenantID, externalID)
	if err != nil {
		return ledger.Balances{}, err
	}
	return s.Ledger.Balance(ctx, user.ID)
}

// History returns a user's ledger entries, newest first.
func (s *Service) History(ctx context.Context, tenantID uint, externalID string, limit, offset int) ([]models.TokenLedgerEntry, error) {
	user, err := s.user(ctx, tenantID, externalID)
	if err != nil {
		return nil, err
	}
	return s.Ledger.History(ctx, user.ID, limit, offset)
}

func (s *Service) user(ctx context.Context, tenantID uint, externalID string) (*models.AppUser, error) {
	user, err := s.Users.GetByExternalID(ctx, tenantID, externalID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}
