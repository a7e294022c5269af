package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/app/repository"
	"github.com/ManuelReschke/GenFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/GenFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
	"github.com/ManuelReschke/GenFox/internal/pkg/ratelimit"
)

type fixture struct {
	db     *gorm.DB
	svc    *Service
	queue  *jobqueue.Queue
	ledger *ledger.Service
	repos  *repository.Repositories
	tenant *models.Tenant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	repos := repository.NewRepositories(db, client)
	led := ledger.NewService(db)
	queue := jobqueue.NewQueue(client, jobqueue.Config{Workers: 1})

	tenant := &models.Tenant{Name: "Fox Studio", IsActive: true, DefaultTokenGrant: 100}
	require.NoError(t, repos.Tenant.Create(context.Background(), tenant))
	require.NoError(t, db.Create(&models.ModelPricing{ModelKey: "flux-schnell", TokensPerImage: 10, IsActive: true}).Error)

	f := &fixture{db: db, queue: queue, ledger: led, repos: repos, tenant: tenant}
	f.svc = NewService(Deps{
		Jobs:      repos.Job,
		Users:     repos.AppUser,
		Pricing:   repos.Pricing,
		Ledger:    led,
		Admission: ratelimit.NewAdmission(ratelimit.NewLimiter(client)),
		Queue:     queue,
		Usage:     repos.UsageLog,
	})
	return f
}

func request(user string, outputs int) SubmitRequest {
	return SubmitRequest{UserID: user, Model: "flux-schnell", Prompt: "a red fox", OutputCount: outputs}
}

func (f *fixture) countKey(t *testing.T, key string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.TokenLedgerEntry{}).Where("idempotency_key = ?", key).Count(&n).Error)
	return n
}

func (f *fixture) balance(t *testing.T, user string) int64 {
	t.Helper()
	b, err := f.svc.Balance(context.Background(), f.tenant.ID, user)
	require.NoError(t, err)
	return b.Raw
}

func TestSubmit_ReservesAndEnqueues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, f.tenant, request("alice", 2))
	require.NoError(t, err)
	require.NotNil(t, sub.Job)
	require.NotNil(t, sub.Decision)
	assert.True(t, sub.Decision.Allowed)
	assert.Equal(t, int64(80), sub.Balance)

	job, err := f.svc.Get(ctx, f.tenant.ID, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, int64(20), job.TokenCost)
	assert.True(t, job.TokensCharged)
	assert.Equal(t, "a red fox", job.Input.Data().Prompt)

	size, err := f.queue.GetQueueSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
	queued, err := f.queue.GetJob(ctx, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Job.ID, queued.Payload["job_id"])

	assert.Equal(t, int64(1), f.countKey(t, ledger.ReserveKey(sub.Job.ID)))
}

func TestSubmit_SignupGrantOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, f.tenant, request("bob", 1))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, f.tenant, request("bob", 1))
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.countKey(t, ledger.SignupGrantKey(f.tenant.ID, "bob")))
	assert.Equal(t, int64(80), f.balance(t, "bob"))
}

func TestSubmit_InsufficientTokensLeavesNoJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenant.DefaultTokenGrant = 5

	sub, err := f.svc.Submit(ctx, f.tenant, request("carol", 1))
	require.ErrorIs(t, err, ledger.ErrInsufficientTokens)
	assert.Nil(t, sub.Job)

	var jobs int64
	require.NoError(t, f.db.Model(&models.GenerationJob{}).Count(&jobs).Error)
	assert.Zero(t, jobs)

	var entries int64
	require.NoError(t, f.db.Model(&models.TokenLedgerEntry{}).Where("type <> ?", models.LedgerEntryGrant).Count(&entries).Error)
	assert.Zero(t, entries)

	size, _ := f.queue.GetQueueSize(ctx)
	assert.Zero(t, size)
	assert.Equal(t, int64(5), f.balance(t, "carol"))
}

func TestSubmit_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, f.tenant, SubmitRequest{UserID: "dave", Model: "flux-schnell", Prompt: "   "})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.svc.Submit(ctx, f.tenant, request("dave", MaxOutputCount+1))
	assert.ErrorIs(t, err, ErrInvalidRequest)

	bad := request("dave", 1)
	bad.ImageURLs = []string{"not a url"}
	_, err = f.svc.Submit(ctx, f.tenant, bad)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	unknown := request("dave", 1)
	unknown.Model = "dall-e-9"
	_, err = f.svc.Submit(ctx, f.tenant, unknown)
	assert.ErrorIs(t, err, ErrUnknownModel)

	var jobs int64
	f.db.Model(&models.GenerationJob{}).Count(&jobs)
	assert.Zero(t, jobs)
}

func TestSubmit_RateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.tenant.UserRateLimit = 1

	_, err := f.svc.Submit(ctx, f.tenant, request("erin", 1))
	require.NoError(t, err)

	sub, err := f.svc.Submit(ctx, f.tenant, request("erin", 1))
	require.ErrorIs(t, err, ErrRateLimited)
	require.NotNil(t, sub.Decision)
	assert.False(t, sub.Decision.Allowed)
	assert.Greater(t, sub.Decision.Binding.RetryAfter.Seconds(), 0.0)
	assert.Nil(t, sub.Job)

	// Another user of the same tenant still gets through.
	_, err = f.svc.Submit(ctx, f.tenant, request("frank", 1))
	assert.NoError(t, err)
}

func TestCancel_RefundsExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, f.tenant, request("gina", 3))
	require.NoError(t, err)
	assert.Equal(t, int64(70), f.balance(t, "gina"))

	job, err := f.svc.Cancel(ctx, f.tenant.ID, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.True(t, job.TokensRefunded)
	assert.Equal(t, int64(100), f.balance(t, "gina"))

	_, err = f.svc.Cancel(ctx, f.tenant.ID, sub.Job.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)

	assert.Equal(t, int64(1), f.countKey(t, ledger.RefundKey(sub.Job.ID)))
	assert.Equal(t, int64(100), f.balance(t, "gina"))
	size, _ := f.queue.GetQueueSize(ctx)
	assert.Zero(t, size)

	user, err := f.repos.AppUser.GetByExternalID(ctx, f.tenant.ID, "gina")
	require.NoError(t, err)
	ok, err := f.ledger.VerifyBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancel_RunningJobIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, f.tenant, request("hank", 1))
	require.NoError(t, err)
	started, err := f.repos.Job.MarkRunning(ctx, sub.Job.ID)
	require.NoError(t, err)
	require.True(t, started)

	job, err := f.svc.Cancel(ctx, f.tenant.ID, sub.Job.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, int64(90), f.balance(t, "hank"))
	assert.Zero(t, f.countKey(t, ledger.RefundKey(sub.Job.ID)))
}

func TestGet_IsScopedToTenant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, f.tenant, request("ivy", 1))
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, f.tenant.ID+1, sub.Job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.svc.Cancel(ctx, f.tenant.ID+1, sub.Job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = f.svc.ListUsage(ctx, f.tenant.ID+1, sub.Job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestListUsage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub, err := f.svc.Submit(ctx, f.tenant, request("jo", 1))
	require.NoError(t, err)
	require.NoError(t, f.repos.UsageLog.RecordUsage(ctx, &models.ProviderUsageLog{
		JobID: sub.Job.ID, ProviderKey: "replicate", AttemptNumber: 1, Success: false, ErrorMessage: "rate limited",
	}))
	require.NoError(t, f.repos.UsageLog.RecordUsage(ctx, &models.ProviderUsageLog{
		JobID: sub.Job.ID, ProviderKey: "fal", AttemptNumber: 2, Success: true,
	}))

	rows, err := f.svc.ListUsage(ctx, f.tenant.ID, sub.Job.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "replicate", rows[0].ProviderKey)
	assert.Equal(t, "fal", rows[1].ProviderKey)
}

func TestBalanceAndHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Balance(ctx, f.tenant.ID, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = f.svc.Submit(ctx, f.tenant, request("kim", 1))
	require.NoError(t, err)

	entries, err := f.svc.History(ctx, f.tenant.ID, "kim", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.LedgerEntryDebit, entries[0].Type)
	assert.Equal(t, models.LedgerEntryGrant, entries[1].Type)

	jobs, err := f.svc.ListJobs(ctx, f.tenant.ID, "kim", 0, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(ctx context.Context, jobType jobqueue.JobType, id string, payload map[string]interface{}, priority int) (*jobqueue.Job, bool, error) {
	return nil, false, errors.New("redis unavailable")
}

func (brokenQueue) RemovePending(ctx context.Context, jobID string) (bool, error) {
	return false, nil
}

func TestSubmit_EnqueueFailureRefunds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.Queue = brokenQueue{}

	sub, err := f.svc.Submit(ctx, f.tenant, request("lou", 2))
	require.Error(t, err)
	require.NotNil(t, sub.Job)

	job, err := f.svc.Get(ctx, f.tenant.ID, sub.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.JobErrorEnqueue, job.ErrorCode)
	assert.True(t, job.TokensRefunded)
	assert.Equal(t, int64(100), f.balance(t, "lou"))
}
