package jobqueue

import (
	"context"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/app/repository"
	"github.com/ManuelReschke/GenFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/GenFox/internal/pkg/ledger"
	"github.com/ManuelReschke/GenFox/internal/pkg/orchestrator"
)

type fakeRunner struct {
	result orchestrator.Result
	calls  []orchestrator.Job
}

func (r *fakeRunner) Run(ctx context.Context, job orchestrator.Job) orchestrator.Result {
	r.calls = append(r.calls, job)
	return r.result
}

type fakeOutputStore struct {
	err error
}

func (s *fakeOutputStore) Store(ctx context.Context, jobID string, index int, source string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "https://cdn.test/" + jobID + "/" + strconv.Itoa(index) + ".png", nil
}

type failingRefunder struct{}

func (failingRefunder) Refund(ctx context.Context, userID uint, jobID string, amount int64) ledger.Result {
	return ledger.Result{Err: errors.New("db down"), Code: ledger.CodeInternal}
}

type processorFixture struct {
	db     *gorm.DB
	jobs   repository.GenerationJobRepository
	ledger *ledger.Service
	runner *fakeRunner
	store  *fakeOutputStore
	cache  *ProgressCache
	proc   *GenerationProcessor
	user   *models.AppUser
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	db := dbtest.Open(t)
	client, _ := newRedisClient(t)

	f := &processorFixture{
		db:     db,
		jobs:   repository.NewGenerationJobRepository(db),
		ledger: ledger.NewService(db),
		runner: &fakeRunner{},
		store:  &fakeOutputStore{},
		cache:  NewProgressCache(client),
	}
	f.proc = NewGenerationProcessor(f.jobs, f.runner, f.store, f.ledger, f.cache)

	f.user = &models.AppUser{TenantID: 1, ExternalID: "proc-user"}
	require.NoError(t, db.Create(f.user).Error)
	res := f.ledger.Grant(context.Background(), f.user.ID, 100, "seed", nil)
	require.True(t, res.Success)
	return f
}

// chargedJob creates a queued job whose reservation is booked, as admission leaves it.
func (f *processorFixture) chargedJob(t *testing.T, id string, input models.GenerationInput) *models.GenerationJob {
	t.Helper()
	ctx := context.Background()
	job := &models.GenerationJob{
		ID:        id,
		TenantID:  1,
		AppUserID: f.user.ID,
		ModelKey:  "flux-schnell",
		Input:     datatypes.NewJSONType(input),
		Status:    models.JobStatusQueued,
		TokenCost: 20,
	}
	require.NoError(t, f.jobs.Create(ctx, job))
	require.True(t, f.ledger.Reserve(ctx, f.user.ID, id, 20).Success)
	require.NoError(t, f.jobs.MarkCharged(ctx, id))
	return job
}

func (f *processorFixture) queueJob(id string, retries int) *Job {
	payload := GenerationJobPayload{JobID: id, TenantID: 1, AppUserID: f.user.ID}
	return &Job{ID: id, Type: JobTypeGeneration, Payload: payload.ToMap(), RetryCount: retries, MaxRetries: 3}
}

func (f *processorFixture) balance(t *testing.T) int64 {
	t.Helper()
	b, err := f.ledger.Balance(context.Background(), f.user.ID)
	require.NoError(t, err)
	return b.Raw
}

func (f *processorFixture) refundEntries(t *testing.T, jobID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.TokenLedgerEntry{}).Where("idempotency_key = ?", ledger.RefundKey(jobID)).Count(&n).Error)
	return n
}

func TestProcess_Success(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	f.chargedJob(t, "job-ok", models.GenerationInput{
		Prompt:          "a {{color}} fox",
		PromptVariables: map[string]string{"color": "red"},
		AspectRatio:     "16:9",
		OutputCount:     2,
	})
	f.runner.result = orchestrator.Result{
		Success:       true,
		Outputs:       []string{"https://replicate.test/a.png", "data:image/png;base64,AAAA"},
		UsedProvider:  "replicate",
		AttemptsCount: 2,
	}

	require.NoError(t, f.proc.Process(ctx, f.queueJob("job-ok", 0)))

	require.Len(t, f.runner.calls, 1)
	call := f.runner.calls[0]
	assert.Equal(t, "a red fox", call.Prompt)
	assert.Equal(t, "flux-schnell", call.ModelKey)
	assert.Equal(t, 2, call.OutputCount)
	assert.Equal(t, "16:9", call.AspectRatio)

	job, err := f.jobs.GetByID(ctx, "job-ok")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
	assert.Equal(t, "replicate", job.UsedProvider)
	assert.Equal(t, 2, job.AttemptsCount)
	assert.Equal(t, 100, job.Progress)
	require.Len(t, job.Outputs, 2)
	assert.Equal(t, "https://cdn.test/job-ok/0.png", job.Outputs[0].URL)
	assert.Equal(t, "https://replicate.test/a.png", job.Outputs[0].SourceURL)
	assert.Empty(t, job.Outputs[1].SourceURL)

	percent, ok, err := f.cache.Get(ctx, "job-ok")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, ProgressFinished, percent)

	assert.Equal(t, int64(80), f.balance(t))
	assert.Zero(t, f.refundEntries(t, "job-ok"))
}

func TestProcess_ProviderFailureRefundsOnce(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	f.chargedJob(t, "job-fail", models.GenerationInput{Prompt: "a fox", OutputCount: 1})
	f.runner.result = orchestrator.Result{
		Error:         "all providers failed: replicate: rate limited; fal: timeout",
		ErrorCode:     models.JobErrorAllProvidersFailed,
		AttemptsCount: 2,
	}

	require.NoError(t, f.proc.Process(ctx, f.queueJob("job-fail", 0)))

	job, err := f.jobs.GetByID(ctx, "job-fail")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.JobErrorAllProvidersFailed, job.ErrorCode)
	assert.Equal(t, "all providers failed: replicate: rate limited; fal: timeout", job.ErrorMessage)
	assert.Equal(t, 2, job.AttemptsCount)
	assert.True(t, job.TokensRefunded)
	assert.Equal(t, int64(100), f.balance(t))

	// A redelivery finds the row failed and does not refund again.
	require.NoError(t, f.proc.Process(ctx, f.queueJob("job-fail", 1)))
	assert.Len(t, f.runner.calls, 1)
	assert.Equal(t, int64(1), f.refundEntries(t, "job-fail"))
	assert.Equal(t, int64(100), f.balance(t))

	ok, err := f.ledger.VerifyBalance(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestProcess_StorageFailureFailsJob(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	f.chargedJob(t, "job-store", models.GenerationInput{Prompt: "a fox", OutputCount: 1})
	f.runner.result = orchestrator.Result{Success: true, Outputs: []string{"https://x.test/a.png"}, UsedProvider: "fal", AttemptsCount: 1}
	f.store.err = errors.New("bucket missing")

	require.NoError(t, f.proc.Process(ctx, f.queueJob("job-store", 0)))

	job, err := f.jobs.GetByID(ctx, "job-store")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.JobErrorStorage, job.ErrorCode)
	assert.Contains(t, job.ErrorMessage, "bucket missing")
	assert.Empty(t, job.Outputs)
	assert.Equal(t, int64(100), f.balance(t))
}

func TestProcess_EmptyPromptIsInvalidInput(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	f.chargedJob(t, "job-empty", models.GenerationInput{
		Prompt:          "{{subject}}",
		PromptVariables: map[string]string{"subject": "   "},
		OutputCount:     1,
	})

	require.NoError(t, f.proc.Process(ctx, f.queueJob("job-empty", 0)))

	assert.Empty(t, f.runner.calls)
	job, err := f.jobs.GetByID(ctx, "job-empty")
	require.NoError(t, err)
	assert.Equal(t, models.JobErrorInvalidInput, job.ErrorCode)
	assert.Equal(t, int64(100), f.balance(t))
}

func TestProcess_CancelledJobIsAcked(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	f.chargedJob(t, "job-cancel", models.GenerationInput{Prompt: "a fox", OutputCount: 1})
	cancelled, err := f.jobs.MarkCancelled(ctx, "job-cancel")
	require.NoError(t, err)
	require.True(t, cancelled)

	require.NoError(t, f.proc.Process(ctx, f.queueJob("job-cancel", 0)))

	assert.Empty(t, f.runner.calls)
	job, err := f.jobs.GetByID(ctx, "job-cancel")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	// The processor completes the refund the cancel path owes.
	assert.Equal(t, int64(1), f.refundEntries(t, "job-cancel"))
}

func TestProcess_RunningJobOnlyResumedAfterAttemptEnded(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	f.chargedJob(t, "job-run", models.GenerationInput{Prompt: "a fox", OutputCount: 1})
	started, err := f.jobs.MarkRunning(ctx, "job-run")
	require.NoError(t, err)
	require.True(t, started)
	f.runner.result = orchestrator.Result{Success: true, Outputs: []string{"https://x.test/a.png"}, UsedProvider: "openai", AttemptsCount: 1}

	require.NoError(t, f.proc.Process(ctx, f.queueJob("job-run", 0)))
	assert.Empty(t, f.runner.calls)

	// A retry count alone does not prove the earlier worker is gone.
	require.NoError(t, f.proc.Process(ctx, f.queueJob("job-run", 1)))
	assert.Empty(t, f.runner.calls)

	resumed := f.queueJob("job-run", 1)
	resumed.Resumable = true
	require.NoError(t, f.proc.Process(ctx, resumed))
	assert.Len(t, f.runner.calls, 1)
	job, err := f.jobs.GetByID(ctx, "job-run")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, job.Status)
}

func TestProcess_MissingRowIsPermanent(t *testing.T) {
	f := newProcessorFixture(t)

	err := f.proc.Process(context.Background(), f.queueJob("ghost", 0))
	assert.ErrorIs(t, err, ErrPermanent)

	err = f.proc.Process(context.Background(), &Job{ID: "bad", Payload: map[string]interface{}{}})
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestHandleFailure_FailsAndRefunds(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	f.chargedJob(t, "job-exhausted", models.GenerationInput{Prompt: "a fox", OutputCount: 1})

	f.proc.HandleFailure(ctx, f.queueJob("job-exhausted", 3), errors.New("db timeout"))

	job, err := f.jobs.GetByID(ctx, "job-exhausted")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, models.JobErrorInternal, job.ErrorCode)
	assert.Contains(t, job.ErrorMessage, "db timeout")
	assert.Equal(t, int64(100), f.balance(t))
}

func TestRefundJob_LedgerFailureReleasesClaim(t *testing.T) {
	f := newProcessorFixture(t)
	ctx := context.Background()
	job := f.chargedJob(t, "job-rf", models.GenerationInput{Prompt: "a fox", OutputCount: 1})
	job.TokensCharged = true

	err := RefundJob(ctx, f.jobs, failingRefunder{}, job)
	require.Error(t, err)

	stored, err := f.jobs.GetByID(ctx, "job-rf")
	require.NoError(t, err)
	assert.False(t, stored.TokensRefunded)

	require.NoError(t, RefundJob(ctx, f.jobs, f.ledger, stored))
	require.NoError(t, RefundJob(ctx, f.jobs, f.ledger, stored))
	assert.Equal(t, int64(1), f.refundEntries(t, "job-rf"))
	assert.Equal(t, int64(100), f.balance(t))
}
