package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/orchestrator"
)

// JobStore is the part of the job repository the processor needs.
type JobStore interface {
	RefundStore
	GetByID(ctx context.Context, id string) (*models.GenerationJob, error)
	MarkRunning(ctx context.Context, id string) (bool, error)
	UpdateProgress(ctx context.Context, id string, percent int) error
	MarkSucceeded(ctx context.Context, id, provider string, attempts int, outputs []models.JobOutput) (bool, error)
	MarkFailed(ctx context.Context, id, message, code string, attempts int) (bool, error)
}

// Runner executes a job against the configured providers.
type Runner interface {
	Run(ctx context.Context, job orchestrator.Job) orchestrator.Result
}

// OutputStore copies a provider output to durable storage and returns the URL to serve.
type OutputStore interface {
	Store(ctx context.Context, jobID string, index int, source string) (string, error)
}

// ProgressReporter mirrors progress outside the database.
type ProgressReporter interface {
	Set(ctx context.Context, jobID string, percent int) error
}

// GenerationProcessor drives one generation job from QUEUED to a terminal state.
type GenerationProcessor struct {
	jobs     JobStore
	runner   Runner
	outputs  OutputStore
	refunder Refunder
	progress ProgressReporter
}

// NewGenerationProcessor wires the processor. progress may be nil.
func NewGenerationProcessor(jobs JobStore, runner Runner, outputs OutputStore, refunder Refunder, progress ProgressReporter) *GenerationProcessor {
	return &GenerationProcessor{
		jobs:     jobs,
		runner:   runner,
		outputs:  outputs,
		refunder: refunder,
		progress: progress,
	}
}

// Process implements Processor. Provider failures end the job as FAILED and
// return nil; only infrastructure errors are returned for a retry.
func (p *GenerationProcessor) Process(ctx context.Context, qjob *Job) error {
	payload, err := GenerationJobPayloadFromMap(qjob.Payload)
	if err != nil || payload.JobID == "" {
		return Permanent(fmt.Errorf("invalid generation payload for %s: %v", qjob.ID, err))
	}

	row, err := p.jobs.GetByID(ctx, payload.JobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Permanent(fmt.Errorf("generation job %s not found", payload.JobID))
	}
	if err != nil {
		return fmt.Errorf("load generation job %s: %w", payload.JobID, err)
	}

	switch row.Status {
	case models.JobStatusQueued:
		started, err := p.jobs.MarkRunning(ctx, row.ID)
		if err != nil {
			return fmt.Errorf("start generation job %s: %w", row.ID, err)
		}
		if !started {
			log.Infof("[GenerationProcessor] Job %s left the queued state before start, skipping", row.ID)
			return nil
		}
		row.Status = models.JobStatusRunning
	case models.JobStatusRunning:
		// Only resume when the queue knows the earlier attempt has ended.
		if !qjob.Resumable {
			log.Warnf("[GenerationProcessor] Job %s is already running, skipping", row.ID)
			return nil
		}
		log.Infof("[GenerationProcessor] Resuming job %s (retry %d)", row.ID, qjob.RetryCount)
	case models.JobStatusFailed, models.JobStatusCancelled:
		// Finish a refund an earlier attempt could not complete.
		return RefundJob(ctx, p.jobs, p.refunder, row)
	default:
		log.Debugf("[GenerationProcessor] Job %s is %s, nothing to do", row.ID, row.Status)
		return nil
	}

	p.report(ctx, row.ID, ProgressStarted)

	input := row.Input.Data()
	prompt := ResolvePrompt(input.Prompt, input.PromptVariables)
	if prompt == "" {
		return p.fail(ctx, row, "prompt is empty after variable substitution", models.JobErrorInvalidInput, 0)
	}
	p.report(ctx, row.ID, ProgressPromptReady)

	result := p.runner.Run(ctx, orchestrator.Job{
		ID:          row.ID,
		ModelKey:    row.ModelKey,
		Prompt:      prompt,
		ImageURLs:   input.ImageURLs,
		AspectRatio: input.AspectRatio,
		OutputCount: input.OutputCount,
	})
	if !result.Success {
		code := result.ErrorCode
		if code == "" {
			code = models.JobErrorAllProvidersFailed
		}
		return p.fail(ctx, row, result.Error, code, result.AttemptsCount)
	}
	p.report(ctx, row.ID, ProgressGenerated)

	stored := make([]models.JobOutput, 0, len(result.Outputs))
	for i, src := range result.Outputs {
		url, err := p.outputs.Store(ctx, row.ID, i, src)
		if err != nil {
			msg := fmt.Sprintf("store output %d: %v", i, err)
			return p.fail(ctx, row, msg, models.JobErrorStorage, result.AttemptsCount)
		}
		stored = append(stored, models.JobOutput{Index: i, URL: url, SourceURL: sourceRef(src)})
	}

	done, err := p.jobs.MarkSucceeded(ctx, row.ID, result.UsedProvider, result.AttemptsCount, stored)
	if err != nil {
		return fmt.Errorf("finish generation job %s: %w", row.ID, err)
	}
	if !done {
		log.Warnf("[GenerationProcessor] Job %s changed state before it could be completed", row.ID)
		return nil
	}
	p.report(ctx, row.ID, ProgressFinished)
	log.Infof("[GenerationProcessor] Job %s succeeded via %s with %d output(s)", row.ID, result.UsedProvider, len(stored))
	return nil
}

// HandleFailure implements FailureHandler: a job whose retries ran out is
// failed with an internal error and refunded.
func (p *GenerationProcessor) HandleFailure(ctx context.Context, qjob *Job, cause error) {
	payload, err := GenerationJobPayloadFromMap(qjob.Payload)
	if err != nil || payload.JobID == "" {
		log.Errorf("[GenerationProcessor] Cannot fail queue job %s without a generation id", qjob.ID)
		return
	}
	row, err := p.jobs.GetByID(ctx, payload.JobID)
	if err != nil {
		log.Errorf("[GenerationProcessor] Failed to load job %s after retries: %v", payload.JobID, err)
		return
	}
	msg := "processing failed"
	if cause != nil {
		msg = fmt.Sprintf("processing failed: %v", cause)
	}
	if err := p.fail(ctx, row, msg, models.JobErrorInternal, row.AttemptsCount); err != nil {
		log.Errorf("[GenerationProcessor] %v", err)
	}
}

// fail marks the job FAILED and refunds its reservation. A refund error is
// returned so the queue retries, and the retry finds the row failed and
// finishes the refund.
func (p *GenerationProcessor) fail(ctx context.Context, row *models.GenerationJob, message, code string, attempts int) error {
	if message == "" {
		message = "generation failed"
	}
	marked, err := p.jobs.MarkFailed(ctx, row.ID, message, code, attempts)
	if err != nil {
		return fmt.Errorf("fail generation job %s: %w", row.ID, err)
	}
	if marked {
		row.Status = models.JobStatusFailed
		log.Warnf("[GenerationProcessor] Job %s failed (%s): %s", row.ID, code, message)
	}
	if row.Status != models.JobStatusFailed {
		return nil
	}
	return RefundJob(ctx, p.jobs, p.refunder, row)
}

func (p *GenerationProcessor) report(ctx context.Context, jobID string, percent int) {
	if err := p.jobs.UpdateProgress(ctx, jobID, percent); err != nil {
		log.Warnf("[GenerationProcessor] Failed to store progress of job %s: %v", jobID, err)
	}
	if p.progress == nil {
		return
	}
	if err := p.progress.Set(ctx, jobID, percent); err != nil {
		log.Warnf("[GenerationProcessor] Failed to cache progress of job %s: %v", jobID, err)
	}
}

// sourceRef keeps the provider URL for reference, but not inline payloads.
func sourceRef(src string) string {
	if strings.HasPrefix(src, "data:") {
		return ""
	}
	return src
}
