// Package orchestrator runs a generation job against the providers configured
// for its logical model, failing over in priority order.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/GenFox/app/models"
	"github.com/ManuelReschke/GenFox/internal/pkg/provider"
)

// ConfigSource supplies the provider mappings of a logical model.
type ConfigSource interface {
	// EnabledConfigs returns enabled configs ordered by priority, then creation order.
	EnabledConfigs(ctx context.Context, modelKey string) ([]models.ProviderConfig, error)
	// ProviderEnabled reports the global switch of a provider.
	ProviderEnabled(ctx context.Context, providerKey string) (bool, error)
}

// UsageRecorder persists one row per provider attempt.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, entry *models.ProviderUsageLog) error
}

// Job is the orchestrator's view of a generation job, with the prompt already resolved.
type Job struct {
	ID          string
	ModelKey    string
	Prompt      string
	ImageURLs   []string
	AspectRatio string
	OutputCount int
}

type Result struct {
	Success       bool
	Outputs       []string
	UsedProvider  string
	AttemptsCount int
	CostCharged   float64
	Error         string
	ErrorCode     string
}

type Orchestrator struct {
	configs  ConfigSource
	adapters *provider.Registry
	usage    UsageRecorder
	cfg      Config
}

func New(configs ConfigSource, adapters *provider.Registry, usage UsageRecorder, cfg Config) *Orchestrator {
	return &Orchestrator{configs: configs, adapters: adapters, usage: usage, cfg: cfg}
}

// attempt is the outcome of one provider within a job.
type attempt struct {
	outputs []string
	cost    float64
	usage   *provider.Usage
	err     string
}

// Run tries each enabled provider in order until one yields at least one output.
func (o *Orchestrator) Run(ctx context.Context, job Job) Result {
	configs, err := o.configs.EnabledConfigs(ctx, job.ModelKey)
	if err != nil {
		return Result{
			Error:     fmt.Sprintf("load provider configs for %s: %v", job.ModelKey, err),
			ErrorCode: models.JobErrorInternal,
		}
	}
	if len(configs) == 0 {
		return Result{
			Error:     fmt.Sprintf("no providers configured for model %s", job.ModelKey),
			ErrorCode: models.JobErrorNoProviders,
		}
	}

	var (
		failures []string
		attempts int
	)
	for _, pc := range configs {
		if ctx.Err() != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", pc.ProviderKey, ctx.Err()))
			break
		}

		enabled, err := o.configs.ProviderEnabled(ctx, pc.ProviderKey)
		if err != nil {
			log.Warnf("[Orchestrator] Could not read provider %s state, trying it anyway: %v", pc.ProviderKey, err)
			enabled = true
		}
		if !enabled {
			log.Infof("[Orchestrator] Job %s: provider %s is disabled, skipping", job.ID, pc.ProviderKey)
			continue
		}

		attempts++
		adapter, ok := o.adapters.Get(pc.ProviderKey)
		if !ok || !adapter.IsConfigured() {
			msg := "not configured"
			if !ok {
				msg = "no adapter registered"
			}
			log.Warnf("[Orchestrator] Job %s: provider %s %s", job.ID, pc.ProviderKey, msg)
			o.record(ctx, job.ID, pc, attempts, false, attempt{err: msg}, 0)
			failures = append(failures, fmt.Sprintf("%s: %s", pc.ProviderKey, msg))
			continue
		}

		started := time.Now()
		at := o.runProvider(ctx, job, pc, adapter)
		latency := time.Since(started)

		if at.err == "" && len(at.outputs) > 0 {
			o.record(ctx, job.ID, pc, attempts, true, at, latency)
			log.Infof("[Orchestrator] Job %s succeeded on %s with %d output(s) after %d attempt(s)",
				job.ID, pc.ProviderKey, len(at.outputs), attempts)
			return Result{
				Success:       true,
				Outputs:       at.outputs,
				UsedProvider:  pc.ProviderKey,
				AttemptsCount: attempts,
				CostCharged:   at.cost,
			}
		}

		if at.err == "" {
			at.err = "provider returned no outputs"
		}
		o.record(ctx, job.ID, pc, attempts, false, at, latency)
		log.Warnf("[Orchestrator] Job %s: provider %s failed: %s", job.ID, pc.ProviderKey, at.err)
		failures = append(failures, fmt.Sprintf("%s: %s", pc.ProviderKey, at.err))
	}

	msg := "all providers failed"
	if len(failures) > 0 {
		msg += ": " + strings.Join(failures, "; ")
	}
	return Result{
		Error:         msg,
		ErrorCode:     models.JobErrorAllProvidersFailed,
		AttemptsCount: attempts,
	}
}

// runProvider collects the requested number of outputs from one provider,
// issuing sequential submissions when its batch limit is smaller.
func (o *Orchestrator) runProvider(ctx context.Context, job Job, pc models.ProviderConfig, adapter provider.Adapter) attempt {
	want := job.OutputCount
	if want < 1 {
		want = 1
	}
	perCall := adapter.MaxOutputsPerCall()
	if pc.OutputsPerCall > 0 && (perCall <= 0 || pc.OutputsPerCall < perCall) {
		perCall = pc.OutputsPerCall
	}

	var out attempt
	for len(out.outputs) < want {
		req := provider.Request{
			ProviderModelID: pc.ProviderModelID,
			Prompt:          job.Prompt,
			ImageURLs:       job.ImageURLs,
			AspectRatio:     job.AspectRatio,
			OutputCount:     provider.ClampOutputs(want-len(out.outputs), perCall),
			Config:          map[string]any(pc.Config),
		}

		outputs, cost, usage, errMsg := o.generateOnce(ctx, adapter, req)
		out.cost += cost
		if usage != nil {
			out.usage = usage
		}
		if errMsg != "" {
			if len(out.outputs) > 0 {
				log.Warnf("[Orchestrator] Job %s: %s stopped after %d of %d outputs: %s",
					job.ID, adapter.Key(), len(out.outputs), want, errMsg)
				break
			}
			out.err = errMsg
			return out
		}
		if len(outputs) == 0 {
			break
		}
		out.outputs = append(out.outputs, outputs...)
	}
	if len(out.outputs) > want {
		out.outputs = out.outputs[:want]
	}
	return out
}

// generateOnce performs one submit and, for pollable adapters, waits for completion.
func (o *Orchestrator) generateOnce(ctx context.Context, adapter provider.Adapter, req provider.Request) ([]string, float64, *provider.Usage, string) {
	sub := safeSubmit(ctx, adapter, req)
	if !sub.Success {
		return nil, sub.Cost, sub.Usage, describe(sub.Error, string(sub.ErrorCode), "submit failed")
	}

	switch adapter.Mode() {
	case provider.ModeImmediate:
		return sub.Outputs, sub.Cost, sub.Usage, ""
	case provider.ModePollable:
		if sub.TaskID == "" {
			// Some pollable providers answer synchronously when the result is cached.
			if len(sub.Outputs) > 0 {
				return sub.Outputs, sub.Cost, sub.Usage, ""
			}
			return nil, sub.Cost, sub.Usage, "submit returned no task id"
		}
		res := o.await(ctx, adapter, sub.TaskID)
		if res.Status != provider.TaskSucceeded {
			return nil, sub.Cost + res.Cost, res.Usage, describe(res.Error, string(res.ErrorCode), "task failed")
		}
		return res.Outputs, sub.Cost + res.Cost, res.Usage, ""
	default:
		return nil, 0, nil, fmt.Sprintf("unknown completion mode %s", adapter.Mode())
	}
}

// await polls a task until it finishes, the poll budget is spent or the timeout hits.
func (o *Orchestrator) await(ctx context.Context, adapter provider.Adapter, taskID string) provider.PollResult {
	if o.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PollTimeout)
		defer cancel()
	}

	timedOut := func() provider.PollResult {
		return provider.PollResult{
			Status:    provider.TaskFailed,
			Error:     fmt.Sprintf("task %s did not complete in time", taskID),
			ErrorCode: provider.CodeTimeout,
		}
	}

	if !sleep(ctx, o.cfg.PollGraceDelay) {
		return timedOut()
	}

	notFound := 0
	for i := 0; i < o.cfg.MaxPolls; i++ {
		res := safePoll(ctx, adapter, taskID)
		switch res.Status {
		case provider.TaskSucceeded:
			return res
		case provider.TaskFailed:
			if res.ErrorCode != provider.CodeTaskNotFound {
				return res
			}
			notFound++
			if notFound > o.cfg.NotFoundRetries {
				return res
			}
			log.Debugf("[Orchestrator] %s task %s not found yet (%d/%d)", adapter.Key(), taskID, notFound, o.cfg.NotFoundRetries)
		}
		if !sleep(ctx, o.cfg.PollInterval) {
			return timedOut()
		}
	}

	return provider.PollResult{
		Status:    provider.TaskFailed,
		Error:     fmt.Sprintf("task %s still pending after %d polls", taskID, o.cfg.MaxPolls),
		ErrorCode: provider.CodeTimeout,
	}
}

func (o *Orchestrator) record(ctx context.Context, jobID string, pc models.ProviderConfig, n int, success bool, at attempt, latency time.Duration) {
	if o.usage == nil {
		return
	}
	entry := &models.ProviderUsageLog{
		JobID:           jobID,
		ProviderKey:     pc.ProviderKey,
		ProviderModelID: pc.ProviderModelID,
		AttemptNumber:   n,
		Success:         success,
		Cost:            at.cost,
		LatencyMs:       latency.Milliseconds(),
		ErrorMessage:    at.err,
	}
	if at.usage != nil {
		entry.InputTokens = at.usage.InputTokens
		entry.OutputTokens = at.usage.OutputTokens
		entry.TotalTokens = at.usage.TotalTokens
	}
	// Usage rows are observational; a write failure must not fail the job.
	if err := o.usage.RecordUsage(context.WithoutCancel(ctx), entry); err != nil {
		log.Errorf("[Orchestrator] Failed to record usage for job %s on %s: %v", jobID, pc.ProviderKey, err)
	}
}

func safeSubmit(ctx context.Context, a provider.Adapter, req provider.Request) (res provider.SubmitResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Orchestrator] %s panicked during submit: %v", a.Key(), r)
			res = provider.SubmitResult{Error: fmt.Sprintf("panic: %v", r), ErrorCode: provider.CodePanic}
		}
	}()
	return a.Submit(ctx, req)
}

func safePoll(ctx context.Context, a provider.Adapter, taskID string) (res provider.PollResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Orchestrator] %s panicked during poll: %v", a.Key(), r)
			res = provider.PollResult{Status: provider.TaskFailed, Error: fmt.Sprintf("panic: %v", r), ErrorCode: provider.CodePanic}
		}
	}()
	return a.Poll(ctx, taskID)
}

// sleep waits for d or until ctx is done. It reports whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func describe(msg, code, fallback string) string {
	switch {
	case msg != "":
		return msg
	case code != "":
		return code
	default:
		return fallback
	}
}
