// Package provider wraps external generation services behind one contract.
//
// Adapters never return Go errors or panic past their boundary. Every outcome,
// including a missing credential, is reported as a SubmitResult or PollResult.
package provider

import (
	"context"
	"fmt"
)

// CompletionMode tells the orchestrator how an adapter delivers outputs.
type CompletionMode int

const (
	// ModeImmediate adapters return outputs from Submit.
	ModeImmediate CompletionMode = iota
	// ModePollable adapters return a task id that must be polled.
	ModePollable
)

func (m CompletionMode) String() string {
	switch m {
	case ModeImmediate:
		return "immediate"
	case ModePollable:
		return "pollable"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ErrorCode is the machine-readable reason for a failed call.
type ErrorCode string

const (
	CodeNotConfigured  ErrorCode = "not_configured"
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeProviderError  ErrorCode = "provider_error"
	CodeRateLimited    ErrorCode = "rate_limited"
	CodeTimeout        ErrorCode = "timeout"
	CodeTaskNotFound   ErrorCode = "task_not_found"
	CodeEmptyOutput    ErrorCode = "empty_output"
	CodeUnsupported    ErrorCode = "unsupported"
	CodePanic          ErrorCode = "adapter_panic"
)

// TaskStatus is the provider-neutral state of a pollable task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Request is one generation call after prompt resolution.
type Request struct {
	ProviderModelID string
	Prompt          string
	ImageURLs       []string
	AspectRatio     string
	OutputCount     int
	// Config is the provider config map stored with the model mapping.
	Config map[string]any
}

// Usage holds optional token counters reported by the provider.
type Usage struct {
	InputTokens  *int64
	OutputTokens *int64
	TotalTokens  *int64
}

type SubmitResult struct {
	Success   bool
	TaskID    string
	Outputs   []string
	Cost      float64
	Usage     *Usage
	Error     string
	ErrorCode ErrorCode
}

type PollResult struct {
	Status    TaskStatus
	Outputs   []string
	Cost      float64
	Usage     *Usage
	Error     string
	ErrorCode ErrorCode
}

// Adapter is implemented by every generation provider.
type Adapter interface {
	Key() string
	Mode() CompletionMode
	IsConfigured() bool
	// MaxOutputsPerCall is the batch limit of one submission.
	MaxOutputsPerCall() int
	Submit(ctx context.Context, req Request) SubmitResult
	Poll(ctx context.Context, taskID string) PollResult
}

func submitFailure(code ErrorCode, format string, args ...any) SubmitResult {
	return SubmitResult{Success: false, ErrorCode: code, Error: fmt.Sprintf(format, args...)}
}

func pollFailure(code ErrorCode, format string, args ...any) PollResult {
	return PollResult{Status: TaskFailed, ErrorCode: code, Error: fmt.Sprintf(format, args...)}
}

func notConfigured(key string) SubmitResult {
	return submitFailure(CodeNotConfigured, "%s: missing credentials", key)
}

// recoverSubmit turns a panic inside an adapter into a failed result.
func recoverSubmit(key string, res *SubmitResult) {
	if r := recover(); r != nil {
		*res = submitFailure(CodePanic, "%s: panic during submit: %v", key, r)
	}
}

func recoverPoll(key string, res *PollResult) {
	if r := recover(); r != nil {
		*res = pollFailure(CodePanic, "%s: panic during poll: %v", key, r)
	}
}

// unsupportedPoll is the Poll implementation of immediate adapters.
func unsupportedPoll(key string) PollResult {
	return pollFailure(CodeUnsupported, "%s: completes immediately and cannot be polled", key)
}
