package provider

import (
	"context"
	"net/http"
	"strings"
)

var falImageSizes = map[string]string{
	"1:1":  "square_hd",
	"4:3":  "landscape_4_3",
	"16:9": "landscape_16_9",
	"3:4":  "portrait_4_3",
	"9:16": "portrait_16_9",
}

var falAspectRatios = []string{"1:1", "4:3", "16:9", "3:4", "9:16"}

// Fal submits to the fal.ai queue API and polls the request status.
type Fal struct {
	key          string
	costPerImage float64
	client       *apiClient
}

func NewFal(opts Options) *Fal {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://queue.fal.run"
	}
	return &Fal{
		key:          opts.APIKey,
		costPerImage: opts.CostPerUnit,
		client: newAPIClient(baseURL, opts.Timeout, func(r *http.Request) {
			r.Header.Set("Authorization", "Key "+opts.APIKey)
		}),
	}
}

func (f *Fal) Key() string            { return "fal" }
func (f *Fal) Mode() CompletionMode   { return ModePollable }
func (f *Fal) IsConfigured() bool     { return f.key != "" }
func (f *Fal) MaxOutputsPerCall() int { return 4 }

// Task ids carry the model path since status URLs are scoped by it.
const falTaskSep = "|"

func (f *Fal) Submit(ctx context.Context, req Request) (res SubmitResult) {
	defer recoverSubmit(f.Key(), &res)
	if !f.IsConfigured() {
		return notConfigured(f.Key())
	}
	if req.ProviderModelID == "" {
		return submitFailure(CodeInvalidRequest, "fal: provider model id is empty")
	}

	payload := MergeConfig(req.Config, map[string]any{
		"prompt":     req.Prompt,
		"num_images": ClampOutputs(req.OutputCount, f.MaxOutputsPerCall()),
	})
	if req.AspectRatio != "" {
		payload["image_size"] = falImageSizes[NearestAspectRatio(req.AspectRatio, falAspectRatios)]
	}
	SetImageInput(payload, configString(req.Config, "_image_field", FieldImageURLs), req.ImageURLs)

	var queued struct {
		RequestID string `json:"request_id"`
	}
	if err := f.client.doJSON(ctx, http.MethodPost, req.ProviderModelID, payload, &queued); err != nil {
		return submitFailure(classifySubmit(err), "fal: %v", err)
	}
	if queued.RequestID == "" {
		return submitFailure(CodeProviderError, "fal: response did not contain a request id")
	}
	return SubmitResult{Success: true, TaskID: req.ProviderModelID + falTaskSep + queued.RequestID}
}

func (f *Fal) Poll(ctx context.Context, taskID string) (res PollResult) {
	defer recoverPoll(f.Key(), &res)
	if !f.IsConfigured() {
		return pollFailure(CodeNotConfigured, "fal: missing credentials")
	}
	model, requestID, ok := strings.Cut(taskID, falTaskSep)
	if !ok || model == "" || requestID == "" {
		return pollFailure(CodeInvalidRequest, "fal: malformed task id %q", taskID)
	}
	base := falAppPath(model) + "/requests/" + requestID

	var status struct {
		Status string `json:"status"`
		Error  string `json:"error"`
	}
	if err := f.client.doJSON(ctx, http.MethodGet, base+"/status", nil, &status); err != nil {
		return pollFailure(classify(err), "fal: %v", err)
	}

	switch status.Status {
	case "IN_QUEUE":
		return PollResult{Status: TaskPending}
	case "IN_PROGRESS":
		return PollResult{Status: TaskRunning}
	case "COMPLETED":
	default:
		msg := status.Error
		if msg == "" {
			msg = "request " + strings.ToLower(status.Status)
		}
		return pollFailure(CodeProviderError, "fal: %s", msg)
	}

	var result map[string]any
	if err := f.client.doJSON(ctx, http.MethodGet, base, nil, &result); err != nil {
		return pollFailure(classify(err), "fal: fetch result: %v", err)
	}
	if detail, ok := result["detail"]; ok && result["images"] == nil {
		return pollFailure(CodeProviderError, "fal: %v", detail)
	}
	outputs := FilterImages(ExtractURLs(result))
	return PollResult{
		Status:  TaskSucceeded,
		Outputs: outputs,
		Cost:    float64(len(outputs)) * f.costPerImage,
	}
}

// falAppPath trims a model path to "owner/app"; the queue status endpoints
// do not include sub-paths.
func falAppPath(model string) string {
	parts := strings.SplitN(strings.Trim(model, "/"), "/", 3)
	if len(parts) < 2 {
		return model
	}
	return parts[0] + "/" + parts[1]
}
