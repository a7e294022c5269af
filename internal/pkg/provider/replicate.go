package provider

import (
	"context"
	"net/http"
	"strings"
)

var replicateAspectRatios = []string{"1:1", "16:9", "9:16", "4:3", "3:4", "3:2", "2:3", "21:9", "9:21"}

// Replicate runs models through the predictions API and is polled to completion.
// Cost is reported as predict time multiplied by Options.CostPerUnit (per second).
type Replicate struct {
	token         string
	costPerSecond float64
	client        *apiClient
}

func NewReplicate(opts Options) *Replicate {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	return &Replicate{
		token:         opts.APIKey,
		costPerSecond: opts.CostPerUnit,
		client:        newAPIClient(baseURL, opts.Timeout, bearer(opts.APIKey)),
	}
}

func (r *Replicate) Key() string            { return "replicate" }
func (r *Replicate) Mode() CompletionMode   { return ModePollable }
func (r *Replicate) IsConfigured() bool     { return r.token != "" }
func (r *Replicate) MaxOutputsPerCall() int { return 4 }

type replicatePrediction struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Output  any    `json:"output"`
	Error   any    `json:"error"`
	Metrics struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics"`
}

func (r *Replicate) Submit(ctx context.Context, req Request) (res SubmitResult) {
	defer recoverSubmit(r.Key(), &res)
	if !r.IsConfigured() {
		return notConfigured(r.Key())
	}
	if req.ProviderModelID == "" {
		return submitFailure(CodeInvalidRequest, "replicate: provider model id is empty")
	}

	input := MergeConfig(req.Config, map[string]any{
		"prompt":      req.Prompt,
		"num_outputs": ClampOutputs(req.OutputCount, r.MaxOutputsPerCall()),
	})
	if req.AspectRatio != "" {
		input["aspect_ratio"] = NearestAspectRatio(req.AspectRatio, replicateAspectRatios)
	}
	SetImageInput(input, configString(req.Config, "_image_field", FieldInputImage), req.ImageURLs)

	// "owner/name:version" targets a pinned version, "owner/name" the latest one.
	path := "models/" + req.ProviderModelID + "/predictions"
	body := map[string]any{"input": input}
	if i := strings.LastIndex(req.ProviderModelID, ":"); i >= 0 {
		path = "predictions"
		body["version"] = req.ProviderModelID[i+1:]
	}

	var pred replicatePrediction
	if err := r.client.doJSON(ctx, http.MethodPost, path, body, &pred); err != nil {
		return submitFailure(classifySubmit(err), "replicate: %v", err)
	}
	if pred.ID == "" {
		return submitFailure(CodeProviderError, "replicate: response did not contain a prediction id")
	}
	return SubmitResult{Success: true, TaskID: pred.ID}
}

func (r *Replicate) Poll(ctx context.Context, taskID string) (res PollResult) {
	defer recoverPoll(r.Key(), &res)
	if !r.IsConfigured() {
		return pollFailure(CodeNotConfigured, "replicate: missing credentials")
	}

	var pred replicatePrediction
	if err := r.client.doJSON(ctx, http.MethodGet, "predictions/"+taskID, nil, &pred); err != nil {
		return pollFailure(classify(err), "replicate: %v", err)
	}

	switch pred.Status {
	case "starting":
		return PollResult{Status: TaskPending}
	case "processing":
		return PollResult{Status: TaskRunning}
	case "succeeded":
		return PollResult{
			Status:  TaskSucceeded,
			Outputs: FilterImages(ExtractURLs(pred.Output)),
			Cost:    pred.Metrics.PredictTime * r.costPerSecond,
		}
	default:
		msg := "prediction " + pred.Status
		if s, ok := pred.Error.(string); ok && s != "" {
			msg = s
		}
		return pollFailure(CodeProviderError, "replicate: %s", msg)
	}
}
