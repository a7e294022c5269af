package provider

import (
	"context"
	"net/http"
)

var openAISizes = map[string]string{
	"1:1": "1024x1024",
	"3:2": "1536x1024",
	"2:3": "1024x1536",
}

var openAIAspectRatios = []string{"1:1", "3:2", "2:3"}

// OpenAI generates images with a single blocking call.
type OpenAI struct {
	key          string
	costPerImage float64
	client       *apiClient
}

func NewOpenAI(opts Options) *OpenAI {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAI{
		key:          opts.APIKey,
		costPerImage: opts.CostPerUnit,
		client:       newAPIClient(baseURL, opts.Timeout, bearer(opts.APIKey)),
	}
}

func (o *OpenAI) Key() string            { return "openai" }
func (o *OpenAI) Mode() CompletionMode   { return ModeImmediate }
func (o *OpenAI) IsConfigured() bool     { return o.key != "" }
func (o *OpenAI) MaxOutputsPerCall() int { return 4 }

type openAIImageResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Usage *struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
		TotalTokens  int64 `json:"total_tokens"`
	} `json:"usage"`
}

func (o *OpenAI) Submit(ctx context.Context, req Request) (res SubmitResult) {
	defer recoverSubmit(o.Key(), &res)
	if !o.IsConfigured() {
		return notConfigured(o.Key())
	}
	if len(req.ImageURLs) > 0 {
		return submitFailure(CodeInvalidRequest, "openai: image inputs are not supported by the generations endpoint")
	}

	model := req.ProviderModelID
	if model == "" {
		model = "gpt-image-1"
	}
	payload := MergeConfig(req.Config, map[string]any{
		"model":  model,
		"prompt": req.Prompt,
		"n":      ClampOutputs(req.OutputCount, o.MaxOutputsPerCall()),
	})
	if req.AspectRatio != "" {
		payload["size"] = openAISizes[NearestAspectRatio(req.AspectRatio, openAIAspectRatios)]
	}

	var resp openAIImageResponse
	if err := o.client.doJSON(ctx, http.MethodPost, "images/generations", payload, &resp); err != nil {
		return submitFailure(classifySubmit(err), "openai: %v", err)
	}

	outputs := make([]string, 0, len(resp.Data))
	for _, d := range resp.Data {
		switch {
		case d.URL != "":
			outputs = append(outputs, d.URL)
		case d.B64JSON != "":
			outputs = append(outputs, "data:image/png;base64,"+d.B64JSON)
		}
	}
	outputs = FilterImages(outputs)
	if len(outputs) == 0 {
		return submitFailure(CodeEmptyOutput, "openai: response contained no images")
	}

	out := SubmitResult{Success: true, Outputs: outputs, Cost: float64(len(outputs)) * o.costPerImage}
	if resp.Usage != nil {
		in, outTok, total := resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.Usage.TotalTokens
		out.Usage = &Usage{InputTokens: &in, OutputTokens: &outTok, TotalTokens: &total}
	}
	return out
}

func (o *OpenAI) Poll(_ context.Context, _ string) PollResult {
	return unsupportedPoll(o.Key())
}
