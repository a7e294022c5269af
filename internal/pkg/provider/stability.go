package provider

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
)

var stabilityAspectRatios = []string{"1:1", "16:9", "21:9", "2:3", "3:2", "4:5", "5:4", "9:16", "9:21"}

// Stability calls the stable-image endpoints, which return one image per request.
type Stability struct {
	key          string
	costPerImage float64
	client       *apiClient
}

func NewStability(opts Options) *Stability {
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://api.stability.ai"
	}
	return &Stability{
		key:          opts.APIKey,
		costPerImage: opts.CostPerUnit,
		client:       newAPIClient(baseURL, opts.Timeout, bearer(opts.APIKey)),
	}
}

func (s *Stability) Key() string            { return "stability" }
func (s *Stability) Mode() CompletionMode   { return ModeImmediate }
func (s *Stability) IsConfigured() bool     { return s.key != "" }
func (s *Stability) MaxOutputsPerCall() int { return 1 }

func (s *Stability) Submit(ctx context.Context, req Request) (res SubmitResult) {
	defer recoverSubmit(s.Key(), &res)
	if !s.IsConfigured() {
		return notConfigured(s.Key())
	}
	if len(req.ImageURLs) > 0 {
		return submitFailure(CodeInvalidRequest, "stability: image inputs are not supported")
	}

	// Model ids name the endpoint: core, ultra or sd3.
	endpoint := req.ProviderModelID
	if endpoint == "" {
		endpoint = "core"
	}

	fields := MergeConfig(req.Config, map[string]any{
		"prompt":        req.Prompt,
		"output_format": configString(req.Config, "output_format", "png"),
	})
	if req.AspectRatio != "" {
		fields["aspect_ratio"] = NearestAspectRatio(req.AspectRatio, stabilityAspectRatios)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mw.WriteField(k, fmt.Sprint(v)); err != nil {
			return submitFailure(CodeInvalidRequest, "stability: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		return submitFailure(CodeInvalidRequest, "stability: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.client.url("v2beta/stable-image/generate/"+endpoint), &body)
	if err != nil {
		return submitFailure(CodeInvalidRequest, "stability: %v", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Image        string `json:"image"`
		FinishReason string `json:"finish_reason"`
	}
	if err := s.client.send(httpReq, &resp); err != nil {
		return submitFailure(classifySubmit(err), "stability: %v", err)
	}
	if resp.FinishReason == "CONTENT_FILTERED" {
		return submitFailure(CodeProviderError, "stability: output was content filtered")
	}
	if resp.Image == "" {
		return submitFailure(CodeEmptyOutput, "stability: response contained no image")
	}

	format := configString(req.Config, "output_format", "png")
	return SubmitResult{
		Success: true,
		Outputs: []string{"data:image/" + format + ";base64," + resp.Image},
		Cost:    s.costPerImage,
	}
}

func (s *Stability) Poll(_ context.Context, _ string) PollResult {
	return unsupportedPoll(s.Key())
}
