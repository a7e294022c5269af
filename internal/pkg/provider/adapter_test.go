package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func TestReplicate_SubmitAndPoll(t *testing.T) {
	var submitted map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/models/black-forest-labs/flux-schnell/predictions":
			submitted = decodeBody(t, r)
			_, _ = w.Write([]byte(`{"id":"p1","status":"starting"}`))
		case r.URL.Path == "/predictions/p1":
			_, _ = w.Write([]byte(`{"id":"p1","status":"succeeded","output":["https://cdn/x.webp","https://cdn/log.txt"],"metrics":{"predict_time":2}}`))
		case r.URL.Path == "/predictions/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	a := NewReplicate(Options{APIKey: "tok", BaseURL: srv.URL, CostPerUnit: 0.5})
	assert.Equal(t, ModePollable, a.Mode())

	res := a.Submit(context.Background(), Request{
		ProviderModelID: "black-forest-labs/flux-schnell",
		Prompt:          "a fox",
		AspectRatio:     "1.8:1",
		OutputCount:     9,
		ImageURLs:       []string{"https://in/ref.png"},
		Config:          map[string]any{"go_fast": true},
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "p1", res.TaskID)

	input := submitted["input"].(map[string]any)
	assert.Equal(t, "a fox", input["prompt"])
	assert.Equal(t, float64(4), input["num_outputs"])
	assert.Equal(t, "16:9", input["aspect_ratio"])
	assert.Equal(t, "https://in/ref.png", input[FieldInputImage])
	assert.Equal(t, true, input["go_fast"])

	poll := a.Poll(context.Background(), "p1")
	assert.Equal(t, TaskSucceeded, poll.Status)
	assert.Equal(t, []string{"https://cdn/x.webp"}, poll.Outputs)
	assert.InDelta(t, 1.0, poll.Cost, 1e-9)

	missing := a.Poll(context.Background(), "missing")
	assert.Equal(t, TaskFailed, missing.Status)
	assert.Equal(t, CodeTaskNotFound, missing.ErrorCode)
}

func TestReplicate_PinnedVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/predictions", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "abc123", body["version"])
		_, _ = w.Write([]byte(`{"id":"p2"}`))
	}))
	defer srv.Close()

	a := NewReplicate(Options{APIKey: "tok", BaseURL: srv.URL})
	res := a.Submit(context.Background(), Request{ProviderModelID: "owner/model:abc123", Prompt: "x"})
	assert.True(t, res.Success)
}

func TestFal_QueueLifecycle(t *testing.T) {
	statusCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Key k", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/fal-ai/flux/dev":
			body := decodeBody(t, r)
			assert.Equal(t, "portrait_16_9", body["image_size"])
			assert.Equal(t, []any{"https://in/a.png"}, body[FieldImageURLs])
			_, _ = w.Write([]byte(`{"request_id":"r1"}`))
		case "/fal-ai/flux/requests/r1/status":
			statusCalls++
			if statusCalls == 1 {
				_, _ = w.Write([]byte(`{"status":"IN_QUEUE"}`))
				return
			}
			_, _ = w.Write([]byte(`{"status":"COMPLETED"}`))
		case "/fal-ai/flux/requests/r1":
			_, _ = w.Write([]byte(`{"images":[{"url":"https://fal/a.jpg"},{"url":"https://fal/b.jpg"}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	a := NewFal(Options{APIKey: "k", BaseURL: srv.URL, CostPerUnit: 0.1})
	res := a.Submit(context.Background(), Request{
		ProviderModelID: "fal-ai/flux/dev",
		Prompt:          "p",
		AspectRatio:     "9:16",
		ImageURLs:       []string{"https://in/a.png"},
	})
	require.True(t, res.Success, res.Error)

	assert.Equal(t, TaskPending, a.Poll(context.Background(), res.TaskID).Status)

	done := a.Poll(context.Background(), res.TaskID)
	assert.Equal(t, TaskSucceeded, done.Status)
	assert.Equal(t, []string{"https://fal/a.jpg", "https://fal/b.jpg"}, done.Outputs)
	assert.InDelta(t, 0.2, done.Cost, 1e-9)

	bad := a.Poll(context.Background(), "no-separator")
	assert.Equal(t, CodeInvalidRequest, bad.ErrorCode)
}

func TestOpenAI_Immediate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/images/generations", r.URL.Path)
		body := decodeBody(t, r)
		assert.Equal(t, "1536x1024", body["size"])
		assert.Equal(t, float64(2), body["n"])
		_, _ = w.Write([]byte(`{"data":[{"b64_json":"QUJD"},{"url":"https://oai/x.png"}],"usage":{"input_tokens":10,"output_tokens":20,"total_tokens":30}}`))
	}))
	defer srv.Close()

	a := NewOpenAI(Options{APIKey: "k", BaseURL: srv.URL, CostPerUnit: 0.04})
	assert.Equal(t, ModeImmediate, a.Mode())

	res := a.Submit(context.Background(), Request{Prompt: "p", AspectRatio: "16:9", OutputCount: 2})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"data:image/png;base64,QUJD", "https://oai/x.png"}, res.Outputs)
	require.NotNil(t, res.Usage)
	assert.Equal(t, int64(30), *res.Usage.TotalTokens)
	assert.InDelta(t, 0.08, res.Cost, 1e-9)

	assert.Equal(t, CodeUnsupported, a.Poll(context.Background(), "x").ErrorCode)
}

func TestStability_SingleOutputMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2beta/stable-image/generate/core", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "p", r.FormValue("prompt"))
		assert.Equal(t, "3:2", r.FormValue("aspect_ratio"))
		_, _ = w.Write([]byte(`{"image":"QUJD","finish_reason":"SUCCESS"}`))
	}))
	defer srv.Close()

	a := NewStability(Options{APIKey: "k", BaseURL: srv.URL})
	assert.Equal(t, 1, a.MaxOutputsPerCall())

	res := a.Submit(context.Background(), Request{Prompt: "p", AspectRatio: "3:2", OutputCount: 3})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"data:image/png;base64,QUJD"}, res.Outputs)
}

func TestAdapters_NotConfigured(t *testing.T) {
	for _, a := range []Adapter{
		NewReplicate(Options{}),
		NewFal(Options{}),
		NewOpenAI(Options{}),
		NewStability(Options{}),
	} {
		a := a
		t.Run(a.Key(), func(t *testing.T) {
			assert.False(t, a.IsConfigured())
			res := a.Submit(context.Background(), Request{ProviderModelID: "m", Prompt: "p"})
			assert.False(t, res.Success)
			assert.Equal(t, CodeNotConfigured, res.ErrorCode)
		})
	}
}

func TestAdapters_HTTPErrorsBecomeResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"slow down"}`))
	}))
	defer srv.Close()

	a := NewOpenAI(Options{APIKey: "k", BaseURL: srv.URL})
	res := a.Submit(context.Background(), Request{Prompt: "p"})
	assert.False(t, res.Success)
	assert.Equal(t, CodeRateLimited, res.ErrorCode)
	assert.Contains(t, res.Error, "slow down")
}

func TestAdapters_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	a := NewOpenAI(Options{APIKey: "k", BaseURL: srv.URL})
	res := a.Submit(ctx, Request{Prompt: "p"})
	assert.False(t, res.Success)
	assert.Equal(t, CodeTimeout, res.ErrorCode)
}

func TestRegistry(t *testing.T) {
	r := NewDefaultRegistry(Config{})
	assert.Equal(t, []string{"fal", "openai", "replicate", "stability"}, r.Keys())

	a, ok := r.Get("fal")
	require.True(t, ok)
	assert.Equal(t, ModePollable, a.Mode())

	_, ok = r.Get("nope")
	assert.False(t, ok)
}
