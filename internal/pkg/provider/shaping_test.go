package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNearestAspectRatio(t *testing.T) {
	supported := []string{"1:1", "16:9", "9:16", "4:3"}
	tests := []struct {
		in   string
		want string
	}{
		{"1:1", "1:1"},
		{"16:9", "16:9"},
		{"1.9:1", "16:9"},
		{"2:3", "9:16"},
		{"5:4", "4:3"},
		{"", "1:1"},
		{"garbage", "1:1"},
		{"0:1", "1:1"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NearestAspectRatio(tt.in, supported))
		})
	}
}

func TestSetImageInput(t *testing.T) {
	urls := []string{"https://a/1.png", "https://a/2.png"}

	p := map[string]any{}
	SetImageInput(p, FieldImageURLs, urls)
	assert.Equal(t, urls, p[FieldImageURLs])

	p = map[string]any{}
	SetImageInput(p, FieldInputImage, urls)
	assert.Equal(t, "https://a/1.png", p[FieldInputImage])

	p = map[string]any{}
	SetImageInput(p, "", urls)
	assert.Equal(t, "https://a/1.png", p[FieldImageURL])

	p = map[string]any{}
	SetImageInput(p, FieldImageURL, nil)
	assert.Empty(t, p)
}

func TestClampOutputs(t *testing.T) {
	assert.Equal(t, 1, ClampOutputs(0, 4))
	assert.Equal(t, 3, ClampOutputs(3, 4))
	assert.Equal(t, 4, ClampOutputs(9, 4))
	assert.Equal(t, 9, ClampOutputs(9, 0))
}

func TestMergeConfig(t *testing.T) {
	defaults := map[string]any{"steps": 20, "guidance": 3.5}
	cfg := map[string]any{"steps": 30, "_image_field": "image_url"}
	req := map[string]any{"prompt": "cat"}

	got := MergeConfig(defaults, cfg, req)
	assert.Equal(t, map[string]any{"steps": 30, "guidance": 3.5, "prompt": "cat"}, got)
}

func TestExtractURLs(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want []string
	}{
		{"string", "https://x/a.png", []string{"https://x/a.png"}},
		{"list", []any{"https://x/a.png", "https://x/b.png"}, []string{"https://x/a.png", "https://x/b.png"}},
		{"object", map[string]any{"url": "https://x/a.png"}, []string{"https://x/a.png"}},
		{"object list", []any{map[string]any{"url": "https://x/a.png"}, map[string]any{"url": "https://x/b.png"}}, []string{"https://x/a.png", "https://x/b.png"}},
		{"images", map[string]any{"images": []any{map[string]any{"url": "https://x/a.png", "width": 1024}}}, []string{"https://x/a.png"}},
		{"output", map[string]any{"output": []any{"https://x/a.png"}}, []string{"https://x/a.png"}},
		{"dedupe", []any{"https://x/a.png", "https://x/a.png"}, []string{"https://x/a.png"}},
		{"not a url", "hello", nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractURLs(tt.in))
		})
	}
}

func TestFilterImages(t *testing.T) {
	in := []string{
		"https://x/a.png",
		"https://x/clip.mp4",
		"https://x/meta.json?sig=1",
		"https://signed.example/abc123",
		"data:image/png;base64,AAA",
		"data:text/plain;base64,AAA",
	}
	assert.Equal(t, []string{
		"https://x/a.png",
		"https://signed.example/abc123",
		"data:image/png;base64,AAA",
	}, FilterImages(in))
}
