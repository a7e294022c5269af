package provider

import (
	"math"
	"strconv"
	"strings"
)

// Image input field names used by the supported providers.
const (
	FieldImageURL   = "image_url"
	FieldImageURLs  = "image_urls"
	FieldInputImage = "input_image"
)

// NearestAspectRatio maps a "W:H" ratio onto the closest ratio a provider accepts.
// Unparseable input falls back to the first supported ratio.
func NearestAspectRatio(requested string, supported []string) string {
	if len(supported) == 0 {
		return requested
	}
	want, ok := parseRatio(requested)
	if !ok {
		return supported[0]
	}
	best := supported[0]
	bestDiff := math.Inf(1)
	for _, s := range supported {
		r, ok := parseRatio(s)
		if !ok {
			continue
		}
		// Compare in log space so 1:2 and 2:1 are equally far from 1:1.
		diff := math.Abs(math.Log(r) - math.Log(want))
		if diff < bestDiff {
			best, bestDiff = s, diff
		}
	}
	return best
}

func parseRatio(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, false
	}
	w, err1 := strconv.ParseFloat(parts[0], 64)
	h, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, false
	}
	return w / h, true
}

// SetImageInput writes the image inputs under the field name a provider expects.
// FieldImageURLs takes the whole list, the singular fields take the first URL.
func SetImageInput(payload map[string]any, field string, urls []string) {
	if len(urls) == 0 {
		return
	}
	switch field {
	case FieldImageURLs:
		payload[field] = append([]string(nil), urls...)
	case "":
		payload[FieldImageURL] = urls[0]
	default:
		payload[field] = urls[0]
	}
}

// ClampOutputs bounds a requested output count to [1, max]. max <= 0 means no limit.
func ClampOutputs(requested, max int) int {
	if requested < 1 {
		requested = 1
	}
	if max > 0 && requested > max {
		return max
	}
	return requested
}

// MergeConfig layers maps left to right; later maps override earlier keys.
// Keys starting with "_" are adapter settings and are never sent to a provider.
func MergeConfig(layers ...map[string]any) map[string]any {
	out := make(map[string]any)
	for _, layer := range layers {
		for k, v := range layer {
			if strings.HasPrefix(k, "_") {
				continue
			}
			out[k] = v
		}
	}
	return out
}

func configString(cfg map[string]any, key, def string) string {
	if v, ok := cfg[key].(string); ok && v != "" {
		return v
	}
	return def
}

func configFloat(cfg map[string]any, key string) float64 {
	switch v := cfg[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}
