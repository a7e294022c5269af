package provider

import (
	"net/url"
	"path"
	"strings"
)

// urlKeys are the object fields providers use to carry output locations.
var urlKeys = []string{"url", "uri", "image", "images", "output", "outputs", "data", "result", "results", "sample"}

// ExtractURLs collects URL strings from a decoded JSON value of unknown shape:
// a string, a list of strings, {url}, [{url}], {images:[...]} or {output:...}.
// Order is preserved and duplicates are dropped.
func ExtractURLs(v any) []string {
	var out []string
	seen := make(map[string]struct{})
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			s := strings.TrimSpace(t)
			if !looksLikeURL(s) {
				return
			}
			if _, ok := seen[s]; ok {
				return
			}
			seen[s] = struct{}{}
			out = append(out, s)
		case []string:
			for _, s := range t {
				walk(s)
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			for _, k := range urlKeys {
				if child, ok := t[k]; ok {
					walk(child)
				}
			}
		}
	}
	walk(v)
	return out
}

func looksLikeURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "data:")
}

var nonImageExt = map[string]bool{
	".mp4": true, ".mov": true, ".webm": true, ".mkv": true,
	".mp3": true, ".wav": true, ".ogg": true, ".flac": true,
	".json": true, ".txt": true, ".zip": true, ".tar": true, ".gz": true,
	".pdf": true, ".csv": true, ".html": true,
}

// FilterImages drops outputs that are clearly not images. URLs without a
// file extension are kept since signed URLs often have none.
func FilterImages(urls []string) []string {
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if isImageURL(u) {
			out = append(out, u)
		}
	}
	return out
}

func isImageURL(raw string) bool {
	if strings.HasPrefix(raw, "data:") {
		return strings.HasPrefix(raw, "data:image/")
	}
	p := raw
	if parsed, err := url.Parse(raw); err == nil {
		p = parsed.Path
	}
	return !nonImageExt[strings.ToLower(path.Ext(p))]
}
