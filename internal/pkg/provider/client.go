package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxErrorBody = 512

// statusError is a non-2xx provider response.
type statusError struct {
	StatusCode int
	Body       string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// apiClient performs JSON calls against one provider base URL.
type apiClient struct {
	baseURL string
	auth    func(*http.Request)
	http    *http.Client
}

func newAPIClient(baseURL string, timeout time.Duration, auth func(*http.Request)) *apiClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		auth:    auth,
		http:    &http.Client{Timeout: timeout},
	}
}

// doJSON sends body as JSON (when non-nil) and decodes the response into out.
func (c *apiClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *apiClient) send(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth(req)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &statusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// classify maps a transport or status error to an error code.
func classify(err error) ErrorCode {
	var se *statusError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.As(err, &se):
		switch {
		case se.StatusCode == http.StatusNotFound:
			return CodeTaskNotFound
		case se.StatusCode == http.StatusTooManyRequests:
			return CodeRateLimited
		case se.StatusCode >= 400 && se.StatusCode < 500:
			return CodeInvalidRequest
		}
	}
	return CodeProviderError
}

// classifySubmit is classify for create calls, where a 404 means a bad model path.
func classifySubmit(err error) ErrorCode {
	if code := classify(err); code != CodeTaskNotFound {
		return code
	}
	return CodeInvalidRequest
}

func bearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}
