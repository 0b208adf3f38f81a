// Package kommo talks to the Kommo (amoCRM) v4 REST API, the Salesbot
// continuation endpoints and the amoJo Chats API.
package kommo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/common/retry"
)

// ErrNotConfigured is returned when neither a base URL nor a subdomain is known.
var ErrNotConfigured = errors.New("kommo base url or subdomain missing")

// APIError is a non-2xx answer from Kommo after the retry policy gave up.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kommo %s: status %d: %s", e.Op, e.StatusCode, logger.Truncate(e.Body, 300))
}

func (e *APIError) Retryable() bool {
	return retry.IsRetryableStatus(e.StatusCode)
}

// IsStatus reports whether err is an *APIError with the given status.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Config struct {
	BaseURL     string
	Subdomain   string
	AccessToken string
}

type Client struct {
	http        *retryablehttp.Client
	baseURL     string
	subdomain   string
	accessToken string

	// ChunkPause separates consecutive transcript notes.
	ChunkPause time.Duration
}

func NewClient(httpClient *retryablehttp.Client, cfg Config) *Client {
	sub := CleanSubdomain(cfg.Subdomain)
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	base = strings.TrimSuffix(base, "/api/v4")
	if base == "" && sub != "" {
		base = "https://" + sub + ".kommo.com"
	}
	return &Client{
		http:        httpClient,
		baseURL:     base,
		subdomain:   sub,
		accessToken: cfg.AccessToken,
		ChunkPause:  200 * time.Millisecond,
	}
}

// CleanSubdomain accepts "acme", "acme.kommo.com" or "https://acme.kommo.com/"
// and returns "acme".
func CleanSubdomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s, _, _ = strings.Cut(s, "/")
	for _, suffix := range []string{".kommo.com", ".amocrm.com", ".amocrm.ru"} {
		s = strings.TrimSuffix(s, suffix)
	}
	return s
}

func (c *Client) Configured() bool {
	return c.baseURL != "" && c.accessToken != ""
}

// accountBase picks the API host for a request that names its own account.
func (c *Client) accountBase(subdomain string) (string, error) {
	sub := CleanSubdomain(subdomain)
	if sub != "" && sub != c.subdomain && !strings.Contains(c.baseURL, "://"+sub+".") {
		return "https://" + sub + ".kommo.com", nil
	}
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	return c.baseURL, nil
}

func (c *Client) apiURL(path string) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}
	return c.baseURL + "/api/v4/" + strings.TrimLeft(path, "/"), nil
}

// do sends one JSON request. A nil out discards the response body; 204 leaves
// out untouched and reports found=false.
func (c *Client) do(ctx context.Context, op, method, rawURL, token string, in, out any) (found bool, err error) {
	var body []byte
	if in != nil {
		body, err = json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("encoding %s: %w", op, err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return false, fmt.Errorf("building %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	slog.DebugContext(ctx, "kommo request",
		"op", op,
		"method", method,
		"url", redact(rawURL),
		"body_preview", logger.Truncate(string(body), 200))

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("kommo %s: %w", op, err)
	}
	defer resp.Body.Close()

	if err := retry.CheckResponse(req.Request, resp); err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) {
			slog.WarnContext(ctx, "kommo request rejected",
				"op", op,
				"status_code", se.StatusCode,
				"body_preview", logger.Truncate(se.Body, 300))
			return false, &APIError{Op: op, StatusCode: se.StatusCode, Body: se.Body}
		}
		return false, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("reading %s response: %w", op, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decoding %s response: %w", op, err)
	}
	return true, nil
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
