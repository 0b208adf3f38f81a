package retry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// NewHTTPClient builds a retrying HTTP client that applies the policy to
// 429/5xx responses and transport errors. When attempts run out the last
// response is handed back unchanged so callers can report its status.
func NewHTTPClient(p Policy, timeout time.Duration) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.RetryMax = p.Attempts() - 1
	c.RetryWaitMin = p.Delay(0)
	c.RetryWaitMax = p.Delay(p.Attempts())
	c.Backoff = func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return p.Delay(attemptNum)
	}
	c.CheckRetry = checkRetry
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.Logger = slog.Default()
	if timeout > 0 {
		c.HTTPClient.Timeout = timeout
	}
	return c
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	return IsRetryableStatus(resp.StatusCode), nil
}

// StatusError is returned for any non-2xx response that survived the policy.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Retryable reports whether the policy would have retried this status.
func (e *StatusError) Retryable() bool {
	return IsRetryableStatus(e.StatusCode)
}

// CheckResponse drains resp and returns a *StatusError when the status is not 2xx.
// The body is read up to 4KB for diagnostics.
func CheckResponse(req *http.Request, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &StatusError{
		Method:     req.Method,
		URL:        req.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
