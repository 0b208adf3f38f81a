package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"agenthub.app/bridge/common/retry"
)

// BackendInvoker delegates to an external assistant service that exposes
// POST {base}/api/reply.
type BackendInvoker struct {
	client  *retryablehttp.Client
	baseURL string
	apiKey  string
}

func NewBackendInvoker(client *retryablehttp.Client, baseURL, apiKey string) *BackendInvoker {
	return &BackendInvoker{client: client, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey}
}

func (b *BackendInvoker) Name() string { return "backend" }

type backendRequest struct {
	Message   string `json:"message"`
	LeadID    string `json:"leadId,omitempty"`
	ContactID string `json:"contactId,omitempty"`
	TalkID    string `json:"talkId,omitempty"`
	Subdomain string `json:"subdomain,omitempty"`
	TraceID   string `json:"traceId,omitempty"`
}

type backendResponse struct {
	Reply  string `json:"reply"`
	Text   string `json:"text"`
	Answer string `json:"answer"`
}

func (b *BackendInvoker) Invoke(ctx context.Context, req Request) (*Reply, error) {
	body, err := json.Marshal(backendRequest{
		Message:   req.Text,
		LeadID:    req.LeadID,
		ContactID: req.ContactID,
		TalkID:    req.ChatID,
		Subdomain: req.Subdomain,
		TraceID:   req.TraceID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding backend request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/reply", body)
	if err != nil {
		return nil, fmt.Errorf("building backend request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.apiKey)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("calling assistant backend: %w", err)
	}
	defer resp.Body.Close()

	if err := retry.CheckResponse(httpReq.Request, resp); err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return nil, fmt.Errorf("%w: %w", ErrUpstreamRejected, err)
		}
		return nil, err
	}

	var out backendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding backend response: %w", err)
	}

	text := out.Reply
	if text == "" {
		text = out.Text
	}
	if text == "" {
		text = out.Answer
	}
	return &Reply{Text: strings.TrimSpace(text), Source: b.Name()}, nil
}
