// Package assistant produces a reply for one user turn. Backends are
// interchangeable behind Invoker; Chain tries them in order.
package assistant

import (
	"context"
	"errors"
	"fmt"

	"agenthub.app/bridge/internal/model"
)

var (
	ErrUpstreamTimeout     = errors.New("assistant did not finish in time")
	ErrUpstreamRejected    = errors.New("assistant rejected the request")
	ErrUnsupportedToolCall = errors.New("assistant run requires tool outputs")
)

// RunFailedError reports a run that ended in failed, cancelled or expired.
// It matches ErrUpstreamRejected with errors.Is.
type RunFailedError struct {
	Status string
	Detail string
}

func (e *RunFailedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("assistant run %s", e.Status)
	}
	return fmt.Sprintf("assistant run %s: %s", e.Status, e.Detail)
}

func (e *RunFailedError) Is(target error) bool {
	return target == ErrUpstreamRejected
}

// Request is one user turn. History already ends with the user message.
type Request struct {
	Key       string
	Text      string
	History   []model.Turn
	ThreadID  string
	LeadID    string
	ContactID string
	ChatID    string
	Subdomain string
	TraceID   string
}

type Reply struct {
	Text      string
	ThreadID  string
	RunStatus string
	Source    string
}

type Invoker interface {
	Invoke(ctx context.Context, req Request) (*Reply, error)
	Name() string
}
