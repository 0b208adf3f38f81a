package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Chain tries invokers in order and returns the first non-empty reply.
// When every invoker fails the joined error is returned together with the
// last known thread handle; when they merely return nothing, the empty
// reply is returned without error and the caller substitutes a default.
type Chain struct {
	invokers []Invoker
}

func NewChain(invokers ...Invoker) *Chain {
	return &Chain{invokers: invokers}
}

func (c *Chain) Name() string {
	names := make([]string, len(c.invokers))
	for i, inv := range c.invokers {
		names[i] = inv.Name()
	}
	return strings.Join(names, ">")
}

func (c *Chain) Len() int { return len(c.invokers) }

func (c *Chain) Invoke(ctx context.Context, req Request) (*Reply, error) {
	if len(c.invokers) == 0 {
		return nil, errors.New("no assistant backend configured")
	}

	var (
		errs   []error
		thread = req.ThreadID
	)
	for _, inv := range c.invokers {
		reply, err := inv.Invoke(ctx, req)
		if reply != nil && reply.ThreadID != "" {
			thread = reply.ThreadID
			req.ThreadID = thread
		}
		if err == nil && reply != nil && strings.TrimSpace(reply.Text) != "" {
			return reply, nil
		}

		if err != nil {
			slog.WarnContext(ctx, "assistant backend failed", "backend", inv.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", inv.Name(), err))
		} else {
			slog.InfoContext(ctx, "assistant backend returned an empty reply", "backend", inv.Name())
		}

		if ctx.Err() != nil {
			break
		}
	}

	if len(errs) > 0 && (len(errs) == len(c.invokers) || ctx.Err() != nil) {
		return &Reply{ThreadID: thread}, errors.Join(errs...)
	}
	return &Reply{ThreadID: thread, Source: c.Name()}, nil
}
