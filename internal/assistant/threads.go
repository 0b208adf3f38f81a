package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agenthub.app/bridge/common/llm"
	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/common/retry"
)

// ThreadStore persists the assistant thread handle per conversation key.
type ThreadStore interface {
	Thread(ctx context.Context, key string) (string, error)
	SaveThread(ctx context.Context, key, threadID string) error
}

type ThreadsConfig struct {
	AssistantID  string
	PollInterval time.Duration
	PollAttempts int
	Retry        retry.Policy
}

// ThreadsInvoker drives the stateful Assistants API: one thread per
// conversation, one run per user turn, bounded polling.
type ThreadsInvoker struct {
	client  llm.ThreadsClient
	threads ThreadStore
	cfg     ThreadsConfig
}

func NewThreadsInvoker(client llm.ThreadsClient, threads ThreadStore, cfg ThreadsConfig) *ThreadsInvoker {
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 40
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 600 * time.Millisecond
	}
	return &ThreadsInvoker{client: client, threads: threads, cfg: cfg}
}

func (t *ThreadsInvoker) Name() string { return "threads" }

func (t *ThreadsInvoker) Invoke(ctx context.Context, req Request) (*Reply, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "bridge.assistant.threads"})
	sc := logger.StartSpan(ctx, "assistant.threads.invoke")
	defer sc.End()
	ctx = sc.Context()

	threadID, err := t.ensureThread(ctx, req)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}
	reply := &Reply{ThreadID: threadID, Source: t.Name()}

	if _, err := retry.Do(ctx, t.cfg.Retry, llm.IsRetryable, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.client.AddUserMessage(ctx, threadID, req.Text)
	}); err != nil {
		sc.RecordError(err)
		return reply, err
	}

	run, err := retry.Do(ctx, t.cfg.Retry, llm.IsRetryable, func(ctx context.Context) (*llm.Run, error) {
		return t.client.CreateRun(ctx, threadID, t.cfg.AssistantID)
	})
	if err != nil {
		sc.RecordError(err)
		return reply, err
	}

	run, err = t.poll(ctx, threadID, run)
	if run != nil {
		reply.RunStatus = run.Status
	}
	if err != nil {
		sc.RecordError(err)
		return reply, err
	}

	text, err := retry.Do(ctx, t.cfg.Retry, llm.IsRetryable, func(ctx context.Context) (string, error) {
		return t.client.LatestAssistantText(ctx, threadID, run.ID)
	})
	if err != nil {
		sc.RecordError(err)
		return reply, err
	}
	reply.Text = text

	slog.InfoContext(ctx, "assistant run completed",
		"thread_id", threadID,
		"run_id", run.ID,
		"reply_len", len(text))
	return reply, nil
}

func (t *ThreadsInvoker) ensureThread(ctx context.Context, req Request) (string, error) {
	if req.ThreadID != "" {
		return req.ThreadID, nil
	}

	threadID, err := t.threads.Thread(ctx, req.Key)
	if err != nil {
		return "", err
	}
	if threadID != "" {
		return threadID, nil
	}

	threadID, err = retry.Do(ctx, t.cfg.Retry, llm.IsRetryable, t.client.CreateThread)
	if err != nil {
		return "", err
	}
	if err := t.threads.SaveThread(ctx, req.Key, threadID); err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "assistant thread created", "thread_id", threadID)
	return threadID, nil
}

// poll waits for the run to reach a terminal status, checking at most
// PollAttempts times.
func (t *ThreadsInvoker) poll(ctx context.Context, threadID string, run *llm.Run) (*llm.Run, error) {
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for polls := 0; !terminal(run.Status); polls++ {
		if polls >= t.cfg.PollAttempts {
			t.cancel(ctx, threadID, run.ID)
			return run, fmt.Errorf("%w: run %s still %s after %d polls", ErrUpstreamTimeout, run.ID, run.Status, polls)
		}

		select {
		case <-ctx.Done():
			t.cancel(ctx, threadID, run.ID)
			return run, fmt.Errorf("%w: %w", ErrUpstreamTimeout, ctx.Err())
		case <-ticker.C:
		}

		next, err := retry.Do(ctx, t.cfg.Retry, llm.IsRetryable, func(ctx context.Context) (*llm.Run, error) {
			return t.client.GetRun(ctx, threadID, run.ID)
		})
		if err != nil {
			return run, err
		}
		run = next
	}

	switch run.Status {
	case llm.RunFailed, llm.RunCancelled, llm.RunExpired:
		return run, &RunFailedError{Status: run.Status, Detail: run.LastError}
	case llm.RunRequiresAction:
		t.cancel(ctx, threadID, run.ID)
		return run, ErrUnsupportedToolCall
	}
	return run, nil
}

// cancel frees the thread for the next turn; an active run blocks new messages.
func (t *ThreadsInvoker) cancel(ctx context.Context, threadID, runID string) {
	cctx, stop := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer stop()
	if err := t.client.CancelRun(cctx, threadID, runID); err != nil {
		slog.WarnContext(ctx, "failed to cancel assistant run", "run_id", runID, "error", err)
	}
}

func terminal(status string) bool {
	switch status {
	case llm.RunCompleted, llm.RunIncomplete, llm.RunFailed, llm.RunCancelled, llm.RunExpired, llm.RunRequiresAction:
		return true
	}
	return false
}
