package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// Run statuses reported by the Assistants API.
const (
	RunQueued         = "queued"
	RunInProgress     = "in_progress"
	RunRequiresAction = "requires_action"
	RunCancelling     = "cancelling"
	RunCancelled      = "cancelled"
	RunFailed         = "failed"
	RunCompleted      = "completed"
	RunIncomplete     = "incomplete"
	RunExpired        = "expired"
)

// Run is the subset of an Assistants run the bridge needs.
type Run struct {
	ID        string
	Status    string
	LastError string
}

// ThreadsClient wraps the stateful Assistants (Threads) API.
type ThreadsClient interface {
	CreateThread(ctx context.Context) (string, error)
	AddUserMessage(ctx context.Context, threadID, text string) error
	CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*Run, error)
	CancelRun(ctx context.Context, threadID, runID string) error
	// LatestAssistantText returns the text of the newest assistant message
	// written by runID, or "" when that run wrote none.
	LatestAssistantText(ctx context.Context, threadID, runID string) (string, error)
}

type threadsClient struct {
	openai openai.Client
}

// NewThreadsClient creates a ThreadsClient backed by OpenAI.
func NewThreadsClient(cfg Config) (ThreadsClient, error) {
	client, err := newOpenAI(cfg)
	if err != nil {
		return nil, err
	}
	return &threadsClient{openai: client}, nil
}

func (c *threadsClient) CreateThread(ctx context.Context) (string, error) {
	thread, err := c.openai.Beta.Threads.New(ctx, openai.BetaThreadNewParams{}) //nolint:staticcheck
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

func (c *threadsClient) AddUserMessage(ctx context.Context, threadID, text string) error {
	_, err := c.openai.Beta.Threads.Messages.New(ctx, threadID, openai.BetaThreadMessageNewParams{ //nolint:staticcheck
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	return nil
}

func (c *threadsClient) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	run, err := c.openai.Beta.Threads.Runs.New(ctx, threadID, openai.BetaThreadRunNewParams{ //nolint:staticcheck
		AssistantID: assistantID,
	})
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return toRun(run), nil
}

func (c *threadsClient) GetRun(ctx context.Context, threadID, runID string) (*Run, error) {
	run, err := c.openai.Beta.Threads.Runs.Get(ctx, threadID, runID) //nolint:staticcheck
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return toRun(run), nil
}

func (c *threadsClient) CancelRun(ctx context.Context, threadID, runID string) error {
	if _, err := c.openai.Beta.Threads.Runs.Cancel(ctx, threadID, runID); err != nil { //nolint:staticcheck
		return fmt.Errorf("cancel run: %w", err)
	}
	return nil
}

func (c *threadsClient) LatestAssistantText(ctx context.Context, threadID, runID string) (string, error) {
	page, err := c.openai.Beta.Threads.Messages.List(ctx, threadID, openai.BetaThreadMessageListParams{ //nolint:staticcheck
		Limit: openai.Int(10),
		Order: openai.BetaThreadMessageListParamsOrderDesc,
	})
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	for _, msg := range page.Data {
		// An earlier turn's reply is still in the thread when this run
		// produced nothing.
		if msg.Role != openai.MessageRoleAssistant || msg.RunID != runID {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", nil
}

func toRun(run *openai.Run) *Run {
	return &Run{
		ID:        run.ID,
		Status:    string(run.Status),
		LastError: run.LastError.Message,
	}
}
