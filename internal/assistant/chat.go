package assistant

import (
	"context"
	"strings"

	"agenthub.app/bridge/common/llm"
	"agenthub.app/bridge/common/retry"
	"agenthub.app/bridge/internal/model"
)

type ChatConfig struct {
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
	Retry        retry.Policy
}

// ChatInvoker answers from the session history with Chat Completions.
// It keeps no server-side state.
type ChatInvoker struct {
	client llm.ChatClient
	cfg    ChatConfig
}

func NewChatInvoker(client llm.ChatClient, cfg ChatConfig) *ChatInvoker {
	return &ChatInvoker{client: client, cfg: cfg}
}

func (c *ChatInvoker) Name() string { return "chat" }

func (c *ChatInvoker) Invoke(ctx context.Context, req Request) (*Reply, error) {
	resp, err := retry.Do(ctx, c.cfg.Retry, llm.IsRetryable, func(ctx context.Context) (*llm.ChatResponse, error) {
		return c.client.Complete(ctx, llm.ChatRequest{
			Messages:    c.messages(req),
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: llm.Temp(c.cfg.Temperature),
		})
	})
	if err != nil {
		return nil, err
	}
	return &Reply{
		Text:      strings.TrimSpace(resp.Content),
		RunStatus: resp.FinishReason,
		Source:    c.Name(),
	}, nil
}

func (c *ChatInvoker) messages(req Request) []llm.Message {
	msgs := make([]llm.Message, 0, len(req.History)+2)
	if len(req.History) == 0 || req.History[0].Role != model.RoleSystem {
		if c.cfg.SystemPrompt != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: c.cfg.SystemPrompt})
		}
	}
	for _, turn := range req.History {
		msgs = append(msgs, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}

	last := len(req.History) - 1
	if last < 0 || req.History[last].Role != model.RoleUser || req.History[last].Content != req.Text {
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: req.Text})
	}
	return msgs
}
