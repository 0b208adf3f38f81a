package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Roles used in chat history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Config holds OpenAI client configuration.
type Config struct {
	APIKey  string // Required
	BaseURL string // Optional: custom API endpoint
	Model   string // Chat Completions model, e.g. "gpt-4o-mini"
}

// Message is one chat history entry.
type Message struct {
	Role    string
	Content string
}

// newOpenAI builds the SDK client. SDK-level retries are disabled; callers
// retry through common/retry so every upstream shares one policy.
func newOpenAI(cfg Config) (openai.Client, error) {
	if cfg.APIKey == "" {
		return openai.Client{}, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return openai.NewClient(opts...), nil
}

// ChatClient completes a conversation with the Chat Completions API.
type ChatClient interface {
	Complete(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Model() string
}

type ChatRequest struct {
	Messages    []Message
	MaxTokens   int
	Temperature *float64 // nil = model default
}

type ChatResponse struct {
	Content          string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
}

func Temp(t float64) *float64 {
	return &t
}
