package kommo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"agenthub.app/bridge/common/logger"
)

const (
	HandlerShow = "show"
	HandlerGoto = "goto"

	StatusSuccess = "success"
	StatusFail    = "fail"
)

// SalesbotData is what the bot's next step reads as {{json.*}}.
type SalesbotData struct {
	Status string `json:"status"`
	Reply  string `json:"reply,omitempty"`
}

type SalesbotHandler struct {
	Handler string         `json:"handler"`
	Params  map[string]any `json:"params"`
}

// SalesbotPayload resumes a paused Salesbot.
type SalesbotPayload struct {
	Data            SalesbotData      `json:"data"`
	ExecuteHandlers []SalesbotHandler `json:"execute_handlers,omitempty"`
}

// NewSalesbotPayload builds the continuation body. "show" prints the reply
// directly; "goto" jumps back to question step 1, which renders
// {{json.reply}} itself.
func NewSalesbotPayload(handler, status, reply string) SalesbotPayload {
	p := SalesbotPayload{Data: SalesbotData{Status: status, Reply: reply}}
	switch handler {
	case HandlerGoto:
		p.ExecuteHandlers = []SalesbotHandler{{
			Handler: HandlerGoto,
			Params:  map[string]any{"type": "question", "step": 1},
		}}
	default:
		if reply != "" {
			p.ExecuteHandlers = []SalesbotHandler{{
				Handler: HandlerShow,
				Params:  map[string]any{"type": "text", "value": reply},
			}}
		}
	}
	return p
}

// ContinueSalesbot resumes the bot identified by botID/continueID on the
// account named by subdomain (empty means the configured account).
func (c *Client) ContinueSalesbot(ctx context.Context, subdomain, botID, continueID string, payload SalesbotPayload) error {
	if botID == "" || continueID == "" {
		return errors.New("salesbot continue: bot_id and continue_id required")
	}
	if c.accessToken == "" {
		return fmt.Errorf("salesbot continue: %w", ErrNotConfigured)
	}
	base, err := c.accountBase(subdomain)
	if err != nil {
		return err
	}
	u := fmt.Sprintf("%s/api/v4/salesbot/%s/continue/%s", base, url.PathEscape(botID), url.PathEscape(continueID))
	_, err = c.do(ctx, "salesbot_continue", http.MethodPost, u, c.accessToken, payload, nil)
	return err
}

// PostReturnURL answers a widget_request through its return_url. The widget
// token authorizes the call when present; otherwise the account token does.
func (c *Client) PostReturnURL(ctx context.Context, returnURL, widgetToken string, payload SalesbotPayload) error {
	u, err := url.Parse(strings.TrimSpace(returnURL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return fmt.Errorf("salesbot return_url: invalid url %q", logger.Truncate(returnURL, 80))
	}
	token := widgetToken
	if token == "" {
		token = c.accessToken
	}
	_, err = c.do(ctx, "salesbot_return_url", http.MethodPost, u.String(), token, payload, nil)
	return err
}

// SendChatMessage posts text into an existing Kommo chat.
func (c *Client) SendChatMessage(ctx context.Context, chatID, text string) error {
	if chatID == "" {
		return errors.New("chat message: chat id required")
	}
	u, err := c.apiURL("chats/messages")
	if err != nil {
		return err
	}
	body := struct {
		ChatID  string `json:"chat_id"`
		Message struct {
			Text string `json:"text"`
		} `json:"message"`
	}{ChatID: chatID}
	body.Message.Text = text
	_, err = c.do(ctx, "chat_message", http.MethodPost, u, c.accessToken, body, nil)
	return err
}
