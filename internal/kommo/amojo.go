package kommo

import (
	"context"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"agenthub.app/bridge/common/id"
	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/common/retry"
)

type AmojoConfig struct {
	BaseURL       string
	ScopeID       string
	ChannelSecret string
	SenderID      string
	SenderName    string
}

// AmojoClient sends messages through a custom Chats API channel. Every
// request is signed with the channel secret.
type AmojoClient struct {
	http *retryablehttp.Client
	cfg  AmojoConfig
	now  func() time.Time
}

func NewAmojoClient(httpClient *retryablehttp.Client, cfg AmojoConfig) *AmojoClient {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://amojo.kommo.com"
	}
	return &AmojoClient{http: httpClient, cfg: cfg, now: time.Now}
}

func (a *AmojoClient) Configured() bool {
	return a.cfg.ScopeID != "" && a.cfg.ChannelSecret != ""
}

// Sign returns the hex HMAC-SHA1 of "METHOD\nDate\nContent-MD5\npath".
func Sign(secret, method, date, contentMD5, path string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(strings.Join([]string{method, date, contentMD5, path}, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks an inbound Chats API webhook: X-Signature is the hex
// HMAC-SHA1 of the raw body. An empty secret never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(strings.ToLower(strings.TrimSpace(signature)))
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

type amojoParty struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type amojoText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type amojoPayload struct {
	Timestamp      int64       `json:"timestamp"`
	MsecTimestamp  int64       `json:"msec_timestamp"`
	MsgID          string      `json:"msgid"`
	ConversationID string      `json:"conversation_id"`
	Sender         amojoParty  `json:"sender"`
	Receiver       *amojoParty `json:"receiver,omitempty"`
	Message        amojoText   `json:"message"`
	Silent         bool        `json:"silent"`
}

type amojoEvent struct {
	EventType string       `json:"event_type"`
	Payload   amojoPayload `json:"payload"`
}

// SendText posts a new_message event from the bridge's sender into the
// conversation. receiverID may be empty.
func (a *AmojoClient) SendText(ctx context.Context, conversationID, receiverID, text string) error {
	if !a.Configured() {
		return errors.New("amojo: scope id and channel secret required")
	}
	if conversationID == "" {
		return errors.New("amojo: conversation id required")
	}

	now := a.now().UTC()
	ev := amojoEvent{
		EventType: "new_message",
		Payload: amojoPayload{
			Timestamp:      now.Unix(),
			MsecTimestamp:  now.UnixMilli(),
			MsgID:          id.NewString(),
			ConversationID: conversationID,
			Sender:         amojoParty{ID: a.cfg.SenderID, Name: a.cfg.SenderName},
			Message:        amojoText{Type: "text", Text: text},
		},
	}
	if receiverID != "" {
		ev.Payload.Receiver = &amojoParty{ID: receiverID}
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding amojo message: %w", err)
	}

	path := "/v2/origin/custom/" + a.cfg.ScopeID
	date := now.Format(http.TimeFormat)
	sum := md5.Sum(body)
	contentMD5 := hex.EncodeToString(sum[:])

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("building amojo request: %w", err)
	}
	req.Header.Set("Date", date)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-MD5", contentMD5)
	req.Header.Set("X-Signature", Sign(a.cfg.ChannelSecret, http.MethodPost, date, contentMD5, path))
	req.Header.Set("Accept", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("amojo send: %w", err)
	}
	defer resp.Body.Close()

	if err := retry.CheckResponse(req.Request, resp); err != nil {
		var se *retry.StatusError
		if errors.As(err, &se) {
			return &APIError{Op: "amojo_send", StatusCode: se.StatusCode, Body: se.Body}
		}
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	slog.DebugContext(ctx, "amojo message sent",
		"conversation_id", conversationID,
		"msgid", ev.Payload.MsgID,
		"scope_id", logger.Mask(a.cfg.ScopeID))
	return nil
}

// ChatsWebhook is the body Kommo posts to a custom channel's webhook URL.
type ChatsWebhook struct {
	AccountID string `json:"account_id"`
	Time      int64  `json:"time"`
	Message   struct {
		Receiver struct {
			ID       string `json:"id"`
			ClientID string `json:"client_id"`
		} `json:"receiver"`
		Sender struct {
			ID       string `json:"id"`
			ClientID string `json:"client_id"`
			Name     string `json:"name"`
		} `json:"sender"`
		Conversation struct {
			ID       string `json:"id"`
			ClientID string `json:"client_id"`
		} `json:"conversation"`
		Message struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"message"`
	} `json:"message"`
}

func ParseChatsWebhook(body []byte) (*ChatsWebhook, error) {
	var w ChatsWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, fmt.Errorf("decoding chats webhook: %w", err)
	}
	return &w, nil
}

// ConversationID prefers the integration-side id, which is what replies use.
func (w *ChatsWebhook) ConversationID() string {
	if w.Message.Conversation.ClientID != "" {
		return w.Message.Conversation.ClientID
	}
	return w.Message.Conversation.ID
}

// IsFromClient is false for messages the bridge itself (or a manager) sent.
func (w *ChatsWebhook) IsFromClient(senderID string) bool {
	return w.Message.Sender.ID != "" && w.Message.Sender.ID != senderID && w.Message.Sender.ClientID != senderID
}
