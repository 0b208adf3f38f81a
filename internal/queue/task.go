package queue

import (
	"agenthub.app/bridge/internal/inbound"
)

type TaskType string

// TaskTypeSalesbotReply is a widget_request whose reply is posted back to
// Kommo after the HTTP request was already acknowledged.
const TaskTypeSalesbotReply TaskType = "salesbot_reply"

type Task struct {
	TaskType TaskType
	Message  inbound.Message
	TraceID  string
	Attempt  int
}

// stream field names for inbound.Message.
const (
	fieldLeadID      = "lead_id"
	fieldContactID   = "contact_id"
	fieldChatID      = "chat_id"
	fieldMessageID   = "message_id"
	fieldText        = "text"
	fieldAuthorType  = "author_type"
	fieldDirection   = "direction"
	fieldReturnURL   = "return_url"
	fieldWidgetToken = "widget_token"
	fieldBotID       = "bot_id"
	fieldContinueID  = "continue_id"
	fieldSubdomain   = "subdomain"
)

func messageFields(m inbound.Message) map[string]any {
	values := map[string]any{}
	set := func(k, v string) {
		if v != "" {
			values[k] = v
		}
	}
	set(fieldLeadID, m.LeadID)
	set(fieldContactID, m.ContactID)
	set(fieldChatID, m.ChatID)
	set(fieldMessageID, m.MessageID)
	set(fieldText, m.Text)
	set(fieldAuthorType, m.AuthorType)
	set(fieldDirection, m.Direction)
	set(fieldReturnURL, m.ReturnURL)
	set(fieldWidgetToken, m.WidgetToken)
	set(fieldBotID, m.BotID)
	set(fieldContinueID, m.ContinueID)
	set(fieldSubdomain, m.Subdomain)
	return values
}

func parseInboundMessage(values map[string]any) inbound.Message {
	get := func(k string) string {
		v, _ := parseOptionalString(values, k)
		return v
	}
	return inbound.Message{
		LeadID:      get(fieldLeadID),
		ContactID:   get(fieldContactID),
		ChatID:      get(fieldChatID),
		MessageID:   get(fieldMessageID),
		Text:        get(fieldText),
		AuthorType:  get(fieldAuthorType),
		Direction:   get(fieldDirection),
		ReturnURL:   get(fieldReturnURL),
		WidgetToken: get(fieldWidgetToken),
		BotID:       get(fieldBotID),
		ContinueID:  get(fieldContinueID),
		Subdomain:   get(fieldSubdomain),
	}
}
