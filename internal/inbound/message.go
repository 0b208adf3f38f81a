package inbound

import (
	"regexp"
	"strconv"
	"strings"
)

// Message is the canonical form of an inbound event.
type Message struct {
	LeadID     string
	ContactID  string
	ChatID     string
	MessageID  string
	Text       string
	AuthorType string
	Direction  string

	// Salesbot widget_request fields.
	ReturnURL   string
	WidgetToken string
	BotID       string
	ContinueID  string
	Subdomain   string
}

// IsWidgetRequest reports whether the caller expects an asynchronous answer
// posted to ReturnURL.
func (m Message) IsWidgetRequest() bool {
	return m.ReturnURL != ""
}

// CanContinueSalesbot reports whether the bot can be resumed directly.
func (m Message) CanContinueSalesbot() bool {
	return m.BotID != "" && m.ContinueID != ""
}

// LeadIDInt returns the lead id as a number, or 0.
func (m Message) LeadIDInt() int64 {
	n, _ := strconv.ParseInt(m.LeadID, 10, 64)
	return n
}

var placeholderPattern = regexp.MustCompile(`^\{\{.*\}\}$`)

// IsPlaceholder reports an unrendered Salesbot template such as {{message_text}}.
func IsPlaceholder(s string) bool {
	return placeholderPattern.MatchString(strings.TrimSpace(s))
}

// Ordered extraction rules. The first usable value wins.
var (
	textKeys = []string{
		"text", "message", "message_text",
		"message[text]", "message[add][0][text]", "messages[add][0][text]",
		"message[message][text]",
		"data[message]", "data[message_text]", "data[text]", "data[message][text]",
		"message[payload][text]", "params[text]", "params[message_text]",
		"note[text]", "comment[text]", "last_message[text]", "fallback_text",
	}
	leadKeys = []string{
		"lead_id", "leadId", "conversation[lead_id]", "lead[id]",
		"data[lead_id]", "params[lead_id]",
		"message[add][0][lead_id]", "messages[add][0][lead_id]",
		"leads[add][0][id]", "leads[update][0][id]", "leads[status][0][id]",
	}
	contactKeys = []string{
		"contact_id", "contactId", "contact[id]", "data[contact_id]", "params[contact_id]",
		"message[add][0][contact_id]", "messages[add][0][contact_id]",
		"contacts[add][0][id]", "contacts[update][0][id]",
	}
	chatKeys = []string{
		"chat_id", "chatId", "chat[id]", "data[chat_id]",
		"message[add][0][chat_id]", "messages[add][0][chat_id]",
		"message[conversation][id]",
		"talk_id", "data[talk_id]", "message[add][0][talk_id]", "messages[add][0][talk_id]",
	}
	messageIDKeys = []string{
		"message_id", "messageId", "msgid", "data[message_id]",
		"message[add][0][id]", "messages[add][0][id]", "message[message][id]", "message[id]",
	}
	authorTypeKeys = []string{
		"author_type", "authorType", "author[type]", "data[author_type]",
		"message[author][type]", "message[add][0][author][type]", "messages[add][0][author][type]",
	}
	directionKeys = []string{
		"direction", "data[direction]", "message[direction]",
		"message[add][0][type]", "messages[add][0][type]",
	}
	returnURLKeys  = []string{"return_url", "data[return_url]", "callback_url"}
	tokenKeys      = []string{"token", "data[token]"}
	botIDKeys      = []string{"bot_id", "data[bot_id]", "bot[id]"}
	continueIDKeys = []string{"continue_id", "data[continue_id]", "bot[continue_id]"}
	subdomainKeys  = []string{"subdomain", "account[subdomain]", "data[subdomain]"}
)

// Extract applies the extraction rules to a parsed payload. It never fails:
// missing fields stay empty and the caller decides what is required.
func Extract(p Payload) Message {
	return Message{
		LeadID:      extractLeadID(p),
		ContactID:   firstID(p, contactKeys),
		ChatID:      firstString(p, chatKeys),
		MessageID:   firstString(p, messageIDKeys),
		Text:        extractText(p),
		AuthorType:  strings.ToLower(firstString(p, authorTypeKeys)),
		Direction:   strings.ToLower(firstString(p, directionKeys)),
		ReturnURL:   firstString(p, returnURLKeys),
		WidgetToken: firstString(p, tokenKeys),
		BotID:       firstString(p, botIDKeys),
		ContinueID:  firstString(p, continueIDKeys),
		Subdomain:   firstString(p, subdomainKeys),
	}
}

func extractText(p Payload) string {
	for _, k := range textKeys {
		if v := usableText(p[k]); v != "" {
			return v
		}
	}
	for _, k := range p.Keys() {
		lk := strings.ToLower(k)
		if !strings.Contains(lk, "text") {
			continue
		}
		if v := usableText(p[k]); v != "" {
			return v
		}
	}
	return ""
}

func extractLeadID(p Payload) string {
	if id := firstID(p, leadKeys); id != "" {
		return id
	}

	// Chat events carry the lead as a generic entity.
	for _, prefix := range []string{"", "message[add][0]", "messages[add][0]"} {
		idKey, typeKey := "entity_id", "entity_type"
		if prefix != "" {
			idKey, typeKey = prefix+"[entity_id]", prefix+"[entity_type]"
		}
		if t := strings.ToLower(p[typeKey]); t != "" && t != "lead" && t != "leads" {
			continue
		}
		if id := positiveID(p[idKey]); id != "" {
			return id
		}
	}

	for _, k := range p.Keys() {
		lk := strings.ToLower(k)
		if strings.HasSuffix(lk, "lead_id") || strings.HasSuffix(lk, "[lead_id]") {
			if id := positiveID(p[k]); id != "" {
				return id
			}
		}
	}
	return ""
}

func usableText(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || IsPlaceholder(v) {
		return ""
	}
	return v
}

func firstString(p Payload, keys []string) string {
	for _, k := range keys {
		if v := usableText(p[k]); v != "" {
			return v
		}
	}
	return ""
}

func firstID(p Payload, keys []string) string {
	for _, k := range keys {
		if id := positiveID(p[k]); id != "" {
			return id
		}
	}
	return ""
}

func positiveID(v string) string {
	v = strings.TrimSpace(v)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}
