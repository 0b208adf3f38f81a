package session

import (
	"strings"

	"agenthub.app/bridge/common/id"
	"agenthub.app/bridge/internal/inbound"
)

// KeyFor derives the ConversationKey: lead first, then contact, then chat.
// Messages with no identity get a one-off web key, so they never share state.
func KeyFor(msg inbound.Message) string {
	switch {
	case msg.LeadID != "":
		return "kommo:lead:" + msg.LeadID
	case msg.ContactID != "":
		return "kommo:contact:" + msg.ContactID
	case msg.ChatID != "":
		return "kommo:chat:" + msg.ChatID
	default:
		return "web:" + id.NewString()
	}
}

// NormalizeText lower-cases and collapses whitespace for duplicate detection.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
