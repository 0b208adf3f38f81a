package model

import "time"

// TranscriptEntry is one persisted conversation turn. LeadID is nil for
// conversations that are not attached to a Kommo lead.
type TranscriptEntry struct {
	ID              int64     `json:"id"`
	ConversationKey string    `json:"conversation_key"`
	LeadID          *int64    `json:"lead_id,omitempty"`
	Role            Role      `json:"role"`
	Content         string    `json:"content"`
	Source          string    `json:"source"`
	CreatedAt       time.Time `json:"created_at"`
}
