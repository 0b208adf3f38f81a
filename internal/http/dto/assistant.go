package dto

import "encoding/json"

type AssistantSendRequest struct {
	SessionID string      `json:"sessionId"`
	LeadID    json.Number `json:"leadId"`
	Text      string      `json:"text"`
	Channel   string      `json:"channel"`
}

type AssistantSendResponse struct {
	OK       bool   `json:"ok"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Text     string `json:"text"`
	LeadID   *int64 `json:"leadId,omitempty"`
	Key      string `json:"key"`
	Channel  string `json:"channel"`
}

// StreamEvent is one SSE data frame of /api/assistant/stream.
type StreamEvent struct {
	Status   string `json:"status,omitempty"`
	Text     string `json:"text,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
	Error    string `json:"error,omitempty"`
	Done     bool   `json:"done,omitempty"`
}
