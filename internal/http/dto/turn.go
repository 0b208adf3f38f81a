package dto

import "agenthub.app/bridge/internal/pipeline"

// TurnResponse is what webhook callers see. Kommo only reads status and
// reply; the rest helps when replaying webhooks by hand.
type TurnResponse struct {
	Status          string `json:"status"`
	Reply           string `json:"reply,omitempty"`
	Reason          string `json:"reason,omitempty"`
	ConversationKey string `json:"conversation_key,omitempty"`
	Delivered       bool   `json:"delivered"`
	Mechanism       string `json:"mechanism,omitempty"`
}

func ToTurnResponse(res *pipeline.Result) TurnResponse {
	if res == nil {
		return TurnResponse{Status: string(pipeline.StatusFail)}
	}
	return TurnResponse{
		Status:          string(res.Status),
		Reply:           res.Reply,
		Reason:          res.Reason,
		ConversationKey: res.Key,
		Delivered:       res.Delivered,
		Mechanism:       res.Mechanism,
	}
}
