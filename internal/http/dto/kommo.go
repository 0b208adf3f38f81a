package dto

import (
	"encoding/json"

	"agenthub.app/bridge/internal/kommo"
)

// KommoActionRequest is the body of the bridge action endpoints. Lead ids
// arrive as numbers or numeric strings depending on the caller.
type KommoActionRequest struct {
	Action string `json:"action"`
	kommo.LeadInput
	LeadID     json.Number `json:"lead_id"`
	Text       string      `json:"text"`
	Title      string      `json:"title"`
	Transcript string      `json:"transcript"`
	ChunkSize  int         `json:"chunk_size"`
}

type UpsertLeadResponse struct {
	OK        bool  `json:"ok"`
	LeadID    int64 `json:"lead_id"`
	ContactID int64 `json:"contact_id,omitempty"`
}

type AddNoteResponse struct {
	OK     bool  `json:"ok"`
	LeadID int64 `json:"lead_id"`
}

type AttachTranscriptResponse struct {
	OK             bool   `json:"ok"`
	Chunks         int    `json:"chunks"`
	FinalChunkSize int    `json:"final_chunk_size"`
	Source         string `json:"source"`
}
