package store

import (
	"context"

	"agenthub.app/bridge/internal/model"
)

// TranscriptStore keeps every turn of every conversation, independent of the
// bounded history the session store carries.
type TranscriptStore interface {
	Append(ctx context.Context, entries ...model.TranscriptEntry) error
	// ForConversation returns up to limit most recent entries, oldest first.
	ForConversation(ctx context.Context, key string, limit int) ([]model.TranscriptEntry, error)
	// ForLead is ForConversation across every conversation attached to the lead.
	ForLead(ctx context.Context, leadID int64, limit int) ([]model.TranscriptEntry, error)
	Backend() string
}
