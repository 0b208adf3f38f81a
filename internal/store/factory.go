package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub.app/bridge/core/db"
	"agenthub.app/bridge/internal/model"
)

type Options struct {
	DB    *db.DB
	Redis redis.UniversalClient

	// Redis only.
	Prefix     string
	MaxEntries int64
	TTL        time.Duration
}

// NewTranscriptStore picks Postgres when a database is configured, then
// Redis, and otherwise a store that keeps nothing.
func NewTranscriptStore(opts Options) TranscriptStore {
	switch {
	case opts.DB != nil:
		return newPGTranscriptStore(opts.DB.Pool())
	case opts.Redis != nil:
		return newRedisTranscriptStore(opts.Redis, opts.Prefix, opts.MaxEntries, opts.TTL)
	default:
		return nopTranscriptStore{}
	}
}

type nopTranscriptStore struct{}

func (nopTranscriptStore) Backend() string { return "disabled" }

func (nopTranscriptStore) Append(context.Context, ...model.TranscriptEntry) error { return nil }

func (nopTranscriptStore) ForConversation(context.Context, string, int) ([]model.TranscriptEntry, error) {
	return nil, nil
}

func (nopTranscriptStore) ForLead(context.Context, int64, int) ([]model.TranscriptEntry, error) {
	return nil, nil
}

// Format renders entries as the plain text transcript attached to leads.
func Format(entries []model.TranscriptEntry) string {
	var b []byte
	for _, e := range entries {
		if e.Role == model.RoleSystem {
			continue
		}
		label := "Cliente"
		if e.Role == model.RoleAssistant {
			label = "Asistente"
		}
		if len(b) > 0 {
			b = append(b, '\n')
		}
		b = append(b, '[')
		b = e.CreatedAt.UTC().AppendFormat(b, "2006-01-02 15:04")
		b = append(b, "] "...)
		b = append(b, label...)
		b = append(b, ": "...)
		b = append(b, e.Content...)
	}
	return string(b)
}
