package store

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agenthub.app/bridge/common/id"
	"agenthub.app/bridge/internal/model"
)

const (
	insertTurn = `INSERT INTO conversation_turns (id, conversation_key, lead_id, role, content, source, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

	selectByKey = `SELECT id, conversation_key, lead_id, role, content, source, created_at
FROM conversation_turns
WHERE conversation_key = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`

	selectByLead = `SELECT id, conversation_key, lead_id, role, content, source, created_at
FROM conversation_turns
WHERE lead_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`
)

type pgTranscriptStore struct {
	pool *pgxpool.Pool
}

func newPGTranscriptStore(pool *pgxpool.Pool) TranscriptStore {
	return &pgTranscriptStore{pool: pool}
}

func (s *pgTranscriptStore) Backend() string { return "postgres" }

func (s *pgTranscriptStore) Append(ctx context.Context, entries ...model.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range prepare(entries) {
		batch.Queue(insertTurn, e.ID, e.ConversationKey, e.LeadID, string(e.Role), e.Content, e.Source, e.CreatedAt)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting transcript: %w", err)
	}
	return nil
}

func (s *pgTranscriptStore) ForConversation(ctx context.Context, key string, limit int) ([]model.TranscriptEntry, error) {
	return s.list(ctx, selectByKey, key, limit)
}

func (s *pgTranscriptStore) ForLead(ctx context.Context, leadID int64, limit int) ([]model.TranscriptEntry, error) {
	return s.list(ctx, selectByLead, leadID, limit)
}

func (s *pgTranscriptStore) list(ctx context.Context, query string, arg any, limit int) ([]model.TranscriptEntry, error) {
	rows, err := s.pool.Query(ctx, query, arg, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TranscriptEntry, error) {
		var (
			e    model.TranscriptEntry
			role string
		)
		err := row.Scan(&e.ID, &e.ConversationKey, &e.LeadID, &role, &e.Content, &e.Source, &e.CreatedAt)
		e.Role = model.Role(role)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning transcript: %w", err)
	}
	slices.Reverse(entries)
	return entries, nil
}

// prepare fills ids and timestamps. Entries appended together keep their
// order through strictly increasing created_at values.
func prepare(entries []model.TranscriptEntry) []model.TranscriptEntry {
	out := make([]model.TranscriptEntry, len(entries))
	now := time.Now().UTC()
	for i, e := range entries {
		if e.ID == 0 {
			e.ID = id.New()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now.Add(time.Duration(i) * time.Microsecond)
		}
		out[i] = e
	}
	return out
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 1000
	}
	return limit
}
