package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"agenthub.app/bridge/internal/model"
)

// redisTranscriptStore keeps one capped list per conversation and a second
// one per lead, each holding JSON entries in append order.
type redisTranscriptStore struct {
	client     redis.UniversalClient
	prefix     string
	maxEntries int64
	ttl        time.Duration
}

func newRedisTranscriptStore(client redis.UniversalClient, prefix string, maxEntries int64, ttl time.Duration) TranscriptStore {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &redisTranscriptStore{client: client, prefix: prefix, maxEntries: maxEntries, ttl: ttl}
}

func (s *redisTranscriptStore) Backend() string { return "redis" }

func (s *redisTranscriptStore) keyFor(conversation string) string {
	return s.prefix + "conv:" + conversation
}

func (s *redisTranscriptStore) leadKey(leadID int64) string {
	return s.prefix + "conv:lead:" + strconv.FormatInt(leadID, 10)
}

func (s *redisTranscriptStore) Append(ctx context.Context, entries ...model.TranscriptEntry) error {
	if len(entries) == 0 {
		return nil
	}

	byKey := map[string][]any{}
	var order []string
	for _, e := range prepare(entries) {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding transcript entry: %w", err)
		}
		keys := []string{s.keyFor(e.ConversationKey)}
		if e.LeadID != nil {
			keys = append(keys, s.leadKey(*e.LeadID))
		}
		for _, k := range keys {
			if _, ok := byKey[k]; !ok {
				order = append(order, k)
			}
			byKey[k] = append(byKey[k], raw)
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, k := range order {
			pipe.RPush(ctx, k, byKey[k]...)
			pipe.LTrim(ctx, k, -s.maxEntries, -1)
			if s.ttl > 0 {
				pipe.Expire(ctx, k, s.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("appending transcript: %w", err)
	}
	return nil
}

func (s *redisTranscriptStore) ForConversation(ctx context.Context, key string, limit int) ([]model.TranscriptEntry, error) {
	return s.list(ctx, s.keyFor(key), limit)
}

func (s *redisTranscriptStore) ForLead(ctx context.Context, leadID int64, limit int) ([]model.TranscriptEntry, error) {
	return s.list(ctx, s.leadKey(leadID), limit)
}

func (s *redisTranscriptStore) list(ctx context.Context, key string, limit int) ([]model.TranscriptEntry, error) {
	raws, err := s.client.LRange(ctx, key, -int64(clampLimit(limit)), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	entries := make([]model.TranscriptEntry, 0, len(raws))
	for _, raw := range raws {
		var e model.TranscriptEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decoding transcript entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
