package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agenthub.app/bridge/internal/model"
)

const (
	sessionPrefix   = "session:"
	threadPrefix    = "thread:"
	processedPrefix = "processed:"
	lockPrefix      = "lock:"
)

type StoreConfig struct {
	SessionTTL   time.Duration
	ProcessedTTL time.Duration
	SystemPrompt string
}

// Store owns every persisted piece of conversation state: the session
// record, the assistant thread handle, processed message ids and locks.
type Store struct {
	kv  KV
	cfg StoreConfig
}

func NewStore(kv KV, cfg StoreConfig) *Store {
	return &Store{kv: kv, cfg: cfg}
}

// Load returns the session for key together with its raw stored form, which
// Save uses as the compare-and-swap witness. A missing session is created
// fresh with raw == "".
func (s *Store) Load(ctx context.Context, key string) (*model.Session, string, error) {
	raw, ok, err := s.kv.Get(ctx, sessionPrefix+key)
	if err != nil {
		return nil, "", fmt.Errorf("loading session: %w", err)
	}
	if !ok {
		return model.NewSession(key, s.cfg.SystemPrompt), "", nil
	}

	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		// A corrupt record must not wedge the conversation forever.
		return model.NewSession(key, s.cfg.SystemPrompt), raw, nil
	}
	return &sess, raw, nil
}

// Save writes sess only if the stored record still equals witness.
func (s *Store) Save(ctx context.Context, sess *model.Session, witness string) (string, bool, error) {
	data, err := json.Marshal(sess)
	if err != nil {
		return "", false, fmt.Errorf("encoding session: %w", err)
	}
	ok, err := s.kv.CompareAndSwap(ctx, sessionPrefix+sess.Key, witness, string(data), s.cfg.SessionTTL)
	if err != nil {
		return "", false, fmt.Errorf("saving session: %w", err)
	}
	return string(data), ok, nil
}

func (s *Store) Thread(ctx context.Context, key string) (string, error) {
	v, _, err := s.kv.Get(ctx, threadPrefix+key)
	if err != nil {
		return "", fmt.Errorf("loading thread: %w", err)
	}
	return v, nil
}

func (s *Store) SaveThread(ctx context.Context, key, threadID string) error {
	if err := s.kv.Set(ctx, threadPrefix+key, threadID, s.cfg.SessionTTL); err != nil {
		return fmt.Errorf("saving thread: %w", err)
	}
	return nil
}

func (s *Store) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	_, ok, err := s.kv.Get(ctx, processedPrefix+messageID)
	if err != nil {
		return false, fmt.Errorf("checking processed message: %w", err)
	}
	return ok, nil
}

// MarkProcessed records messageID and reports whether this call was first.
func (s *Store) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	first, err := s.kv.SetNX(ctx, processedPrefix+messageID, "1", s.cfg.ProcessedTTL)
	if err != nil {
		return false, fmt.Errorf("marking processed message: %w", err)
	}
	return first, nil
}

func (s *Store) Lock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := s.kv.SetNX(ctx, lockPrefix+key, token, ttl)
	if err != nil {
		return false, fmt.Errorf("acquiring lock: %w", err)
	}
	return ok, nil
}

func (s *Store) Unlock(ctx context.Context, key, token string) error {
	if _, err := s.kv.DeleteIfEquals(ctx, lockPrefix+key, token); err != nil {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}
