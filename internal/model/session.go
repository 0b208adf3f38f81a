package model

import "time"

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Turn struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at,omitzero"`
}

type SessionState string

const (
	StateAwaitingUser SessionState = "awaiting_user"
	StateProcessing   SessionState = "processing"
)

// Session is the persisted per-conversation record. It is serialized as JSON
// into the session KV and compared byte-for-byte on compare-and-swap.
type Session struct {
	Key             string    `json:"key"`
	History         []Turn    `json:"history"`
	AwaitingUser    bool      `json:"awaitingUser"`
	LastUserText    string    `json:"lastUserText,omitempty"`
	LastUserAt      time.Time `json:"lastUserAt,omitzero"`
	LastReplyText   string    `json:"lastReplyText,omitempty"`
	LastReplyAt     time.Time `json:"lastReplyAt,omitzero"`
	ProcessingSince time.Time `json:"processingSince,omitzero"`
	ThreadID        string    `json:"threadId,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt,omitzero"`
}

// NewSession returns a fresh session awaiting the user. A non-empty system
// prompt becomes History[0].
func NewSession(key, systemPrompt string) *Session {
	s := &Session{Key: key, AwaitingUser: true}
	if systemPrompt != "" {
		s.History = []Turn{{Role: RoleSystem, Content: systemPrompt}}
	}
	return s
}

func (s *Session) State() SessionState {
	if s.AwaitingUser {
		return StateAwaitingUser
	}
	return StateProcessing
}

// Append adds a turn and keeps at most maxPairs user/assistant pairs after the
// system instruction. maxPairs <= 0 disables trimming.
func (s *Session) Append(turn Turn, maxPairs int) {
	s.History = append(s.History, turn)
	if maxPairs <= 0 {
		return
	}

	var system []Turn
	rest := s.History
	if len(rest) > 0 && rest[0].Role == RoleSystem {
		system, rest = rest[:1], rest[1:]
	}
	if limit := maxPairs * 2; len(rest) > limit {
		rest = rest[len(rest)-limit:]
	}
	s.History = append(append([]Turn{}, system...), rest...)
}

// Conversation returns the history without the system instruction.
func (s *Session) Conversation() []Turn {
	if len(s.History) > 0 && s.History[0].Role == RoleSystem {
		return s.History[1:]
	}
	return s.History
}
