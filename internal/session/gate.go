package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"agenthub.app/bridge/common/id"
	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/model"
)

// Decision is the outcome of Gate.Begin.
type Decision string

const (
	Accepted         Decision = "accepted"
	Busy             Decision = "busy"
	DuplicateMessage Decision = "duplicate_message"
	DuplicateText    Decision = "duplicate_text"
	Echo             Decision = "echo"
	Throttled        Decision = "reply_throttle"
)

type GateConfig struct {
	HistoryPairs       int
	LockTTL            time.Duration
	DuplicateWindow    time.Duration
	ReplyThrottle      time.Duration
	ProcessingDeadline time.Duration
}

// Turn is an accepted trigger. It must be closed with Gate.Finish.
type Turn struct {
	Key      string
	Session  *model.Session
	UserText string
	witness  string
	started  time.Time
}

// Outcome reports how an accepted turn ended.
type Outcome struct {
	Reply     string
	ThreadID  string
	Failed    bool // the reply is a fallback, not assistant output
	Delivered bool
}

// Gate implements the AwaitingUser -> Processing -> AwaitingUser cycle.
type Gate struct {
	store *Store
	cfg   GateConfig
	now   func() time.Time
}

func NewGate(store *Store, cfg GateConfig) *Gate {
	return &Gate{store: store, cfg: cfg, now: time.Now}
}

// Begin decides whether msg may start a new assistant turn for key. On
// Accepted the session is persisted in the Processing state.
func (g *Gate) Begin(ctx context.Context, key string, msg inbound.Message) (*Turn, Decision, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "bridge.session.gate"})

	token := id.NewString()
	locked, err := g.store.Lock(ctx, key, token, g.cfg.LockTTL)
	if err != nil {
		return nil, "", err
	}
	if !locked {
		return nil, Busy, nil
	}
	defer func() {
		if err := g.store.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			slog.WarnContext(ctx, "failed to release conversation lock", "error", err)
		}
	}()

	if msg.MessageID != "" {
		seen, err := g.store.IsProcessed(ctx, msg.MessageID)
		if err != nil {
			return nil, "", err
		}
		if seen {
			return nil, DuplicateMessage, nil
		}
	}

	sess, witness, err := g.store.Load(ctx, key)
	if err != nil {
		return nil, "", err
	}

	now := g.now()
	if !sess.AwaitingUser {
		if now.Sub(sess.ProcessingSince) < g.cfg.ProcessingDeadline {
			return nil, Busy, nil
		}
		slog.WarnContext(ctx, "recovering session stuck in processing",
			"processing_since", sess.ProcessingSince)
	}

	text := NormalizeText(msg.Text)
	if text == NormalizeText(sess.LastUserText) && within(now, sess.LastUserAt, g.cfg.DuplicateWindow) {
		return nil, DuplicateText, nil
	}
	if sess.LastReplyText != "" && text == NormalizeText(sess.LastReplyText) && within(now, sess.LastReplyAt, g.cfg.DuplicateWindow) {
		return nil, Echo, nil
	}
	// A trigger with an unseen message id is a new customer message; the
	// throttle only holds back id-less triggers such as lead status hooks.
	if msg.MessageID == "" && within(now, sess.LastReplyAt, g.cfg.ReplyThrottle) {
		return nil, Throttled, nil
	}

	if msg.MessageID != "" {
		first, err := g.store.MarkProcessed(ctx, msg.MessageID)
		if err != nil {
			return nil, "", err
		}
		if !first {
			return nil, DuplicateMessage, nil
		}
	}

	sess.AwaitingUser = false
	sess.ProcessingSince = now
	sess.LastUserText = msg.Text
	sess.LastUserAt = now
	sess.UpdatedAt = now
	sess.Append(model.Turn{Role: model.RoleUser, Content: msg.Text, At: now}, g.cfg.HistoryPairs)

	raw, ok, err := g.store.Save(ctx, sess, witness)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, Busy, nil
	}

	return &Turn{Key: key, Session: sess, UserText: msg.Text, witness: raw, started: now}, Accepted, nil
}

// Finish returns the session to AwaitingUser. It must run even when the
// request context is gone, so callers pass a context without cancellation.
func (g *Gate) Finish(ctx context.Context, t *Turn, out Outcome) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "bridge.session.gate"})

	now := g.now()
	sess := t.Session
	sess.AwaitingUser = true
	sess.ProcessingSince = time.Time{}
	sess.UpdatedAt = now
	if out.ThreadID != "" {
		sess.ThreadID = out.ThreadID
	}
	if !out.Failed && out.Reply != "" {
		sess.Append(model.Turn{Role: model.RoleAssistant, Content: out.Reply, At: now}, g.cfg.HistoryPairs)
	}
	if out.Reply != "" && out.Delivered {
		sess.LastReplyText = out.Reply
		sess.LastReplyAt = now
	}

	_, ok, err := g.store.Save(ctx, sess, t.witness)
	if err != nil {
		return fmt.Errorf("finishing turn: %w", err)
	}
	if !ok {
		slog.WarnContext(ctx, "session changed while processing, keeping newer state",
			"turn_duration_ms", now.Sub(t.started).Milliseconds())
	}
	return nil
}

func within(now, at time.Time, window time.Duration) bool {
	return !at.IsZero() && now.Sub(at) < window
}
