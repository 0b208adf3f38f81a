// Package pipeline runs one inbound message through filter, turn-taking,
// assistant and delivery. Every endpoint of the bridge calls Handle with its
// own Options.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agenthub.app/bridge/common/logger"
	"agenthub.app/bridge/internal/assistant"
	"agenthub.app/bridge/internal/delivery"
	"agenthub.app/bridge/internal/inbound"
	"agenthub.app/bridge/internal/model"
	"agenthub.app/bridge/internal/session"
	"agenthub.app/bridge/internal/store"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusIgnored Status = "ignored"
)

const (
	ReasonEmptyText      = "empty_text"
	ReasonSessionError   = "session_unavailable"
	ReasonAssistantError = "assistant_error"
	ReasonDeliveryFailed = "delivery_failed"
)

type Result struct {
	Status    Status `json:"status"`
	Reply     string `json:"reply,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Key       string `json:"conversation_key,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`
	Delivered bool   `json:"delivered"`
	Mechanism string `json:"mechanism,omitempty"`
}

type Options struct {
	Channel string
	TraceID string
	// Deliver pushes the reply through the Deliverer. When false the caller
	// returns Reply inline and the reply counts as delivered.
	Deliver bool
	// Target overrides the target derived from the message.
	Target *delivery.Target
	// Key overrides the conversation key derived from the message.
	Key string
}

type TurnGate interface {
	Begin(ctx context.Context, key string, msg inbound.Message) (*session.Turn, session.Decision, error)
	Finish(ctx context.Context, t *session.Turn, out session.Outcome) error
}

type Deliverer interface {
	Deliver(ctx context.Context, t delivery.Target, out delivery.Outgoing) (*delivery.Receipt, error)
}

// MessageLookup fetches the text of a lead's latest message when a webhook
// names the lead but carries no text.
type MessageLookup interface {
	AwaitLatestMessage(ctx context.Context, leadID int64, attempts int, interval time.Duration, accept func(string) bool) (string, error)
}

type Config struct {
	FallbackReply  string
	EmptyReply     string
	InvokeTimeout  time.Duration
	LookupAttempts int
	LookupInterval time.Duration
}

type Deps struct {
	Filter      *inbound.Filter
	Gate        TurnGate
	Invoker     assistant.Invoker
	Deliverer   Deliverer             // optional
	Transcripts store.TranscriptStore // optional
	Lookup      MessageLookup         // optional
}

type Pipeline struct {
	deps Deps
	cfg  Config
}

func New(deps Deps, cfg Config) *Pipeline {
	return &Pipeline{deps: deps, cfg: cfg}
}

// Handle never surfaces an assistant failure as an error: the caller gets a
// fail result carrying the fallback reply. The returned error reports
// infrastructure problems (session store down) for logging only.
func (p *Pipeline) Handle(ctx context.Context, msg inbound.Message, opts Options) (*Result, error) {
	sc := logger.StartSpan(ctx, "pipeline.handle")
	defer sc.End()

	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		LeadID:    nonEmpty(msg.LeadID),
		MessageID: nonEmpty(msg.MessageID),
		TraceID:   nonEmpty(opts.TraceID),
		Channel:   nonEmpty(opts.Channel),
		Component: "bridge.pipeline",
	})

	if inbound.IsPlaceholder(msg.Text) {
		msg.Text = ""
	}
	msg.Text = strings.TrimSpace(msg.Text)

	if v := p.deps.Filter.Classify(msg); !v.Inbound {
		slog.InfoContext(ctx, "message is not from the end user, ignoring",
			"reason", v.Reason,
			"author_type", msg.AuthorType,
			"direction", msg.Direction)
		return &Result{Status: StatusIgnored, Reason: v.Reason}, nil
	}

	if msg.Text == "" {
		msg.Text = p.lookupText(ctx, msg)
	}
	if msg.Text == "" {
		slog.InfoContext(ctx, "message has no usable text, ignoring")
		return &Result{Status: StatusIgnored, Reason: ReasonEmptyText}, nil
	}

	key := opts.Key
	if key == "" {
		key = session.KeyFor(msg)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{ConversationKey: &key})
	sc.SetString("conversation.key", key)
	sc.SetString("bridge.channel", opts.Channel)

	turn, decision, err := p.deps.Gate.Begin(ctx, key, msg)
	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "session store unavailable", "error", err)
		return &Result{Status: StatusFail, Reason: ReasonSessionError, Key: key}, err
	}
	if decision != session.Accepted {
		slog.InfoContext(ctx, "turn not accepted, ignoring", "decision", decision)
		return &Result{Status: StatusIgnored, Reason: string(decision), Key: key}, nil
	}

	res := &Result{Status: StatusSuccess, Key: key}
	reply, invokeErr := p.invoke(ctx, turn, msg, opts)
	text := ""
	source := "fallback"
	if reply != nil {
		res.ThreadID = reply.ThreadID
		text = reply.Text
		source = reply.Source
	}
	failed := invokeErr != nil
	switch {
	case failed:
		sc.RecordError(invokeErr)
		slog.ErrorContext(ctx, "assistant failed, sending fallback reply",
			"error", invokeErr,
			"timeout", errors.Is(invokeErr, assistant.ErrUpstreamTimeout),
			"rejected", errors.Is(invokeErr, assistant.ErrUpstreamRejected),
			"tool_call", errors.Is(invokeErr, assistant.ErrUnsupportedToolCall))
		text = p.cfg.FallbackReply
		source = "fallback"
		res.Status = StatusFail
		res.Reason = ReasonAssistantError
	case strings.TrimSpace(text) == "":
		slog.WarnContext(ctx, "assistant returned an empty reply, using default")
		text = p.cfg.EmptyReply
		source = "default"
	}
	res.Reply = text

	res.Delivered = !opts.Deliver
	if opts.Deliver && p.deps.Deliverer != nil {
		target := delivery.TargetFor(msg)
		if opts.Target != nil {
			target = *opts.Target
		}
		receipt, err := p.deps.Deliverer.Deliver(ctx, target, delivery.Outgoing{Text: text, UserText: msg.Text, Failed: failed})
		if err != nil {
			res.Status = StatusFail
			res.Reason = ReasonDeliveryFailed
		} else {
			res.Delivered = true
			res.Mechanism = string(receipt.Mechanism)
		}
	}

	// The turn must end even if the caller went away.
	finishCtx := context.WithoutCancel(ctx)
	if err := p.deps.Gate.Finish(finishCtx, turn, session.Outcome{
		Reply:     text,
		ThreadID:  res.ThreadID,
		Failed:    failed,
		Delivered: res.Delivered,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to finish turn", "error", err)
	}

	p.record(finishCtx, key, msg, opts.Channel, text, source, res.Delivered)

	slog.InfoContext(ctx, "turn completed",
		"status", res.Status,
		"delivered", res.Delivered,
		"mechanism", res.Mechanism,
		"reply_preview", logger.Truncate(text, 80))
	return res, nil
}

func (p *Pipeline) invoke(ctx context.Context, turn *session.Turn, msg inbound.Message, opts Options) (*assistant.Reply, error) {
	if p.cfg.InvokeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.InvokeTimeout)
		defer cancel()
	}

	reply, err := p.deps.Invoker.Invoke(ctx, assistant.Request{
		Key:       turn.Key,
		Text:      msg.Text,
		History:   turn.Session.History,
		ThreadID:  turn.Session.ThreadID,
		LeadID:    msg.LeadID,
		ContactID: msg.ContactID,
		ChatID:    msg.ChatID,
		Subdomain: msg.Subdomain,
		TraceID:   opts.TraceID,
	})
	if err == nil && reply == nil {
		reply = &assistant.Reply{}
	}
	return reply, err
}

func (p *Pipeline) lookupText(ctx context.Context, msg inbound.Message) string {
	leadID := msg.LeadIDInt()
	if p.deps.Lookup == nil || leadID <= 0 || p.cfg.LookupAttempts <= 0 {
		return ""
	}
	text, err := p.deps.Lookup.AwaitLatestMessage(ctx, leadID, p.cfg.LookupAttempts, p.cfg.LookupInterval, func(s string) bool {
		return !inbound.IsPlaceholder(s)
	})
	if err != nil {
		slog.WarnContext(ctx, "latest message lookup failed", "error", err)
		return ""
	}
	if text != "" {
		slog.InfoContext(ctx, "recovered message text from lead", "text_preview", logger.Truncate(text, 80))
	}
	return strings.TrimSpace(text)
}

func (p *Pipeline) record(ctx context.Context, key string, msg inbound.Message, channel, reply, source string, delivered bool) {
	if p.deps.Transcripts == nil {
		return
	}
	var lead *int64
	if id := msg.LeadIDInt(); id > 0 {
		lead = &id
	}
	entries := []model.TranscriptEntry{{
		ConversationKey: key,
		LeadID:          lead,
		Role:            model.RoleUser,
		Content:         msg.Text,
		Source:          channel,
	}}
	if delivered {
		entries = append(entries, model.TranscriptEntry{
			ConversationKey: key,
			LeadID:          lead,
			Role:            model.RoleAssistant,
			Content:         reply,
			Source:          source,
		})
	}
	if err := p.deps.Transcripts.Append(ctx, entries...); err != nil {
		slog.WarnContext(ctx, "failed to record transcript", "error", err)
	}
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
